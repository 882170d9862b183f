package mixer

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/reelcast/agent/internal/media"
)

// goertzelPower measures the energy of one frequency in a PCM buffer.
func goertzelPower(samples []int16, freq float64) float64 {
	k := 2 * math.Cos(2*math.Pi*freq/float64(media.SampleRate))
	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample)/32768 + k*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - k*s1*s2
}

func pushTone(p *media.AudioPipe, freq, amplitude float64, d time.Duration) {
	total := int(float64(media.SampleRate) * d.Seconds())
	step := 2 * math.Pi * freq / float64(media.SampleRate)
	var phase float64
	for off := 0; off < total; off += media.SamplesPerBlock {
		samples := make([]int16, media.SamplesPerBlock)
		for i := range samples {
			samples[i] = int16(amplitude * 32767 * math.Sin(phase))
			phase += step
		}
		p.Push(media.AudioBlock{Samples: samples})
	}
}

func collect(t *testing.T, out media.AudioTrack, blocks int) []int16 {
	t.Helper()
	var samples []int16
	deadline := time.After(5 * time.Second)
	for i := 0; i < blocks; i++ {
		select {
		case b, ok := <-out.Blocks():
			if !ok {
				t.Fatal("mixed track closed early")
			}
			samples = append(samples, b.Samples...)
		case <-deadline:
			t.Fatalf("timed out after %d of %d blocks", i, blocks)
		}
	}
	return samples
}

func TestMixCombinesDistinctTones(t *testing.T) {
	low := media.NewAudioPipe("low")
	high := media.NewAudioPipe("high")
	srcA := media.NewSource("a", nil, []media.AudioTrack{low})
	srcB := media.NewSource("b", nil, []media.AudioTrack{high})
	defer srcA.Close()
	defer srcB.Close()

	g := New()
	defer g.Close()

	mixed, err := g.Mix(srcA, srcB)
	if err != nil {
		t.Fatalf("Mix: %v", err)
	}

	pushTone(low, 200, 0.4, 500*time.Millisecond)
	pushTone(high, 800, 0.4, 500*time.Millisecond)

	out := mixed.AudioTracks()[0]
	// Skip the first blocks: mix ticks that fired before the tones were
	// buffered contain silence padding.
	collect(t, out, 2)
	samples := collect(t, out, 10)

	p200 := goertzelPower(samples, 200)
	p800 := goertzelPower(samples, 800)
	p500 := goertzelPower(samples, 500)

	if p200 < 100*p500 {
		t.Fatalf("200 Hz tone not detectable in mix: p200=%g p500=%g", p200, p500)
	}
	if p800 < 100*p500 {
		t.Fatalf("800 Hz tone not detectable in mix: p800=%g p500=%g", p800, p500)
	}
}

func TestMixWithNoAudioTracks(t *testing.T) {
	videoOnly := media.NewSource("display", []media.VideoTrack{media.NewVideoPipe("v")}, nil)
	defer videoOnly.Close()

	g := New()
	defer g.Close()

	_, err := g.Mix(videoOnly)
	if !errors.Is(err, ErrNoAudioTracks) {
		t.Fatalf("err = %v, want ErrNoAudioTracks", err)
	}
}

func TestMixSaturatesInsteadOfWrapping(t *testing.T) {
	a := media.NewAudioPipe("a")
	b := media.NewAudioPipe("b")
	srcA := media.NewSource("a", nil, []media.AudioTrack{a})
	srcB := media.NewSource("b", nil, []media.AudioTrack{b})
	defer srcA.Close()
	defer srcB.Close()

	g := New()
	defer g.Close()

	mixed, err := g.Mix(srcA, srcB)
	if err != nil {
		t.Fatalf("Mix: %v", err)
	}

	loud := make([]int16, media.SamplesPerBlock)
	for i := range loud {
		loud[i] = 30000
	}
	for i := 0; i < 25; i++ {
		a.Push(media.AudioBlock{Samples: loud})
		b.Push(media.AudioBlock{Samples: loud})
	}

	out := mixed.AudioTracks()[0]
	collect(t, out, 2)
	samples := collect(t, out, 3)

	var peak int16
	for _, s := range samples {
		if s > peak {
			peak = s
		}
	}
	if peak != 32767 {
		t.Fatalf("peak = %d, want saturated 32767 (no wraparound)", peak)
	}
}

func TestCloseIdempotent(t *testing.T) {
	g := New()
	src := media.NewSource("a", nil, []media.AudioTrack{media.NewAudioPipe("a")})
	defer src.Close()
	if _, err := g.Mix(src); err != nil {
		t.Fatalf("Mix: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
