package media

import (
	"math"
	"time"
)

// Synthetic tracks back the test-pattern display/camera and tone microphone
// used by tests, the doctor command, and --synthetic runs.

// NewTestPatternTrack produces a moving-bar RGBA pattern at the given size
// and rate. The generator stops when the returned track is closed.
func NewTestPatternTrack(label string, width, height, fps int) *VideoPipe {
	pipe := NewVideoPipe(label)
	pipe.SetDimensions(width, height)

	done := make(chan struct{})
	pipe.OnEnded(func() { close(done) })

	go func() {
		ticker := time.NewTicker(time.Second / time.Duration(fps))
		defer ticker.Stop()

		stride := width * 4
		var tick int
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				data := make([]byte, stride*height)
				barX := (tick * 8) % width
				for y := 0; y < height; y++ {
					row := data[y*stride : (y+1)*stride]
					for x := 0; x < width; x++ {
						px := row[x*4 : x*4+4]
						if x >= barX && x < barX+16 {
							px[0], px[1], px[2] = 0xFF, 0xFF, 0xFF
						} else {
							px[0], px[1], px[2] = 0x10, 0x30, 0x60
						}
						px[3] = 0xFF
					}
				}
				pipe.Push(VideoFrame{
					Width:     width,
					Height:    height,
					Stride:    stride,
					Data:      data,
					Timestamp: now,
				})
				tick++
			}
		}
	}()

	return pipe
}

// NewToneTrack produces a continuous sine tone at the given frequency and
// amplitude (0..1). The generator stops when the returned track is closed.
func NewToneTrack(label string, freq, amplitude float64) *AudioPipe {
	pipe := NewAudioPipe(label)

	go func() {
		ticker := time.NewTicker(BlockDuration)
		defer ticker.Stop()

		var phase float64
		step := 2 * math.Pi * freq / float64(SampleRate)
		peak := amplitude * float64(math.MaxInt16)
		for {
			if !pipe.Live() {
				return
			}
			now := <-ticker.C
			samples := make([]int16, SamplesPerBlock)
			for i := range samples {
				samples[i] = int16(peak * math.Sin(phase))
				phase += step
				if phase > 2*math.Pi {
					phase -= 2 * math.Pi
				}
			}
			pipe.Push(AudioBlock{Samples: samples, Timestamp: now})
		}
	}()

	return pipe
}
