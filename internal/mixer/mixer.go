// Package mixer merges any number of audio sources into one mixed track.
package mixer

import (
	"errors"
	"sync"
	"time"

	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
)

var log = logging.L("mixer")

// ErrNoAudioTracks is returned when none of the given sources carry audio.
var ErrNoAudioTracks = errors.New("no audio tracks to mix")

// maxBuffered bounds the per-input backlog to half a second of samples;
// anything older is dropped so one stalled consumer cannot grow memory.
const maxBuffered = media.SampleRate / 2

// Graph owns the processing goroutines and the shared destination of one
// mix. It must be closed by whoever tears the session down.
type Graph struct {
	mu      sync.Mutex
	started bool
	quit    chan struct{}
	wg      sync.WaitGroup
	out     *media.AudioPipe

	closeOnce sync.Once
}

type input struct {
	track media.AudioTrack

	mu  sync.Mutex
	buf []int16
}

func New() *Graph {
	return &Graph{quit: make(chan struct{})}
}

// Mix routes every audio-bearing track across the given sources into a
// single destination and returns it as a new source. The output is the
// saturating sum of all inputs; no gain normalization is applied. Inputs
// that lag behind the mix clock are padded with silence.
func (g *Graph) Mix(sources ...*media.Source) (*media.Source, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return nil, errors.New("mixer graph already started")
	}

	var inputs []*input
	for _, src := range sources {
		for _, t := range src.AudioTracks() {
			inputs = append(inputs, &input{track: t})
		}
	}
	if len(inputs) == 0 {
		return nil, ErrNoAudioTracks
	}

	g.started = true
	g.out = media.NewAudioPipe("mixed audio")

	for _, in := range inputs {
		g.wg.Add(1)
		go g.pump(in)
	}
	g.wg.Add(1)
	go g.mixLoop(inputs)

	log.Debug("mix started", "inputs", len(inputs))
	return media.NewSource("mixed audio", nil, []media.AudioTrack{g.out}), nil
}

// pump drains one input track into its buffer until the track ends or the
// graph closes.
func (g *Graph) pump(in *input) {
	defer g.wg.Done()
	for {
		select {
		case <-g.quit:
			return
		case b, ok := <-in.track.Blocks():
			if !ok {
				return
			}
			in.mu.Lock()
			in.buf = append(in.buf, b.Samples...)
			if len(in.buf) > maxBuffered {
				in.buf = in.buf[len(in.buf)-maxBuffered:]
			}
			in.mu.Unlock()
		}
	}
}

func (g *Graph) mixLoop(inputs []*input) {
	defer g.wg.Done()

	ticker := time.NewTicker(media.BlockDuration)
	defer ticker.Stop()

	acc := make([]int32, media.SamplesPerBlock)
	for {
		select {
		case <-g.quit:
			return
		case now := <-ticker.C:
			for i := range acc {
				acc[i] = 0
			}
			for _, in := range inputs {
				in.mu.Lock()
				n := len(in.buf)
				if n > media.SamplesPerBlock {
					n = media.SamplesPerBlock
				}
				for i := 0; i < n; i++ {
					acc[i] += int32(in.buf[i])
				}
				in.buf = in.buf[n:]
				in.mu.Unlock()
			}

			mixed := make([]int16, media.SamplesPerBlock)
			for i, v := range acc {
				if v > 32767 {
					v = 32767
				} else if v < -32768 {
					v = -32768
				}
				mixed[i] = int16(v)
			}
			g.out.Push(media.AudioBlock{Samples: mixed, Timestamp: now})
		}
	}
}

// Close tears the graph down: stops the pumps and the mix loop and closes
// the destination. Idempotent.
func (g *Graph) Close() error {
	g.closeOnce.Do(func() {
		close(g.quit)
		g.wg.Wait()
		g.mu.Lock()
		if g.out != nil {
			g.out.Close()
		}
		g.mu.Unlock()
	})
	return nil
}
