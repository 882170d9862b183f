package media

import (
	"sync"

	"github.com/google/uuid"
)

// VideoPipe is the in-process VideoTrack implementation. Producers push
// frames; a slow consumer only ever sees the most recent frame (buffer of
// one, latest wins). Closing the pipe ends the track and fires the
// end-of-stream observers.
type VideoPipe struct {
	id    string
	label string

	mu       sync.Mutex
	frames   chan VideoFrame
	width    int
	height   int
	closed   bool
	endedFns []func()
}

func NewVideoPipe(label string) *VideoPipe {
	return &VideoPipe{
		id:     uuid.NewString(),
		label:  label,
		frames: make(chan VideoFrame, 1),
	}
}

func (p *VideoPipe) ID() string      { return p.id }
func (p *VideoPipe) Kind() TrackKind { return KindVideo }
func (p *VideoPipe) Label() string   { return p.label }

func (p *VideoPipe) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *VideoPipe) Dimensions() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.width, p.height
}

// SetDimensions announces the track's natural size ahead of the first frame.
func (p *VideoPipe) SetDimensions(width, height int) {
	p.mu.Lock()
	p.width = width
	p.height = height
	p.mu.Unlock()
}

func (p *VideoPipe) Frames() <-chan VideoFrame { return p.frames }

// Push delivers a frame, evicting an unconsumed older frame if needed.
// Pushes after Close are dropped.
func (p *VideoPipe) Push(f VideoFrame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.width == 0 && f.Width > 0 {
		p.width = f.Width
		p.height = f.Height
	}
	for {
		select {
		case p.frames <- f:
			return
		default:
		}
		select {
		case <-p.frames:
		default:
		}
	}
}

func (p *VideoPipe) OnEnded(fn func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		fn()
		return
	}
	p.endedFns = append(p.endedFns, fn)
	p.mu.Unlock()
}

func (p *VideoPipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	fns := p.endedFns
	p.endedFns = nil
	close(p.frames)
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// AudioPipe is the in-process AudioTrack implementation. The block queue is
// bounded; when a consumer lags, the oldest block is dropped rather than
// blocking the producer.
type AudioPipe struct {
	id    string
	label string

	mu     sync.Mutex
	blocks chan AudioBlock
	closed bool
}

const audioPipeDepth = 32

func NewAudioPipe(label string) *AudioPipe {
	return &AudioPipe{
		id:     uuid.NewString(),
		label:  label,
		blocks: make(chan AudioBlock, audioPipeDepth),
	}
}

func (p *AudioPipe) ID() string      { return p.id }
func (p *AudioPipe) Kind() TrackKind { return KindAudio }
func (p *AudioPipe) Label() string   { return p.label }

func (p *AudioPipe) Live() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.closed
}

func (p *AudioPipe) Blocks() <-chan AudioBlock { return p.blocks }

func (p *AudioPipe) Push(b AudioBlock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for {
		select {
		case p.blocks <- b:
			return
		default:
		}
		select {
		case <-p.blocks:
		default:
		}
	}
}

func (p *AudioPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.blocks)
	return nil
}
