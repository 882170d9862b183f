package encoder

import (
	"fmt"
	"sync"

	"github.com/reelcast/agent/internal/media"
)

// Pipeline drives one encoding session: engine selection, ordered chunk
// accumulation, and the flush on Stop. Chunks are opaque and only meaningful
// concatenated in arrival order.
type Pipeline struct {
	engine Engine

	mu     sync.Mutex
	chunks [][]byte
	size   int

	failures chan error
	stopOnce sync.Once
	stopErr  error
	artifact *Artifact
}

// StartPipeline probes for an engine per cfg and begins encoding the stream.
func StartPipeline(stream *media.Source, cfg Config) (*Pipeline, error) {
	if stream == nil {
		return nil, fmt.Errorf("start pipeline: nil stream")
	}
	engine, err := probeEngine(cfg)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		engine:   engine,
		failures: make(chan error, 1),
	}
	if err := engine.Start(stream, p.append, p.fail); err != nil {
		return nil, fmt.Errorf("start engine %s: %w", engine.MimeType(), err)
	}
	log.Info("encoding started", "mime", engine.MimeType(),
		"bitrate", cfg.TargetBitrate, "chunk_interval", cfg.ChunkInterval)
	return p, nil
}

// MimeType reports the negotiated container type.
func (p *Pipeline) MimeType() string { return p.engine.MimeType() }

// Failures delivers at most one mid-session engine error. The session is
// unusable once a failure is reported; the caller is expected to tear down.
func (p *Pipeline) Failures() <-chan error { return p.failures }

// ChunkCount reports how many chunks have arrived so far.
func (p *Pipeline) ChunkCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chunks)
}

// Size reports the total bytes accumulated so far.
func (p *Pipeline) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Stop flushes the engine and assembles the artifact. Calling Stop again
// returns the same result.
func (p *Pipeline) Stop() (*Artifact, error) {
	p.stopOnce.Do(func() {
		if err := p.engine.Stop(); err != nil {
			p.stopErr = fmt.Errorf("%w: %v", ErrEncodingFailure, err)
			return
		}
		p.mu.Lock()
		data := make([]byte, 0, p.size)
		for _, c := range p.chunks {
			data = append(data, c...)
		}
		chunks := len(p.chunks)
		p.chunks = nil
		p.mu.Unlock()
		p.artifact = &Artifact{Data: data, MimeType: p.engine.MimeType()}
		log.Info("encoding stopped", "mime", p.engine.MimeType(),
			"chunks", chunks, "bytes", len(data))
	})
	return p.artifact, p.stopErr
}

func (p *Pipeline) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.size += len(chunk)
	p.mu.Unlock()
}

func (p *Pipeline) fail(err error) {
	select {
	case p.failures <- fmt.Errorf("%w: %v", ErrEncodingFailure, err):
	default:
	}
}
