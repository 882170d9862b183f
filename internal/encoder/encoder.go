// Package encoder turns a combined audio/video source into a finished
// media artifact. The actual encoding capability is an Engine selected by
// probing a mime-type preference list against registered engine factories;
// the Pipeline around it owns chunk accumulation and the session lifecycle.
package encoder

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
)

var log = logging.L("encoder")

// ErrEncodingFailure wraps engine errors reported during an active session.
var ErrEncodingFailure = errors.New("encoding failure")

// ErrNoSupportedType means no registered engine supports any entry of the
// mime preference list.
var ErrNoSupportedType = errors.New("no supported media type")

// Config mirrors what the platform encoding primitive accepts.
type Config struct {
	MimePreferences []string
	TargetBitrate   int
	ChunkInterval   time.Duration
	FrameRate       int
}

// Artifact is the immutable result of a completed session.
type Artifact struct {
	Data     []byte
	MimeType string
}

// Engine is one encoding capability. Start begins consuming the stream and
// delivers encoded chunks in order through emit; mid-session failures are
// reported through fail. Stop flushes pending output (emitting a final
// chunk) and releases the engine.
type Engine interface {
	MimeType() string
	Start(stream *media.Source, emit func([]byte), fail func(error)) error
	Stop() error
}

// Factory builds an engine for one mime type, or reports that the type is
// unsupported in this build.
type Factory func(mime string, cfg Config) (Engine, error)

var (
	factoriesMu sync.Mutex
	factories   = make(map[string]Factory)
)

// RegisterEngine installs a factory for a mime type string.
func RegisterEngine(mime string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[mime] = f
}

// probeEngine walks the preference list in order and returns the first
// engine a factory can actually construct.
func probeEngine(cfg Config) (Engine, error) {
	factoriesMu.Lock()
	snapshot := make(map[string]Factory, len(factories))
	for k, v := range factories {
		snapshot[k] = v
	}
	factoriesMu.Unlock()

	for _, mime := range cfg.MimePreferences {
		f, ok := snapshot[mime]
		if !ok {
			continue
		}
		engine, err := f(mime, cfg)
		if err != nil {
			log.Debug("engine unavailable", "mime", mime, "error", err)
			continue
		}
		return engine, nil
	}
	return nil, fmt.Errorf("%w: tried %v", ErrNoSupportedType, cfg.MimePreferences)
}
