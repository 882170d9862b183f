package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
)

var log = logging.L("device")

type Kind string

const (
	Microphone Kind = "microphone"
	Camera     Kind = "camera"
)

// Info describes one selectable device.
type Info struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Kind  Kind   `json:"kind"`
}

// Constraints carry the acquisition hints a driver should honor on Open.
// Audio processing flags apply to microphones, the ideal size to cameras.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	IdealWidth       int
	IdealHeight      int
}

// Driver is one openable device, registered by a platform backend.
type Driver interface {
	Info() Info
	Open(ctx context.Context, c Constraints) (*media.Source, error)
}

// Devices is the enumeration result consumed by the view layer.
type Devices struct {
	Microphones []Info `json:"microphones"`
	Cameras     []Info `json:"cameras"`
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Driver)
)

// Register adds a driver. A driver with the same device ID replaces the
// previous registration.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.Info().ID] = d
}

// Reset clears the registry. Used by tests.
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Driver)
}

// Lookup resolves a driver by device ID.
func Lookup(id string) (Driver, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[id]
	return d, ok
}

// Enumerate lists registered microphones and cameras. Best-effort: it never
// fails; platforms that withhold labels before a permission grant get a
// synthesized one from the device kind and truncated ID.
func Enumerate() Devices {
	registryMu.RLock()
	defer registryMu.RUnlock()

	var out Devices
	for _, d := range registry {
		info := d.Info()
		if info.ID == "" {
			log.Warn("skipping driver with empty device ID", "kind", info.Kind)
			continue
		}
		if info.Label == "" {
			info.Label = FallbackLabel(info.Kind, info.ID)
		}
		switch info.Kind {
		case Microphone:
			out.Microphones = append(out.Microphones, info)
		case Camera:
			out.Cameras = append(out.Cameras, info)
		default:
			log.Warn("skipping driver with unknown kind", "kind", info.Kind, "id", info.ID)
		}
	}
	return out
}

// FallbackLabel synthesizes a human-readable label when the platform
// withholds the real one.
func FallbackLabel(kind Kind, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s %s", kind, short)
}
