// Package capture acquires live media sources: the display surface, a
// microphone, and a camera. Display capture goes through a pluggable
// backend registered by a platform implementation; microphones and cameras
// resolve through the device registry.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/reelcast/agent/internal/device"
	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
)

var log = logging.L("capture")

var (
	// ErrPermissionDenied means the user or platform refused access to a
	// display, microphone, or camera.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrAcquisitionFailed means a source could not be obtained for a
	// non-permission reason.
	ErrAcquisitionFailed = errors.New("source acquisition failed")
	// ErrNotSupported means no display capture backend exists on this
	// platform build.
	ErrNotSupported = errors.New("display capture not supported")
)

// DisplayRequest describes the wanted capture region. System audio is
// best-effort: a backend that cannot deliver it still succeeds video-only.
type DisplayRequest struct {
	WithAudio bool
}

// DisplayBackend is implemented per platform. Acquire returns a live source
// carrying one video track and, best-effort, one audio track.
type DisplayBackend interface {
	Name() string
	Acquire(ctx context.Context, req DisplayRequest) (*media.Source, error)
}

var (
	backendMu      sync.RWMutex
	displayBackend DisplayBackend
)

// RegisterDisplayBackend installs the platform backend. The last
// registration wins.
func RegisterDisplayBackend(b DisplayBackend) {
	backendMu.Lock()
	defer backendMu.Unlock()
	displayBackend = b
}

// ActiveBackend returns the name of the installed display backend, or ""
// when the platform has none.
func ActiveBackend() string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	if displayBackend == nil {
		return ""
	}
	return displayBackend.Name()
}

// AcquireDisplay obtains the display/window/tab source. Fatal on failure:
// the caller must roll back and surface the error.
func AcquireDisplay(ctx context.Context, req DisplayRequest) (*media.Source, error) {
	backendMu.RLock()
	backend := displayBackend
	backendMu.RUnlock()

	if backend == nil {
		return nil, ErrNotSupported
	}
	src, err := backend.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(src.VideoTracks()) == 0 {
		src.Close()
		return nil, fmt.Errorf("%w: backend %s returned no video track", ErrAcquisitionFailed, backend.Name())
	}
	if req.WithAudio && len(src.AudioTracks()) == 0 {
		log.Info("display source has no system audio, continuing without it", "backend", backend.Name())
	}
	return src, nil
}

// AcquireMicrophone opens the given microphone with echo cancellation,
// noise suppression, and automatic gain enabled.
func AcquireMicrophone(ctx context.Context, deviceID string) (*media.Source, error) {
	d, ok := device.Lookup(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown microphone %q", ErrAcquisitionFailed, deviceID)
	}
	src, err := d.Open(ctx, device.Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	})
	if err != nil {
		return nil, err
	}
	if len(src.AudioTracks()) == 0 {
		src.Close()
		return nil, fmt.Errorf("%w: microphone %q produced no audio track", ErrAcquisitionFailed, deviceID)
	}
	return src, nil
}

// AcquireCamera opens the given camera at an ideal 640x480.
func AcquireCamera(ctx context.Context, deviceID string) (*media.Source, error) {
	d, ok := device.Lookup(deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown camera %q", ErrAcquisitionFailed, deviceID)
	}
	src, err := d.Open(ctx, device.Constraints{
		IdealWidth:  640,
		IdealHeight: 480,
	})
	if err != nil {
		return nil, err
	}
	if len(src.VideoTracks()) == 0 {
		src.Close()
		return nil, fmt.Errorf("%w: camera %q produced no video track", ErrAcquisitionFailed, deviceID)
	}
	return src, nil
}
