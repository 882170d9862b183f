package capture

import (
	"context"
	"errors"
	"testing"

	"github.com/reelcast/agent/internal/device"
)

func TestAcquireDisplayWithoutBackend(t *testing.T) {
	RegisterDisplayBackend(nil)
	t.Cleanup(func() { RegisterDisplayBackend(nil) })

	_, err := AcquireDisplay(context.Background(), DisplayRequest{})
	if !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestAcquireSyntheticDisplayWithAudio(t *testing.T) {
	UseSyntheticDisplay(320, 180, 30, 300)
	t.Cleanup(func() { RegisterDisplayBackend(nil) })

	src, err := AcquireDisplay(context.Background(), DisplayRequest{WithAudio: true})
	if err != nil {
		t.Fatalf("AcquireDisplay: %v", err)
	}
	defer src.Close()

	if len(src.VideoTracks()) != 1 {
		t.Fatalf("video tracks = %d, want 1", len(src.VideoTracks()))
	}
	if len(src.AudioTracks()) != 1 {
		t.Fatalf("audio tracks = %d, want 1 (system audio requested)", len(src.AudioTracks()))
	}
}

func TestAcquireMicrophoneUnknownDevice(t *testing.T) {
	device.Reset()
	t.Cleanup(device.Reset)

	_, err := AcquireMicrophone(context.Background(), "nope")
	if !errors.Is(err, ErrAcquisitionFailed) {
		t.Fatalf("err = %v, want ErrAcquisitionFailed", err)
	}
}

func TestAcquireCameraSynthetic(t *testing.T) {
	device.Reset()
	t.Cleanup(device.Reset)
	device.RegisterSynthetic(440)

	src, err := AcquireCamera(context.Background(), "synthetic-cam")
	if err != nil {
		t.Fatalf("AcquireCamera: %v", err)
	}
	defer src.Close()

	if w, h := src.VideoTracks()[0].Dimensions(); w != 640 || h != 480 {
		t.Fatalf("camera dimensions = %dx%d, want ideal 640x480", w, h)
	}
}
