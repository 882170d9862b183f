package capture

import (
	"context"

	"github.com/reelcast/agent/internal/media"
)

// syntheticDisplay serves --synthetic runs, the doctor command, and tests.
type syntheticDisplay struct {
	width  int
	height int
	fps    int
	tone   float64
}

func (s *syntheticDisplay) Name() string { return "synthetic" }

func (s *syntheticDisplay) Acquire(ctx context.Context, req DisplayRequest) (*media.Source, error) {
	video := media.NewTestPatternTrack("synthetic display", s.width, s.height, s.fps)

	var audio []media.AudioTrack
	if req.WithAudio {
		audio = []media.AudioTrack{media.NewToneTrack("synthetic system audio", s.tone, 0.2)}
	}
	return media.NewSource("Synthetic Display", []media.VideoTrack{video}, audio), nil
}

// UseSyntheticDisplay installs a generated display backend emitting a
// moving test pattern and a system-audio tone.
func UseSyntheticDisplay(width, height, fps int, toneFreq float64) {
	RegisterDisplayBackend(&syntheticDisplay{width: width, height: height, fps: fps, tone: toneFreq})
}
