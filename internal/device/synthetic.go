package device

import (
	"context"

	"github.com/reelcast/agent/internal/media"
)

// Synthetic drivers produce generated media without touching hardware.
// They back --synthetic runs, the doctor command, and tests.

type syntheticMic struct {
	id    string
	label string
	freq  float64
}

func (m *syntheticMic) Info() Info {
	return Info{ID: m.id, Label: m.label, Kind: Microphone}
}

func (m *syntheticMic) Open(ctx context.Context, c Constraints) (*media.Source, error) {
	tone := media.NewToneTrack(m.label, m.freq, 0.3)
	return media.NewSource(m.label, nil, []media.AudioTrack{tone}), nil
}

type syntheticCam struct {
	id    string
	label string
}

func (c *syntheticCam) Info() Info {
	return Info{ID: c.id, Label: c.label, Kind: Camera}
}

func (c *syntheticCam) Open(ctx context.Context, con Constraints) (*media.Source, error) {
	w, h := con.IdealWidth, con.IdealHeight
	if w <= 0 || h <= 0 {
		w, h = 640, 480
	}
	pattern := media.NewTestPatternTrack(c.label, w, h, 30)
	return media.NewSource(c.label, []media.VideoTrack{pattern}, nil), nil
}

// RegisterSynthetic installs one synthetic microphone and one synthetic
// camera. The microphone emits a tone at the given frequency.
func RegisterSynthetic(toneFreq float64) {
	Register(&syntheticMic{id: "synthetic-mic", label: "Synthetic Microphone", freq: toneFreq})
	Register(&syntheticCam{id: "synthetic-cam", label: "Synthetic Camera"})
}
