package media

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fixed PCM format carried by every audio track in the pipeline. Capture
// backends are responsible for converting device output to this format.
const (
	SampleRate = 48000
	Channels   = 1

	// BlockDuration is the nominal span of one AudioBlock.
	BlockDuration   = 20 * time.Millisecond
	SamplesPerBlock = SampleRate / int(time.Second/BlockDuration)
)

type TrackKind string

const (
	KindVideo TrackKind = "video"
	KindAudio TrackKind = "audio"
)

// VideoFrame is one raw RGBA frame.
type VideoFrame struct {
	Width     int
	Height    int
	Stride    int
	Data      []byte
	Timestamp time.Time
}

// AudioBlock is one span of interleaved PCM16 samples in the fixed format.
type AudioBlock struct {
	Samples   []int16
	Timestamp time.Time
}

// Track is a live handle to one stream of media data. A track is owned by
// the Source that carries it; Close is idempotent.
type Track interface {
	ID() string
	Kind() TrackKind
	Label() string
	Live() bool
	Close() error
}

// VideoTrack delivers frames through a latest-wins channel. Dimensions
// report (0,0) until the producer has announced them.
type VideoTrack interface {
	Track
	Dimensions() (width, height int)
	Frames() <-chan VideoFrame
	// OnEnded registers fn to run once when the track ends, whether by
	// Close or because the producer stopped out-of-band.
	OnEnded(fn func())
}

// AudioTrack delivers PCM blocks through a bounded channel.
type AudioTrack interface {
	Track
	Blocks() <-chan AudioBlock
}

// SourceKind classifies what a source carries.
type SourceKind string

const (
	SourceVideo SourceKind = "video"
	SourceAudio SourceKind = "audio"
	SourceBoth  SourceKind = "both"
)

// Source is a live handle to video and/or audio produced by one device or
// synthetic origin. Exactly one owner may Close it; Close releases every
// track and any extra device teardown exactly once.
type Source struct {
	id        string
	label     string
	video     []VideoTrack
	audio     []AudioTrack
	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

func NewSource(label string, video []VideoTrack, audio []AudioTrack, closers ...func() error) *Source {
	return &Source{
		id:      uuid.NewString(),
		label:   label,
		video:   video,
		audio:   audio,
		closers: closers,
	}
}

func (s *Source) ID() string    { return s.id }
func (s *Source) Label() string { return s.label }

func (s *Source) Kind() SourceKind {
	switch {
	case len(s.video) > 0 && len(s.audio) > 0:
		return SourceBoth
	case len(s.audio) > 0:
		return SourceAudio
	default:
		return SourceVideo
	}
}

func (s *Source) VideoTracks() []VideoTrack { return s.video }
func (s *Source) AudioTracks() []AudioTrack { return s.audio }

// Live reports whether any track is still producing.
func (s *Source) Live() bool {
	for _, t := range s.video {
		if t.Live() {
			return true
		}
	}
	for _, t := range s.audio {
		if t.Live() {
			return true
		}
	}
	return false
}

func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		for _, t := range s.video {
			if err := t.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		for _, t := range s.audio {
			if err := t.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
		for _, fn := range s.closers {
			if err := fn(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
