// Package record coordinates one recording session at a time: source
// acquisition, audio mixing, video compositing, the encoding pipeline, and
// handoff of the finished artifact to storage.
package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/reelcast/agent/internal/capture"
	"github.com/reelcast/agent/internal/compositor"
	"github.com/reelcast/agent/internal/device"
	"github.com/reelcast/agent/internal/encoder"
	"github.com/reelcast/agent/internal/health"
	"github.com/reelcast/agent/internal/journal"
	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
	"github.com/reelcast/agent/internal/mixer"
)

var log = logging.L("record")

var (
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionActive   = errors.New("a session is already active")
	ErrLowDiskSpace    = errors.New("not enough free disk space")
)

// State is the coordinator's lifecycle phase.
type State string

const (
	StateIdle        State = "idle"
	StateAcquiring   State = "acquiring"
	StateCompositing State = "compositing"
	StateRecording   State = "recording"
	StateStopping    State = "stopping"
)

// Options select the optional inputs for one session. The display is always
// captured; an empty MicDeviceID omits the microphone entirely.
type Options struct {
	MicDeviceID    string
	CameraEnabled  bool
	CameraDeviceID string
}

// Result describes a completed session.
type Result struct {
	SessionID   string
	RecordingID string
	Artifact    *encoder.Artifact
	Started     time.Time
	Duration    time.Duration
	Degraded    []string
}

// Acquirer abstracts source acquisition so sessions can be driven against
// synthetic inputs.
type Acquirer interface {
	Display(ctx context.Context, req capture.DisplayRequest) (*media.Source, error)
	Microphone(ctx context.Context, deviceID string) (*media.Source, error)
	Camera(ctx context.Context, deviceID string) (*media.Source, error)
}

type captureAcquirer struct{}

func (captureAcquirer) Display(ctx context.Context, req capture.DisplayRequest) (*media.Source, error) {
	return capture.AcquireDisplay(ctx, req)
}
func (captureAcquirer) Microphone(ctx context.Context, id string) (*media.Source, error) {
	return capture.AcquireMicrophone(ctx, id)
}
func (captureAcquirer) Camera(ctx context.Context, id string) (*media.Source, error) {
	return capture.AcquireCamera(ctx, id)
}

// Sink receives finished artifacts. A nil sink leaves the artifact on the
// Result only.
type Sink interface {
	Save(ctx context.Context, artifact *encoder.Artifact, started time.Time, duration time.Duration) (string, error)
}

// Config carries the session-independent knobs.
type Config struct {
	StorageDir      string
	MinFreeBytes    uint64
	VideoBitrate    int
	ChunkInterval   time.Duration
	FrameRate       int
	RefreshRate     int
	FallbackWidth   int
	FallbackHeight  int
	OverlayPosition compositor.Position
	OverlayRatio    float64
	MimePreferences []string

	// Optional observers; both are safe to leave nil.
	Health  *health.Monitor
	Journal *journal.Journal
}

// Recorder runs at most one session at a time.
type Recorder struct {
	cfg  Config
	acq  Acquirer
	sink Sink

	mu      sync.Mutex
	state   State
	sess    *session
	lastErr error
}

type session struct {
	id      string
	started time.Time
	log     *slog.Logger

	sources []*media.Source // raw inputs, in acquisition order
	comp    *compositor.Compositor
	graph   *mixer.Graph
	stream  *media.Source
	pipe    *encoder.Pipeline

	degraded []string
	done     chan struct{}
	stopOnce sync.Once
	result   *Result
	stopErr  error
}

// New builds a recorder. A nil acquirer uses the platform capture layer.
func New(cfg Config, acq Acquirer, sink Sink) *Recorder {
	if acq == nil {
		acq = captureAcquirer{}
	}
	return &Recorder{cfg: cfg, acq: acq, sink: sink, state: StateIdle}
}

// State reports the current lifecycle phase.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Elapsed reports time since the active session started.
func (r *Recorder) Elapsed() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess == nil {
		return 0, false
	}
	return time.Since(r.sess.started), true
}

// ListDevices enumerates selectable microphones and cameras.
func ListDevices() (device.Devices, error) {
	return device.Enumerate(), nil
}

// Start acquires sources per opts and begins encoding. The display is
// mandatory; microphone and camera failures degrade the session instead of
// failing it, and the degraded inputs are recorded on the Result.
func (r *Recorder) Start(ctx context.Context, opts Options) error {
	r.mu.Lock()
	if r.sess != nil || r.state != StateIdle {
		r.mu.Unlock()
		return ErrSessionActive
	}
	sess := &session{
		id:      uuid.NewString(),
		started: time.Now(),
		done:    make(chan struct{}),
	}
	sess.log = logging.WithSession(log, sess.id)
	r.sess = sess
	r.state = StateAcquiring
	r.mu.Unlock()

	if err := r.start(ctx, sess, opts); err != nil {
		sess.release()
		r.mu.Lock()
		r.sess = nil
		r.state = StateIdle
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	if r.sess == sess { // the session may have auto-stopped already
		r.state = StateRecording
	}
	r.mu.Unlock()
	sess.log.Info("session started",
		"degraded", sess.degraded, "mime", sess.pipe.MimeType())
	r.cfg.Journal.Log(journal.EventSessionStarted, sess.id, map[string]any{
		"mime":     sess.pipe.MimeType(),
		"degraded": sess.degraded,
	})
	return nil
}

func (r *Recorder) start(ctx context.Context, sess *session, opts Options) error {
	if err := r.checkDiskSpace(); err != nil {
		return err
	}

	display, err := r.acq.Display(ctx, capture.DisplayRequest{WithAudio: true})
	if err != nil {
		r.cfg.Health.Set(health.ComponentCapture, health.Unhealthy, err.Error())
		return fmt.Errorf("acquire display: %w", err)
	}
	r.cfg.Health.Set(health.ComponentCapture, health.Healthy, "")
	sess.sources = append(sess.sources, display)
	if len(display.VideoTracks()) == 0 {
		return fmt.Errorf("acquire display: %w", capture.ErrAcquisitionFailed)
	}

	var mic *media.Source
	if opts.MicDeviceID != "" {
		mic, err = r.acq.Microphone(ctx, opts.MicDeviceID)
		if err != nil {
			sess.log.Warn("microphone unavailable, continuing without it",
				"device", opts.MicDeviceID, logging.KeyError, err)
			sess.degraded = append(sess.degraded, "microphone")
		} else {
			sess.sources = append(sess.sources, mic)
		}
	}

	var camera *media.Source
	if opts.CameraEnabled && opts.CameraDeviceID != "" {
		camera, err = r.acq.Camera(ctx, opts.CameraDeviceID)
		if err != nil {
			sess.log.Warn("camera unavailable, continuing without overlay",
				"device", opts.CameraDeviceID, logging.KeyError, err)
			sess.degraded = append(sess.degraded, "camera")
		} else {
			sess.sources = append(sess.sources, camera)
		}
	}

	r.mu.Lock()
	r.state = StateCompositing
	r.mu.Unlock()

	primary := display.VideoTracks()[0]
	var overlay media.VideoTrack
	if camera != nil && len(camera.VideoTracks()) > 0 {
		overlay = camera.VideoTracks()[0]
	}
	sess.comp = compositor.New(compositor.Config{
		RefreshRate:    r.cfg.RefreshRate,
		FallbackWidth:  r.cfg.FallbackWidth,
		FallbackHeight: r.cfg.FallbackHeight,
	})
	composited, err := sess.comp.Start(ctx, primary, overlay, compositor.Layout{
		Position:  r.cfg.OverlayPosition,
		SizeRatio: r.cfg.OverlayRatio,
	})
	if err != nil {
		return fmt.Errorf("start compositor: %w", err)
	}

	var audioInputs []*media.Source
	if len(display.AudioTracks()) > 0 {
		audioInputs = append(audioInputs, display)
	}
	if mic != nil {
		audioInputs = append(audioInputs, mic)
	}
	var audio []media.AudioTrack
	closers := []func() error{func() error { sess.comp.Stop(); return nil }}
	if len(audioInputs) > 0 {
		sess.graph = mixer.New()
		mixed, err := sess.graph.Mix(audioInputs...)
		if err != nil {
			return fmt.Errorf("mix audio: %w", err)
		}
		audio = mixed.AudioTracks()
		closers = append(closers, sess.graph.Close)
	}

	sess.stream = media.NewSource("recording", composited.VideoTracks(), audio, closers...)
	sess.pipe, err = encoder.StartPipeline(sess.stream, encoder.Config{
		MimePreferences: r.cfg.MimePreferences,
		TargetBitrate:   r.cfg.VideoBitrate,
		ChunkInterval:   r.cfg.ChunkInterval,
		FrameRate:       r.cfg.FrameRate,
	})
	if err != nil {
		return fmt.Errorf("start encoding: %w", err)
	}

	// The user can end the capture from outside the agent, for example by
	// closing the shared display. That converges on the same teardown as an
	// explicit Stop.
	primary.OnEnded(func() {
		go r.finish(context.Background(), sess, nil)
	})
	go r.watchFailures(sess)
	return nil
}

// Stop finalizes the active session and returns its result. If a prior
// session died from an encoding failure, that failure is surfaced here.
func (r *Recorder) Stop(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	sess := r.sess
	if sess == nil {
		err := r.lastErr
		r.lastErr = nil
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return nil, ErrNoActiveSession
	}
	r.state = StateStopping
	r.mu.Unlock()
	return r.finish(ctx, sess, nil)
}

// finish is the single teardown path: explicit Stop, end-of-track auto
// stop, and encoding failure all land here. The first caller wins.
func (r *Recorder) finish(ctx context.Context, sess *session, cause error) (*Result, error) {
	sess.stopOnce.Do(func() {
		close(sess.done)
		var artifact *encoder.Artifact
		var err error
		if cause == nil {
			artifact, err = sess.pipe.Stop()
		} else {
			err = cause
			sess.pipe.Stop()
		}
		duration := time.Since(sess.started)
		sess.release()

		if err != nil {
			sess.stopErr = err
			sess.log.Error("session failed", logging.KeyError, err)
			r.cfg.Journal.Log(journal.EventSessionFailed, sess.id, map[string]any{"error": err.Error()})
			if errors.Is(err, encoder.ErrEncodingFailure) {
				r.cfg.Health.Set(health.ComponentEncoder, health.Unhealthy, err.Error())
			}
			return
		}
		r.cfg.Health.Set(health.ComponentEncoder, health.Healthy, "")
		result := &Result{
			SessionID: sess.id,
			Artifact:  artifact,
			Started:   sess.started,
			Duration:  duration,
			Degraded:  sess.degraded,
		}
		if r.sink != nil && artifact != nil {
			id, saveErr := r.sink.Save(ctx, artifact, sess.started, duration)
			if saveErr != nil {
				sess.stopErr = fmt.Errorf("save recording: %w", saveErr)
				// The caller keeps the encoded artifact so a retry can
				// still persist it.
				sess.result = result
				r.cfg.Health.Set(health.ComponentLibrary, health.Degraded, saveErr.Error())
				sess.log.Error("save failed", logging.KeyError, saveErr)
				return
			}
			r.cfg.Health.Set(health.ComponentLibrary, health.Healthy, "")
			result.RecordingID = id
			r.cfg.Journal.Log(journal.EventRecordingSaved, sess.id, map[string]any{
				"recording_id": id,
				"bytes":        len(artifact.Data),
			})
		}
		sess.result = result
		sess.log.Info("session finished",
			"duration", duration, "bytes", len(artifact.Data))
		r.cfg.Journal.Log(journal.EventSessionFinished, sess.id, map[string]any{
			"duration_ms": duration.Milliseconds(),
		})
	})

	r.mu.Lock()
	if r.sess == sess {
		r.sess = nil
		r.state = StateIdle
		if sess.stopErr != nil {
			r.lastErr = sess.stopErr
		}
	}
	r.mu.Unlock()
	return sess.result, sess.stopErr
}

func (r *Recorder) watchFailures(sess *session) {
	select {
	case <-sess.done:
	case err := <-sess.pipe.Failures():
		sess.log.Error("encoding failure, tearing down", logging.KeyError, err)
		r.finish(context.Background(), sess, err)
	}
}

func (r *Recorder) checkDiskSpace() error {
	if r.cfg.MinFreeBytes == 0 || r.cfg.StorageDir == "" {
		return nil
	}
	usage, err := disk.Usage(r.cfg.StorageDir)
	if err != nil {
		log.Warn("disk usage probe failed", "dir", r.cfg.StorageDir, logging.KeyError, err)
		return nil
	}
	if usage.Free < r.cfg.MinFreeBytes {
		r.cfg.Health.Set(health.ComponentDisk, health.Unhealthy,
			fmt.Sprintf("%d bytes free, need %d", usage.Free, r.cfg.MinFreeBytes))
		return fmt.Errorf("%w: %d bytes free in %s, need %d",
			ErrLowDiskSpace, usage.Free, r.cfg.StorageDir, r.cfg.MinFreeBytes)
	}
	r.cfg.Health.Set(health.ComponentDisk, health.Healthy, "")
	return nil
}

// release tears down everything the session acquired, newest first.
func (s *session) release() {
	if s.stream != nil {
		s.stream.Close()
	} else {
		if s.comp != nil {
			s.comp.Stop()
		}
		if s.graph != nil {
			s.graph.Close()
		}
	}
	for i := len(s.sources) - 1; i >= 0; i-- {
		s.sources[i].Close()
	}
}
