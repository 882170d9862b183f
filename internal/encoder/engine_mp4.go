package encoder

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"

	"github.com/reelcast/agent/internal/media"
)

// MP4 output depends on an H264 video backend, typically hardware-assisted
// and registered by a platform build. The container itself comes from joy4;
// because its muxer patches sizes at trailer time, the whole file is emitted
// as a single chunk on Stop.
const (
	MimeMP4H264 = `video/mp4; codecs="avc1.42E01E"`
	MimeMP4     = "video/mp4"
)

func init() {
	RegisterEngine(MimeMP4H264, newMP4Engine)
	RegisterEngine(MimeMP4, newMP4Engine)
}

// VideoBackend is an H264 elementary stream producer. Setup is called once
// with the stream geometry and returns the parameter sets; Encode returns
// one length-prefixed access unit per input frame, or nil while the encoder
// is buffering.
type VideoBackend interface {
	Name() string
	Setup(width, height, fps, bitrate int) (sps, pps []byte, err error)
	Encode(frame media.VideoFrame) (sample []byte, keyframe bool, err error)
	Close() error
}

// VideoBackendFactory constructs a backend or reports it unavailable on
// this machine.
type VideoBackendFactory func() (VideoBackend, error)

var (
	videoBackendsMu sync.Mutex
	videoBackends   []VideoBackendFactory
)

// RegisterVideoBackend installs an H264 backend factory. Factories are tried
// in registration order when an MP4 engine is constructed.
func RegisterVideoBackend(f VideoBackendFactory) {
	videoBackendsMu.Lock()
	defer videoBackendsMu.Unlock()
	videoBackends = append(videoBackends, f)
}

// ResetVideoBackends clears the registry. Test hook.
func ResetVideoBackends() {
	videoBackendsMu.Lock()
	defer videoBackendsMu.Unlock()
	videoBackends = nil
}

func tryVideoBackend() (VideoBackend, error) {
	videoBackendsMu.Lock()
	defer videoBackendsMu.Unlock()
	if len(videoBackends) == 0 {
		return nil, fmt.Errorf("no h264 backend registered")
	}
	var lastErr error
	for _, f := range videoBackends {
		backend, err := f()
		if err != nil {
			lastErr = err
			continue
		}
		log.Debug("h264 backend selected", "backend", backend.Name())
		return backend, nil
	}
	return nil, fmt.Errorf("no h264 backend usable: %w", lastErr)
}

type mp4Engine struct {
	mime    string
	cfg     Config
	backend VideoBackend

	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	mu  sync.Mutex
	buf *seekBuffer
	mux *mp4.Muxer
}

func newMP4Engine(mime string, cfg Config) (Engine, error) {
	backend, err := tryVideoBackend()
	if err != nil {
		return nil, fmt.Errorf("mp4 engine: %w", err)
	}
	return &mp4Engine{
		mime:    mime,
		cfg:     cfg,
		backend: backend,
		quit:    make(chan struct{}),
	}, nil
}

func (e *mp4Engine) MimeType() string { return e.mime }

func (e *mp4Engine) Start(stream *media.Source, emit func([]byte), fail func(error)) error {
	video := stream.VideoTracks()
	if len(video) == 0 {
		return fmt.Errorf("mp4 engine: stream has no video track")
	}
	e.wg.Add(1)
	go e.encodeLoop(video[0], emit, fail)
	return nil
}

func (e *mp4Engine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.wg.Wait()
		e.stopErr = e.backend.Close()
	})
	return e.stopErr
}

func (e *mp4Engine) encodeLoop(video media.VideoTrack, emit func([]byte), fail func(error)) {
	defer e.wg.Done()

	fps := e.cfg.FrameRate
	if fps <= 0 {
		fps = 30
	}

	var mux *mp4.Muxer
	start := time.Time{}
	for {
		select {
		case <-e.quit:
			if mux != nil {
				e.finish(mux, emit, fail)
			}
			return
		case f, ok := <-video.Frames():
			if !ok {
				if mux != nil {
					e.finish(mux, emit, fail)
				}
				return
			}
			if mux == nil {
				sps, pps, err := e.backend.Setup(f.Width, f.Height, fps, e.cfg.TargetBitrate)
				if err != nil {
					fail(fmt.Errorf("h264 setup: %w", err))
					return
				}
				codec, err := h264parser.NewCodecDataFromSPSAndPPS(sps, pps)
				if err != nil {
					fail(fmt.Errorf("h264 parameter sets: %w", err))
					return
				}
				e.mu.Lock()
				e.buf = &seekBuffer{}
				mux = mp4.NewMuxer(e.buf)
				e.mu.Unlock()
				if err := mux.WriteHeader([]av.CodecData{codec}); err != nil {
					fail(fmt.Errorf("mp4 header: %w", err))
					return
				}
				start = f.Timestamp
			}
			sample, key, err := e.backend.Encode(f)
			if err != nil {
				fail(fmt.Errorf("h264 encode: %w", err))
				return
			}
			if len(sample) == 0 {
				continue
			}
			pkt := av.Packet{
				IsKeyFrame: key,
				Time:       f.Timestamp.Sub(start),
				Data:       sample,
			}
			if err := mux.WritePacket(pkt); err != nil {
				fail(fmt.Errorf("mp4 packet: %w", err))
				return
			}
		}
	}
}

func (e *mp4Engine) finish(mux *mp4.Muxer, emit func([]byte), fail func(error)) {
	if err := mux.WriteTrailer(); err != nil {
		fail(fmt.Errorf("mp4 trailer: %w", err))
		return
	}
	e.mu.Lock()
	data := e.buf.Bytes()
	e.mu.Unlock()
	emit(data)
}

// seekBuffer is the io.WriteSeeker the joy4 muxer needs for size patching.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		if need > cap(b.data) {
			grown := make([]byte, need, need*2)
			copy(grown, b.data)
			b.data = grown
		} else {
			b.data = b.data[:need]
		}
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek: bad whence %d", whence)
	}
	if pos < 0 {
		return 0, fmt.Errorf("seek: negative position")
	}
	b.pos = int(pos)
	return pos, nil
}

func (b *seekBuffer) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
