package encoder

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/reelcast/agent/internal/media"
)

// MimeAVI is the fallback container every build can produce: Motion JPEG
// video with uncompressed PCM audio. The stream is written headers-first
// with placeholder RIFF sizes so each emitted chunk is final the moment it
// leaves the engine; players tolerate the open-ended sizes, and the absent
// index, by scanning the movi list.
const MimeAVI = "video/avi"

func init() {
	RegisterEngine(MimeAVI, newAVIEngine)
}

// openEndedSize marks RIFF lengths that are never patched. Appending chunks
// must not invalidate bytes already handed out.
const openEndedSize = 0xFFFFFFFF

type aviEngine struct {
	cfg     Config
	quality int

	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newAVIEngine(_ string, cfg Config) (Engine, error) {
	return &aviEngine{cfg: cfg, quality: jpegQuality(cfg.TargetBitrate), quit: make(chan struct{})}, nil
}

// jpegQuality maps the target bitrate onto the JPEG quality scale. The
// mapping is coarse; MJPEG has no rate control to speak of.
func jpegQuality(bitrate int) int {
	q := 30 + bitrate/50_000
	if q < 30 {
		q = 30
	}
	if q > 95 {
		q = 95
	}
	return q
}

func (e *aviEngine) MimeType() string { return MimeAVI }

func (e *aviEngine) Start(stream *media.Source, emit func([]byte), fail func(error)) error {
	video := stream.VideoTracks()
	if len(video) == 0 {
		return fmt.Errorf("avi engine: stream has no video track")
	}
	var audio media.AudioTrack
	if a := stream.AudioTracks(); len(a) > 0 {
		audio = a[0]
	}
	e.wg.Add(1)
	go e.encodeLoop(video[0], audio, emit, fail)
	return nil
}

func (e *aviEngine) Stop() error {
	e.stopOnce.Do(func() {
		close(e.quit)
		e.wg.Wait()
	})
	return nil
}

func (e *aviEngine) encodeLoop(video media.VideoTrack, audio media.AudioTrack, emit func([]byte), fail func(error)) {
	defer e.wg.Done()

	// The container header needs the frame dimensions, so the first frame
	// gates everything else.
	var first media.VideoFrame
	select {
	case <-e.quit:
		return
	case f, ok := <-video.Frames():
		if !ok {
			fail(fmt.Errorf("video track ended before first frame"))
			return
		}
		first = f
	}

	var pending bytes.Buffer
	w := &aviWriter{buf: &pending, quality: e.quality}
	if err := w.writeHeader(first.Width, first.Height, e.cfg.FrameRate, audio != nil); err != nil {
		fail(err)
		return
	}
	if err := w.writeFrame(first); err != nil {
		fail(err)
		return
	}

	interval := e.cfg.ChunkInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var blocks <-chan media.AudioBlock
	if audio != nil {
		blocks = audio.Blocks()
	}

	flush := func() {
		if pending.Len() == 0 {
			return
		}
		chunk := make([]byte, pending.Len())
		copy(chunk, pending.Bytes())
		pending.Reset()
		emit(chunk)
	}

	for {
		select {
		case <-e.quit:
			flush()
			return
		case f, ok := <-video.Frames():
			if !ok {
				flush()
				return
			}
			if err := w.writeFrame(f); err != nil {
				fail(err)
				return
			}
		case b, ok := <-blocks:
			if !ok {
				blocks = nil
				continue
			}
			w.writeAudio(b.Samples)
		case <-ticker.C:
			flush()
		}
	}
}

// aviWriter serializes the RIFF structure into a scratch buffer the engine
// drains into chunks.
type aviWriter struct {
	buf     *bytes.Buffer
	quality int
	scratch bytes.Buffer
}

func (w *aviWriter) writeHeader(width, height, fps int, hasAudio bool) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("avi header: bad dimensions %dx%d", width, height)
	}
	if fps <= 0 {
		fps = 30
	}
	streams := uint32(1)
	if hasAudio {
		streams = 2
	}

	w.fourcc("RIFF")
	w.u32(openEndedSize)
	w.fourcc("AVI ")

	// hdrl list sizes are fixed and known up front.
	strlVideo := 4 + 8 + 56 + 8 + 40
	hdrl := 4 + 8 + 56 + 8 + strlVideo
	if hasAudio {
		hdrl += 8 + (4 + 8 + 56 + 8 + 18)
	}
	w.fourcc("LIST")
	w.u32(uint32(hdrl))
	w.fourcc("hdrl")

	w.fourcc("avih")
	w.u32(56)
	w.u32(uint32(1_000_000 / fps)) // dwMicroSecPerFrame
	w.u32(0)                       // dwMaxBytesPerSec
	w.u32(0)                       // dwPaddingGranularity
	w.u32(0x00000100)              // AVIF_ISINTERLEAVED
	w.u32(0)                       // dwTotalFrames, unknown while streaming
	w.u32(0)
	w.u32(streams)
	w.u32(0)
	w.u32(uint32(width))
	w.u32(uint32(height))
	w.u32(0)
	w.u32(0)
	w.u32(0)
	w.u32(0)

	w.fourcc("LIST")
	w.u32(uint32(strlVideo))
	w.fourcc("strl")
	w.fourcc("strh")
	w.u32(56)
	w.fourcc("vids")
	w.fourcc("MJPG")
	w.u32(0) // dwFlags
	w.u32(0) // priority + language
	w.u32(0) // dwInitialFrames
	w.u32(1) // dwScale
	w.u32(uint32(fps))
	w.u32(0) // dwStart
	w.u32(0) // dwLength, unknown
	w.u32(0) // dwSuggestedBufferSize
	w.u32(openEndedSize)
	w.u32(0)
	w.u16(0) // rcFrame left
	w.u16(0) // rcFrame top
	w.u16(uint16(width))
	w.u16(uint16(height))

	w.fourcc("strf")
	w.u32(40)
	w.u32(40) // biSize
	w.u32(uint32(width))
	w.u32(uint32(height))
	w.u16(1)  // biPlanes
	w.u16(24) // biBitCount
	w.fourcc("MJPG")
	w.u32(uint32(width * height * 3))
	w.u32(0)
	w.u32(0)
	w.u32(0)
	w.u32(0)

	if hasAudio {
		strlAudio := 4 + 8 + 56 + 8 + 18
		w.fourcc("LIST")
		w.u32(uint32(strlAudio))
		w.fourcc("strl")
		w.fourcc("strh")
		w.u32(56)
		w.fourcc("auds")
		w.u32(0) // no handler fourcc for PCM
		w.u32(0)
		w.u32(0)
		w.u32(0)
		w.u32(1) // dwScale
		w.u32(uint32(media.SampleRate))
		w.u32(0)
		w.u32(0) // dwLength, unknown
		w.u32(0)
		w.u32(openEndedSize)
		w.u32(uint32(2)) // dwSampleSize: bytes per sample
		w.u32(0)
		w.u32(0)

		w.fourcc("strf")
		w.u32(18)
		w.u16(1) // WAVE_FORMAT_PCM
		w.u16(uint16(media.Channels))
		w.u32(uint32(media.SampleRate))
		w.u32(uint32(media.SampleRate * media.Channels * 2))
		w.u16(uint16(media.Channels * 2)) // block align
		w.u16(16)                         // bits per sample
		w.u16(0)                          // cbSize
	}

	w.fourcc("LIST")
	w.u32(openEndedSize)
	w.fourcc("movi")
	return nil
}

func (w *aviWriter) writeFrame(f media.VideoFrame) error {
	img := &image.RGBA{
		Pix:    f.Data,
		Stride: f.Stride,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
	w.scratch.Reset()
	if err := jpeg.Encode(&w.scratch, img, &jpeg.Options{Quality: w.quality}); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	w.dataChunk("00dc", w.scratch.Bytes())
	return nil
}

func (w *aviWriter) writeAudio(samples []int16) {
	w.scratch.Reset()
	for _, s := range samples {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(s))
		w.scratch.Write(b[:])
	}
	w.dataChunk("01wb", w.scratch.Bytes())
}

func (w *aviWriter) dataChunk(id string, data []byte) {
	w.fourcc(id)
	w.u32(uint32(len(data)))
	w.buf.Write(data)
	if len(data)%2 == 1 {
		w.buf.WriteByte(0) // RIFF chunks are word-aligned
	}
}

func (w *aviWriter) fourcc(s string) { w.buf.WriteString(s) }

func (w *aviWriter) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *aviWriter) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
