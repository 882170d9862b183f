// Package compositor renders a primary video track with an optional
// picture-in-picture overlay into a shared frame buffer and exposes the
// buffer's content as a new synthetic video source.
package compositor

import (
	"context"
	"errors"
	"image"
	"image/color"
	stddraw "image/draw"
	"sync"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/reelcast/agent/internal/logging"
	"github.com/reelcast/agent/internal/media"
)

var log = logging.L("compositor")

// OutputFrameRate is the rate of the composed source.
const OutputFrameRate = 30

// metadataWait bounds how long Start waits for the primary source to report
// its natural dimensions before falling back to the configured default.
const metadataWait = 2 * time.Second

var borderColor = color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0x66}

type Config struct {
	// RefreshRate paces the render loop, one draw per tick.
	RefreshRate int
	// FallbackWidth/Height size the frame buffer when the primary source
	// reports zero dimensions.
	FallbackWidth  int
	FallbackHeight int
}

// Compositor runs one render loop. A Compositor is single-use: Start once,
// Stop during every session teardown. Stop is idempotent and safe to call
// when compositing was never started.
type Compositor struct {
	cfg Config

	mu      sync.Mutex
	running bool
	quit    chan struct{}
	wg      sync.WaitGroup
	out     *media.VideoPipe
}

func New(cfg Config) *Compositor {
	if cfg.RefreshRate <= 0 {
		cfg.RefreshRate = 60
	}
	if cfg.FallbackWidth <= 0 || cfg.FallbackHeight <= 0 {
		cfg.FallbackWidth, cfg.FallbackHeight = 1920, 1080
	}
	return &Compositor{cfg: cfg}
}

// Start binds the primary and optional overlay tracks, waits for the
// primary dimensions, and begins the render loop. It returns the composed
// source once dimensions are known; rendering continues until Stop.
func (c *Compositor) Start(ctx context.Context, primary, overlay media.VideoTrack, layout Layout) (*media.Source, error) {
	if primary == nil {
		return nil, errors.New("compositor needs a primary track")
	}
	if overlay != nil {
		if err := layout.validate(); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, errors.New("compositor already running")
	}
	c.running = true
	c.quit = make(chan struct{})
	c.mu.Unlock()

	width, height, firstFrame, err := waitForDimensions(ctx, primary)
	if err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return nil, err
	}
	if width <= 0 || height <= 0 {
		log.Warn("primary source reported zero dimensions, using fallback",
			"width", c.cfg.FallbackWidth, "height", c.cfg.FallbackHeight)
		width, height = c.cfg.FallbackWidth, c.cfg.FallbackHeight
	}

	out := media.NewVideoPipe("composited")
	out.SetDimensions(width, height)
	c.mu.Lock()
	c.out = out
	c.mu.Unlock()

	c.wg.Add(1)
	go c.renderLoop(out, primary, overlay, layout, width, height, firstFrame)

	log.Info("compositing started", "width", width, "height", height, "overlay", overlay != nil)
	return media.NewSource("composited", []media.VideoTrack{out}, nil), nil
}

// waitForDimensions resolves the primary track's natural size, either from
// announced metadata or from the first delivered frame. The frame, if one
// was consumed, is returned so the render loop can draw it.
func waitForDimensions(ctx context.Context, primary media.VideoTrack) (int, int, *media.VideoFrame, error) {
	deadline := time.NewTimer(metadataWait)
	defer deadline.Stop()
	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		if w, h := primary.Dimensions(); w > 0 && h > 0 {
			return w, h, nil, nil
		}
		select {
		case <-ctx.Done():
			return 0, 0, nil, ctx.Err()
		case f, ok := <-primary.Frames():
			if !ok {
				return 0, 0, nil, errors.New("primary track ended before compositing started")
			}
			return f.Width, f.Height, &f, nil
		case <-deadline.C:
			return 0, 0, nil, nil
		case <-poll.C:
		}
	}
}

func (c *Compositor) renderLoop(out *media.VideoPipe, primary, overlay media.VideoTrack, layout Layout, width, height int, first *media.VideoFrame) {
	defer c.wg.Done()

	fb := image.NewRGBA(image.Rect(0, 0, width, height))
	ticker := time.NewTicker(time.Second / time.Duration(c.cfg.RefreshRate))
	defer ticker.Stop()

	// Emit at OutputFrameRate by publishing every Nth refresh tick.
	emitEvery := c.cfg.RefreshRate / OutputFrameRate
	if emitEvery < 1 {
		emitEvery = 1
	}

	var (
		lastPrimary *media.VideoFrame
		lastOverlay *media.VideoFrame
		clip        *image.Alpha
		ring        *image.Alpha
		clipSize    image.Point
		scaled      *image.RGBA
		tick        int
	)
	lastPrimary = first

	for {
		select {
		case <-c.quit:
			return
		case now := <-ticker.C:
			if f := latest(primary.Frames()); f != nil {
				lastPrimary = f
			}
			if overlay != nil {
				if f := latest(overlay.Frames()); f != nil {
					lastOverlay = f
				}
			}

			// No usable primary frame yet: skip the draw, never emit
			// garbage during source start-up lag.
			if lastPrimary == nil || lastPrimary.Width <= 0 || lastPrimary.Height <= 0 {
				continue
			}

			xdraw.ApproxBiLinear.Scale(fb, fb.Bounds(), frameImage(lastPrimary), frameBounds(lastPrimary), xdraw.Src, nil)

			if lastOverlay != nil && lastOverlay.Width > 0 && lastOverlay.Height > 0 {
				rect := overlayRect(width, height, lastOverlay.Width, lastOverlay.Height, layout)
				size := rect.Size()
				if clip == nil || size != clipSize {
					clip = roundedMask(size.X, size.Y, CornerRadius)
					ring = ringMask(size.X, size.Y, CornerRadius, borderWidth)
					scaled = image.NewRGBA(image.Rect(0, 0, size.X, size.Y))
					clipSize = size
				}
				xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), frameImage(lastOverlay), frameBounds(lastOverlay), xdraw.Src, nil)
				stddraw.DrawMask(fb, rect, scaled, image.Point{}, clip, image.Point{}, stddraw.Over)
				stddraw.DrawMask(fb, rect, image.NewUniform(borderColor), image.Point{}, ring, image.Point{}, stddraw.Over)
			}

			tick++
			if tick%emitEvery == 0 {
				data := make([]byte, len(fb.Pix))
				copy(data, fb.Pix)
				out.Push(media.VideoFrame{
					Width:     width,
					Height:    height,
					Stride:    fb.Stride,
					Data:      data,
					Timestamp: now,
				})
			}
		}
	}
}

// latest drains the channel and returns the newest available frame, or nil.
func latest(frames <-chan media.VideoFrame) *media.VideoFrame {
	var newest *media.VideoFrame
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return newest
			}
			newest = &f
		default:
			return newest
		}
	}
}

func frameImage(f *media.VideoFrame) *image.RGBA {
	return &image.RGBA{Pix: f.Data, Stride: f.Stride, Rect: frameBounds(f)}
}

func frameBounds(f *media.VideoFrame) image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

// Stop cancels the render loop and closes the composed track. Idempotent;
// a no-op when compositing never started.
func (c *Compositor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	quit := c.quit
	out := c.out
	c.out = nil
	c.mu.Unlock()

	close(quit)
	c.wg.Wait()
	if out != nil {
		out.Close()
	}
	log.Debug("compositing stopped")
}
