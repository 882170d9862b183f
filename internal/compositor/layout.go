package compositor

import (
	"fmt"
	"image"
	"image/color"
)

type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// Layout places the picture-in-picture overlay. SizeRatio is the overlay
// width as a fraction of the frame buffer width, in (0,1].
type Layout struct {
	Position  Position
	SizeRatio float64
}

// Fixed placement constants.
const (
	Margin       = 16
	CornerRadius = 12
	borderWidth  = 2
)

func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return Position(s), nil
	default:
		return "", fmt.Errorf("unknown overlay position %q", s)
	}
}

func (l Layout) validate() error {
	if _, err := ParsePosition(string(l.Position)); err != nil {
		return err
	}
	if l.SizeRatio <= 0 || l.SizeRatio > 1 {
		return fmt.Errorf("overlay size ratio %v outside (0,1]", l.SizeRatio)
	}
	return nil
}

// overlayRect computes the overlay placement for the given frame buffer and
// overlay source dimensions: width is SizeRatio of the buffer width, height
// preserves the source aspect ratio, and the rectangle sits Margin pixels
// from the edges named by the position.
func overlayRect(fbWidth, fbHeight, srcWidth, srcHeight int, l Layout) image.Rectangle {
	w := int(l.SizeRatio * float64(fbWidth))
	if w < 1 {
		w = 1
	}
	h := w * srcHeight / srcWidth
	if h < 1 {
		h = 1
	}

	var x, y int
	switch l.Position {
	case TopLeft:
		x, y = Margin, Margin
	case TopRight:
		x, y = fbWidth-Margin-w, Margin
	case BottomLeft:
		x, y = Margin, fbHeight-Margin-h
	case BottomRight:
		x, y = fbWidth-Margin-w, fbHeight-Margin-h
	}
	return image.Rect(x, y, x+w, y+h)
}

// roundedMask builds an alpha mask for a w x h rounded rectangle with the
// given corner radius.
func roundedMask(w, h, radius int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if insideRounded(x, y, w, h, radius) {
				mask.SetAlpha(x, y, color.Alpha{A: 0xFF})
			}
		}
	}
	return mask
}

// ringMask builds an alpha mask covering only the border band of a rounded
// rectangle.
func ringMask(w, h, radius, thickness int) *image.Alpha {
	mask := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !insideRounded(x, y, w, h, radius) {
				continue
			}
			inner := insideRounded(x-thickness, y-thickness, w-2*thickness, h-2*thickness, radius-thickness)
			if !inner {
				mask.SetAlpha(x, y, color.Alpha{A: 0xFF})
			}
		}
	}
	return mask
}

// insideRounded reports whether the pixel lies within a w x h rounded
// rectangle anchored at the origin.
func insideRounded(x, y, w, h, radius int) bool {
	if x < 0 || y < 0 || x >= w || y >= h {
		return false
	}
	if radius <= 0 {
		return true
	}
	cx, cy := -1, -1
	if x < radius && y < radius {
		cx, cy = radius-1, radius-1
	} else if x >= w-radius && y < radius {
		cx, cy = w-radius, radius-1
	} else if x < radius && y >= h-radius {
		cx, cy = radius-1, h-radius
	} else if x >= w-radius && y >= h-radius {
		cx, cy = w-radius, h-radius
	}
	if cx < 0 {
		return true
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= radius*radius
}
