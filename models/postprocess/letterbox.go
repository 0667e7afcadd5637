package postprocess

import (
	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-yolo/images"
	"github.com/nvr-ai/go-yolo/models"
	"github.com/pkg/errors"
)

// LetterboxInfo records how an image was fitted into the model input: scaled
// uniformly by Scale, then padded by PadX and PadY on the left and top.
type LetterboxInfo struct {
	Scale          float32 `json:"scale" yaml:"scale"`
	PadX           int     `json:"pad_x" yaml:"pad_x"`
	PadY           int     `json:"pad_y" yaml:"pad_y"`
	OriginalWidth  int     `json:"original_width" yaml:"original_width"`
	OriginalHeight int     `json:"original_height" yaml:"original_height"`
}

// NewLetterboxInfo computes the letterbox that fits a srcW x srcH image into a
// dstW x dstH input, centering the scaled image.
func NewLetterboxInfo(srcW, srcH, dstW, dstH int) (LetterboxInfo, error) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return LetterboxInfo{}, errors.Wrapf(ErrInvalidLetterbox, "cannot fit %dx%d into %dx%d", srcW, srcH, dstW, dstH)
	}
	scale := math32.Min(float32(dstW)/float32(srcW), float32(dstH)/float32(srcH))
	lb := LetterboxInfo{
		Scale:          scale,
		OriginalWidth:  srcW,
		OriginalHeight: srcH,
	}
	w, h := lb.ScaledSize()
	lb.PadX = (dstW - w) / 2
	lb.PadY = (dstH - h) / 2
	return lb, nil
}

// ScaledSize returns the size of the original image after scaling, rounded and at least 1x1.
func (lb LetterboxInfo) ScaledSize() (int, int) {
	w := int(float32(lb.OriginalWidth)*lb.Scale + 0.5)
	h := int(float32(lb.OriginalHeight)*lb.Scale + 0.5)
	return max(w, 1), max(h, 1)
}

// Validate reports whether the letterbox can map boxes back to the original image.
func (lb LetterboxInfo) Validate() error {
	if !(lb.Scale > 0) || math32.IsInf(lb.Scale, 0) {
		return errors.Wrapf(ErrInvalidLetterbox, "scale %v must be positive", lb.Scale)
	}
	if lb.OriginalWidth <= 0 || lb.OriginalHeight <= 0 {
		return errors.Wrapf(ErrInvalidLetterbox, "original size %dx%d must be positive", lb.OriginalWidth, lb.OriginalHeight)
	}
	return nil
}

// Map converts a candidate from model input pixels to original image pixels.
//
// The padding is removed and the scale undone, then the top-left corner is
// clamped to [0, W-1] x [0, H-1]. The bottom-right corner is the clamped corner
// plus the unclamped size, clamped to [0, W] x [0, H].
// Coordinates are truncated toward zero.
//
// Arguments:
//   - c: The candidate to map.
//   - labels: The label table used to name the class.
//
// Returns:
//   - Detection: The mapped detection.
//   - bool: False when the letterbox is unusable or the clamped box is not wider
//     and taller than one pixel.
func (lb LetterboxInfo) Map(c Candidate, labels models.Labels) (Detection, bool) {
	if !(lb.Scale > 0) {
		return Detection{}, false
	}

	fw32 := float32(lb.OriginalWidth)
	fh32 := float32(lb.OriginalHeight)
	padX := float32(lb.PadX)
	padY := float32(lb.PadY)

	x := (c.Box.CX - c.Box.W/2 - padX) / lb.Scale
	y := (c.Box.CY - c.Box.H/2 - padY) / lb.Scale
	w := c.Box.W / lb.Scale
	h := c.Box.H / lb.Scale

	x1 := clamp(x, 0, fw32-1)
	y1 := clamp(y, 0, fh32-1)
	x2 := clamp(x1+w, 0, fw32)
	y2 := clamp(y1+h, 0, fh32)

	fw := x2 - x1
	fh := y2 - y1
	// Negated so NaN geometry is dropped too.
	if !(fw > 1 && fh > 1) {
		return Detection{}, false
	}

	return Detection{
		ClassID: c.Class,
		Box: images.Rect{
			X:      int(x1),
			Y:      int(y1),
			Width:  int(fw),
			Height: int(fh),
		},
		Label:          labels.Name(c.Class),
		Score:          c.Score,
		OriginalWidth:  lb.OriginalWidth,
		OriginalHeight: lb.OriginalHeight,
	}, true
}

func clamp(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(v, hi))
}
