// Package postprocess - Decoding, suppression and letterbox inversion of detection outputs.
package postprocess

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// GeometryChannels is the number of leading channels holding cx, cy, w, h.
	GeometryChannels = 4
	// MinChannels is the smallest channel count that holds geometry plus two class scores.
	MinChannels = GeometryChannels + 2
)

// TensorShape describes a channel-major detection output of shape [Batch, Channels, Boxes].
type TensorShape struct {
	Batch    int `json:"batch" yaml:"batch"`
	Channels int `json:"channels" yaml:"channels"`
	Boxes    int `json:"boxes" yaml:"boxes"`
}

// NewTensorShape builds a shape from output dimensions. A rank 2 shape [C, N] is
// treated as a single batch element.
//
// Arguments:
//   - dims: The tensor dimensions as reported by the inference runtime.
//
// Returns:
//   - TensorShape: The decoded shape.
//   - error: An error if the rank is not 2 or 3 or a dimension is not positive.
func NewTensorShape(dims ...int64) (TensorShape, error) {
	switch len(dims) {
	case 2:
		dims = append([]int64{1}, dims...)
	case 3:
	default:
		return TensorShape{}, errors.Errorf("unsupported output rank %d, want [batch, channels, boxes]", len(dims))
	}
	for _, d := range dims {
		if d <= 0 {
			return TensorShape{}, errors.Errorf("non-positive output dimension in %v", dims)
		}
	}
	return TensorShape{Batch: int(dims[0]), Channels: int(dims[1]), Boxes: int(dims[2])}, nil
}

// Classes returns the number of class score channels.
func (s TensorShape) Classes() int {
	return s.Channels - GeometryChannels
}

// Stride returns the number of values held by one batch element.
func (s TensorShape) Stride() int {
	return s.Channels * s.Boxes
}

// Len returns the number of values held by the whole tensor.
func (s TensorShape) Len() int {
	return s.Batch * s.Stride()
}

// Offset returns the flat index of channel c of box i in batch element b.
func (s TensorShape) Offset(b, c, i int) int {
	return b*s.Stride() + c*s.Boxes + i
}

func (s TensorShape) String() string {
	return fmt.Sprintf("[%d, %d, %d]", s.Batch, s.Channels, s.Boxes)
}
