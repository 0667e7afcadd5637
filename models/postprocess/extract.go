package postprocess

import (
	"math"

	"github.com/nvr-ai/go-yolo/images"
)

// Candidate is a box that passed the confidence threshold but has not been
// suppressed or mapped to image space yet. Geometry is in model input pixels.
type Candidate struct {
	Box   images.Box
	Class int
	Score float32
}

// ExtractCandidates scans one batch element of a channel-major output and keeps
// every box whose best class score reaches the confidence threshold.
//
// The class is chosen by argmax over the score channels. Scores are compared
// raw, no softmax is assumed, and on exact ties the lowest class index wins.
//
// Arguments:
//   - data: The flat output buffer, borrowed for the duration of the call.
//   - shape: The shape of the buffer.
//   - batchIndex: The batch element to scan.
//   - confThreshold: Boxes whose best score is below this are discarded.
//
// Returns:
//   - []Candidate: The surviving boxes in box order. Empty for a nil buffer,
//     an out of range batch index, fewer than MinChannels channels, or a buffer
//     too short to hold the batch element.
func ExtractCandidates(data []float32, shape TensorShape, batchIndex int, confThreshold float32) []Candidate {
	if len(data) == 0 {
		return nil
	}
	if batchIndex < 0 || batchIndex >= shape.Batch {
		return nil
	}
	if shape.Channels < MinChannels || shape.Boxes <= 0 {
		return nil
	}

	n := shape.Boxes
	start := shape.Offset(batchIndex, 0, 0)
	end := start + shape.Stride()
	if len(data) < end {
		return nil
	}
	plane := data[start:end:end]
	classes := shape.Classes()

	candidates := make([]Candidate, 0, 256)
	for i := 0; i < n; i++ {
		bestClass := -1
		bestScore := float32(-math.MaxFloat32)
		for c := 0; c < classes; c++ {
			v := plane[(GeometryChannels+c)*n+i]
			if v > bestScore {
				bestScore = v
				bestClass = c
			}
		}

		if bestClass < 0 || bestScore < confThreshold {
			continue
		}

		candidates = append(candidates, Candidate{
			Box: images.Box{
				CX: plane[0*n+i],
				CY: plane[1*n+i],
				W:  plane[2*n+i],
				H:  plane[3*n+i],
			},
			Class: bestClass,
			Score: bestScore,
		})
	}

	return candidates
}
