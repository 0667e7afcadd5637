// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	flatbush "github.com/bmharper/flatbush-go"
	"github.com/nvr-ai/go-yolo/images"
)

// DefaultSpatialIndexMinBoxes is the class group size from which suppression
// searches a spatial index instead of testing every later box.
const DefaultSpatialIndexMinBoxes = 64

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	// IoUThreshold is the overlap above which the lower scored box is suppressed.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// SpatialIndexMinBoxes is the group size from which a flatbush index is
	// used. Zero or negative disables the index.
	SpatialIndexMinBoxes int `json:"spatial_index_min_boxes" yaml:"spatial_index_min_boxes"`
}

// IoU returns the Intersection over Union of two center-format boxes.
func IoU(a, b images.Box) float32 {
	return images.CalculateIoU(a, b)
}

// NMS performs greedy Non-Maximum Suppression over parallel geometry and score slices.
//
// Indices are visited in descending score order (stable for equal scores). Each
// visited index that is not suppressed is kept and suppresses every later index
// whose IoU with it is greater than iouThreshold.
//
// Arguments:
//   - xs, ys, ws, hs: Box centers and sizes. Extra entries beyond len(scores) are ignored.
//   - scores: The score of each box.
//   - iouThreshold: IoU above which overlapping boxes are suppressed.
//
// Returns:
//   - The kept indices in the order they were accepted. Nil if there are no boxes.
func NMS(xs, ys, ws, hs, scores []float32, iouThreshold float32) []int {
	n := min(len(xs), len(ys), len(ws), len(hs), len(scores))
	boxes := make([]images.Box, n)
	for i := range boxes {
		boxes[i] = images.Box{CX: xs[i], CY: ys[i], W: ws[i], H: hs[i]}
	}
	return suppress(boxes, scores[:n], NMSConfig{IoUThreshold: iouThreshold})
}

// ClassNMS applies NMS independently within each predicted class.
//
// Candidates are partitioned into per-class buckets that keep extraction
// order, boxes of different classes are never compared, and buckets are
// visited in ascending class id.
//
// Arguments:
//   - candidates: The candidates of one batch element.
//   - config: NMS configuration.
//
// Returns:
//   - Indices into candidates, grouped by ascending class and score-descending within a class.
func ClassNMS(candidates []Candidate, config NMSConfig) []int {
	if len(candidates) == 0 {
		return nil
	}

	buckets := classBuckets(candidates)

	keep := make([]int, 0, len(candidates))
	var boxes []images.Box
	var scores []float32
	for _, bucket := range buckets {
		if len(bucket) == 0 {
			continue
		}
		boxes = boxes[:0]
		scores = scores[:0]
		for _, idx := range bucket {
			boxes = append(boxes, candidates[idx].Box)
			scores = append(scores, candidates[idx].Score)
		}
		for _, k := range suppress(boxes, scores, config) {
			keep = append(keep, bucket[k])
		}
	}
	return keep
}

// maxDenseClass bounds the class ids bucketed by direct indexing.
const maxDenseClass = 4096

// classBuckets groups candidate indices by class in ascending class order,
// keeping extraction order within a class. Ids outside [0, maxDenseClass) go
// through a map so negative or huge ids neither panic nor over-allocate.
func classBuckets(candidates []Candidate) [][]int {
	minClass, maxClass := candidates[0].Class, candidates[0].Class
	for _, c := range candidates[1:] {
		minClass = min(minClass, c.Class)
		maxClass = max(maxClass, c.Class)
	}

	if minClass >= 0 && maxClass < maxDenseClass {
		buckets := make([][]int, maxClass+1)
		for i, c := range candidates {
			buckets[c.Class] = append(buckets[c.Class], i)
		}
		return buckets
	}

	byClass := make(map[int][]int)
	for i, c := range candidates {
		byClass[c.Class] = append(byClass[c.Class], i)
	}
	ids := make([]int, 0, len(byClass))
	for id := range byClass {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	buckets := make([][]int, len(ids))
	for i, id := range ids {
		buckets[i] = byClass[id]
	}
	return buckets
}

func suppress(boxes []images.Box, scores []float32, config NMSConfig) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	// Non-overlapping pairs have IoU 0, so the index only skips pairs that
	// could never be suppressed while the threshold is non-negative.
	if config.SpatialIndexMinBoxes > 0 && n >= config.SpatialIndexMinBoxes && config.IoUThreshold >= 0 {
		if keep, ok := suppressIndexed(boxes, order, config.IoUThreshold); ok {
			return keep
		}
	}

	removed := make([]bool, n)
	keep := make([]int, 0, n)
	for a, i := range order {
		if removed[i] {
			continue
		}
		keep = append(keep, i)
		for _, j := range order[a+1:] {
			if removed[j] {
				continue
			}
			if images.CalculateIoU(boxes[i], boxes[j]) > config.IoUThreshold {
				removed[j] = true
			}
		}
	}
	return keep
}

// suppressIndexed is the greedy walk of suppress with candidates taken from a
// flatbush search. It reports false when a box is not finite, since such boxes
// cannot be indexed.
func suppressIndexed(boxes []images.Box, order []int, threshold float32) ([]int, bool) {
	n := len(boxes)
	fb := flatbush.NewFlatbush[float32]()
	fb.Reserve(n)
	for _, b := range boxes {
		if !b.Finite() {
			return nil, false
		}
		x1, y1, x2, y2 := b.Corners()
		fb.Add(min(x1, x2), min(y1, y2), max(x1, x2), max(y1, y2))
	}
	fb.Finish()

	rank := make([]int, n)
	for r, i := range order {
		rank[i] = r
	}

	removed := make([]bool, n)
	keep := make([]int, 0, n)
	var nearby []int
	for _, i := range order {
		if removed[i] {
			continue
		}
		keep = append(keep, i)
		x1, y1, x2, y2 := boxes[i].Corners()
		nearby = fb.SearchFast(min(x1, x2), min(y1, y2), max(x1, x2), max(y1, y2), nearby)
		for _, j := range nearby {
			if rank[j] <= rank[i] || removed[j] {
				continue
			}
			if images.CalculateIoU(boxes[i], boxes[j]) > threshold {
				removed[j] = true
			}
		}
	}
	return keep, true
}
