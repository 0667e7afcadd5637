// Package yolov8 - Decoding of YOLOv8 style [batch, 4+classes, boxes] outputs.
package yolov8

import (
	"sort"

	"github.com/nvr-ai/go-yolo/logging"
	"github.com/nvr-ai/go-yolo/models"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultConfThreshold is the minimum best class score of a kept box.
	DefaultConfThreshold = 0.45
	// DefaultIoUThreshold is the overlap above which NMS suppresses a box.
	DefaultIoUThreshold = 0.45
	// DefaultInputSize is the square model input edge in pixels.
	DefaultInputSize = 640
)

// Options configures decoding of a single batch element.
type Options struct {
	ConfThreshold float32 `json:"conf_threshold" yaml:"conf_threshold"`
	IoUThreshold  float32 `json:"iou_threshold" yaml:"iou_threshold"`
	// InputWidth and InputHeight describe the model input. Box geometry is
	// already in input pixels, so decoding does not consult them.
	InputWidth  int `json:"input_width" yaml:"input_width"`
	InputHeight int `json:"input_height" yaml:"input_height"`
	// MaxDetections caps the output to the highest scoring boxes. Zero keeps all.
	MaxDetections int `json:"max_detections" yaml:"max_detections"`
	// SpatialIndexMinBoxes is passed through to postprocess.NMSConfig.
	SpatialIndexMinBoxes int `json:"spatial_index_min_boxes" yaml:"spatial_index_min_boxes"`
	// Labels names class ids. Nil uses models.YOLOClasses.
	Labels models.Labels `json:"-" yaml:"-"`
	// Logger receives debug and trace output. Nil discards.
	Logger *logrus.Entry `json:"-" yaml:"-"`
}

// DefaultOptions returns the options used by stock YOLOv8 exports.
func DefaultOptions() Options {
	return Options{
		ConfThreshold:        DefaultConfThreshold,
		IoUThreshold:         DefaultIoUThreshold,
		InputWidth:           DefaultInputSize,
		InputHeight:          DefaultInputSize,
		SpatialIndexMinBoxes: postprocess.DefaultSpatialIndexMinBoxes,
		Labels:               models.YOLOClasses,
	}
}

// Parse decodes one batch element into detections in original image pixels.
//
// Boxes whose best class score is below the confidence threshold are dropped,
// the rest go through per-class NMS and are mapped through the letterbox.
// Malformed input yields no detections rather than an error.
//
// Arguments:
//   - data: The flat channel-major output buffer, borrowed for the call.
//   - shape: The shape of data.
//   - lb: The letterbox used to produce this batch element.
//   - batchIndex: The batch element to decode.
//   - opts: Decoding options.
//
// Returns:
//   - []postprocess.Detection: Detections grouped by ascending class id,
//     highest score first within a class.
func Parse(data []float32, shape postprocess.TensorShape, lb postprocess.LetterboxInfo, batchIndex int, opts Options) []postprocess.Detection {
	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logging.Discard())
	}
	labels := opts.Labels
	if labels == nil {
		labels = models.YOLOClasses
	}

	log.WithFields(logrus.Fields{
		"shape": shape.String(),
		"batch": batchIndex,
	}).Debug("decoding output")

	candidates := postprocess.ExtractCandidates(data, shape, batchIndex, opts.ConfThreshold)
	if len(candidates) == 0 {
		return nil
	}

	keep := postprocess.ClassNMS(candidates, postprocess.NMSConfig{
		IoUThreshold:         opts.IoUThreshold,
		SpatialIndexMinBoxes: opts.SpatialIndexMinBoxes,
	})

	detections := make([]postprocess.Detection, 0, len(keep))
	for _, k := range keep {
		det, ok := lb.Map(candidates[k], labels)
		if !ok {
			continue
		}
		log.WithFields(logrus.Fields{
			"class": det.Label,
			"score": det.Score,
			"box":   det.Box,
		}).Trace("detection")
		detections = append(detections, det)
	}

	if opts.MaxDetections > 0 && len(detections) > opts.MaxDetections {
		sort.SliceStable(detections, func(i, j int) bool {
			return detections[i].Score > detections[j].Score
		})
		detections = detections[:opts.MaxDetections]
	}

	return detections
}
