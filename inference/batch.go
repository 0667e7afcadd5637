package inference

import (
	"time"

	"github.com/google/uuid"
	"github.com/nvr-ai/go-yolo/logging"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/nvr-ai/go-yolo/models/yolov8"
	"github.com/nvr-ai/go-yolo/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Batch metadata limits.
const (
	MinChannels = postprocess.MinChannels
	MaxChannels = 512
	MaxBoxes    = 20000
	MaxBatch    = 4
)

// ErrInvalidMetadata is returned when a batch cannot be decoded as described.
var ErrInvalidMetadata = errors.New("invalid batch metadata")

// BatchResult holds the detections of every batch element.
type BatchResult struct {
	// Detections is indexed by batch element.
	Detections [][]postprocess.Detection `json:"detections"`
	// ElapsedMS is the wall time spent decoding the batch.
	ElapsedMS float64 `json:"elapsed_ms"`
}

// Listener is notified after a batch has been decoded. ParsingFinished is
// called first, then DetectionsReady once per batch element in index order.
type Listener interface {
	ParsingFinished(elapsedMS float64)
	DetectionsReady(batch int, detections []postprocess.Detection)
}

// Orchestrator decodes whole batches, one worker per batch element.
type Orchestrator struct {
	options    yolov8.Options
	maxWorkers int
	logger     *logrus.Logger
	listener   Listener
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logging.OrDiscard(logger)
	}
}

// WithListener registers a listener for decoded batches.
func WithListener(l Listener) Option {
	return func(o *Orchestrator) {
		o.listener = l
	}
}

// NewOrchestrator creates an orchestrator from a validated configuration.
//
// Arguments:
//   - cfg: The decoding configuration.
//   - opts: Optional logger and listener.
//
// Returns:
//   - *Orchestrator: The orchestrator.
//   - error: An error if cfg is invalid or its labels file cannot be read.
func NewOrchestrator(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	decode, err := cfg.DecodeOptions()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		options:    decode,
		maxWorkers: cfg.MaxWorkers,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ValidateBatch checks batch metadata before any decoding.
func ValidateBatch(data []float32, shape postprocess.TensorShape, letterboxes []postprocess.LetterboxInfo) error {
	switch {
	case shape.Channels < MinChannels || shape.Channels > MaxChannels:
		return errors.Wrapf(ErrInvalidMetadata, "channels %d not in [%d, %d]", shape.Channels, MinChannels, MaxChannels)
	case shape.Boxes <= 0 || shape.Boxes > MaxBoxes:
		return errors.Wrapf(ErrInvalidMetadata, "boxes %d not in [1, %d]", shape.Boxes, MaxBoxes)
	case shape.Batch < 1 || shape.Batch > MaxBatch:
		return errors.Wrapf(ErrInvalidMetadata, "batch %d not in [1, %d]", shape.Batch, MaxBatch)
	case len(letterboxes) < shape.Batch:
		return errors.Wrapf(ErrInvalidMetadata, "%d letterboxes for batch of %d", len(letterboxes), shape.Batch)
	case len(data) == 0:
		return errors.Wrap(ErrInvalidMetadata, "empty output buffer")
	case len(data) < shape.Len():
		return errors.Wrapf(ErrInvalidMetadata, "buffer holds %d values, shape %s needs %d", len(data), shape, shape.Len())
	}
	return nil
}

// ParseBatch decodes every element of a batch concurrently.
//
// Arguments:
//   - data: The flat output buffer, borrowed until ParseBatch returns.
//   - shape: The shape of data.
//   - letterboxes: The letterbox of each batch element.
//
// Returns:
//   - BatchResult: Detections by batch index and elapsed time.
//   - error: An error wrapping ErrInvalidMetadata, in which case the result is empty.
func (o *Orchestrator) ParseBatch(data []float32, shape postprocess.TensorShape, letterboxes []postprocess.LetterboxInfo) (BatchResult, error) {
	log := o.logger.WithFields(logrus.Fields{
		"batch_id": uuid.NewString(),
		"shape":    shape.String(),
	})

	if err := ValidateBatch(data, shape, letterboxes); err != nil {
		log.WithError(err).Warn("rejected batch")
		return BatchResult{}, err
	}

	detections := make([][]postprocess.Detection, shape.Batch)

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(o.maxWorkers)
	for b := 0; b < shape.Batch; b++ {
		g.Go(func() error {
			opts := o.options
			opts.Logger = log.WithField("batch", b)
			detections[b] = yolov8.Parse(data, shape, letterboxes[b], b, opts)
			return nil
		})
	}
	_ = g.Wait()
	elapsed := float64(time.Since(start)) / float64(time.Millisecond)

	log.WithFields(logrus.Fields{
		"elapsed_ms": elapsed,
		"detections": countDetections(detections),
	}).Debug("decoded batch")

	if o.listener != nil {
		o.listener.ParsingFinished(elapsed)
		for b, dets := range detections {
			o.listener.DetectionsReady(b, dets)
		}
	}

	return BatchResult{Detections: detections, ElapsedMS: elapsed}, nil
}

// ParseBatchAsync decodes a batch in the background. The returned channel
// receives exactly one result and is then closed. data must not be modified
// until the result has been received.
func (o *Orchestrator) ParseBatchAsync(data []float32, shape postprocess.TensorShape, letterboxes []postprocess.LetterboxInfo) <-chan BatchResult {
	out := make(chan BatchResult, 1)
	go func() {
		defer close(out)
		res, _ := o.ParseBatch(data, shape, letterboxes)
		out <- res
	}()
	return out
}

// ParseBatchBytes decodes a batch given as a little-endian float32 blob.
func (o *Orchestrator) ParseBatchBytes(blob []byte, shape postprocess.TensorShape, letterboxes []postprocess.LetterboxInfo) (BatchResult, error) {
	data, err := util.Float32sFromBytes(blob)
	if err != nil {
		err = errors.Wrapf(ErrInvalidMetadata, "output blob: %v", err)
		o.logger.WithError(err).Warn("rejected batch")
		return BatchResult{}, err
	}
	return o.ParseBatch(data, shape, letterboxes)
}

func countDetections(detections [][]postprocess.Detection) int {
	n := 0
	for _, d := range detections {
		n += len(d)
	}
	return n
}
