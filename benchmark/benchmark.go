package benchmark

import (
	"math/rand/v2"
	"runtime"
	"time"

	"github.com/nvr-ai/go-yolo/inference"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/pkg/errors"
)

// SyntheticTensor generates an output tensor for a scenario. Roughly Density of
// the boxes get one confident class score in [0.5, 1), the rest stay below 0.1.
// The same seed always yields the same tensor.
//
// Returns:
//   - []float32: The channel-major tensor.
//   - []postprocess.LetterboxInfo: One letterbox per batch element.
//   - error: An error if the scenario is invalid.
func SyntheticTensor(s Scenario) ([]float32, []postprocess.LetterboxInfo, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	lb, err := postprocess.NewLetterboxInfo(s.SourceWidth, s.SourceHeight, s.InputSize, s.InputSize)
	if err != nil {
		return nil, nil, err
	}

	shape := s.Shape
	classes := shape.Classes()
	if classes < 1 {
		return nil, nil, errors.Errorf("scenario %q: shape %s has no class channels", s.Name, shape)
	}

	r := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))
	size := float32(s.InputSize)
	data := make([]float32, shape.Len())
	letterboxes := make([]postprocess.LetterboxInfo, shape.Batch)

	for b := 0; b < shape.Batch; b++ {
		letterboxes[b] = lb
		for i := 0; i < shape.Boxes; i++ {
			data[shape.Offset(b, 0, i)] = r.Float32() * size
			data[shape.Offset(b, 1, i)] = r.Float32() * size
			data[shape.Offset(b, 2, i)] = 8 + r.Float32()*size/4
			data[shape.Offset(b, 3, i)] = 8 + r.Float32()*size/4
			for c := 0; c < classes; c++ {
				data[shape.Offset(b, postprocess.GeometryChannels+c, i)] = r.Float32() * 0.1
			}
			if r.Float64() < s.Density {
				c := r.IntN(classes)
				data[shape.Offset(b, postprocess.GeometryChannels+c, i)] = 0.5 + r.Float32()*0.5
			}
		}
	}
	return data, letterboxes, nil
}

// Run decodes a scenario's synthetic tensor repeatedly and summarizes the
// elapsed time reported by each batch.
//
// Arguments:
//   - o: The orchestrator under test.
//   - s: The scenario.
//
// Returns:
//   - *PerformanceMetrics: The measured metrics.
//   - error: An error if the scenario is invalid or every iteration failed.
func Run(o *inference.Orchestrator, s Scenario) (*PerformanceMetrics, error) {
	data, letterboxes, err := SyntheticTensor(s)
	if err != nil {
		return nil, err
	}

	for i := 0; i < s.WarmupRuns; i++ {
		_, _ = o.ParseBatch(data, s.Shape, letterboxes)
	}

	var startMem, endMem runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&startMem)

	samples := make([]float64, 0, s.Iterations)
	detections := 0
	failures := 0
	start := time.Now()
	for i := 0; i < s.Iterations; i++ {
		res, err := o.ParseBatch(data, s.Shape, letterboxes)
		if err != nil {
			failures++
			continue
		}
		samples = append(samples, res.ElapsedMS)
		for _, d := range res.Detections {
			detections += len(d)
		}
	}
	total := time.Since(start)

	runtime.ReadMemStats(&endMem)

	if len(samples) == 0 {
		return nil, errors.Errorf("scenario %q: all %d iterations failed", s.Name, s.Iterations)
	}

	return &PerformanceMetrics{
		Scenario:           s,
		Timestamp:          start,
		TotalDuration:      total,
		Latency:            Summarize(samples),
		BatchesPerSecond:   finite(float64(len(samples)) / total.Seconds()),
		DetectionsPerBatch: float64(detections) / float64(len(samples)),
		ErrorRate:          float64(failures) / float64(s.Iterations),
		MemoryStats:        memoryDelta(&startMem, &endMem),
		NumCPU:             runtime.NumCPU(),
	}, nil
}
