// Package benchmark - Decode benchmarks over synthetic YOLOv8 outputs.
package benchmark

import (
	"fmt"

	"github.com/nvr-ai/go-yolo/images"
	"github.com/nvr-ai/go-yolo/inference"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/pkg/errors"
)

// Scenario defines a synthetic decode workload.
type Scenario struct {
	Name string `json:"name" yaml:"name"`
	// Shape is the synthetic output shape.
	Shape postprocess.TensorShape `json:"shape" yaml:"shape"`
	// Density is the fraction of boxes given a confident class score.
	Density float64 `json:"density" yaml:"density"`
	// SourceWidth and SourceHeight are the frame size the letterbox maps back to.
	SourceWidth  int `json:"source_width" yaml:"source_width"`
	SourceHeight int `json:"source_height" yaml:"source_height"`
	// InputSize is the square model input edge.
	InputSize  int    `json:"input_size" yaml:"input_size"`
	Iterations int    `json:"iterations" yaml:"iterations"`
	WarmupRuns int    `json:"warmup_runs" yaml:"warmup_runs"`
	Seed       uint64 `json:"seed" yaml:"seed"`
}

// Validate reports whether the scenario can be run.
func (s Scenario) Validate() error {
	if s.Iterations <= 0 {
		return errors.Errorf("scenario %q: iterations must be positive", s.Name)
	}
	if s.Density < 0 || s.Density > 1 {
		return errors.Errorf("scenario %q: density %v not in [0, 1]", s.Name, s.Density)
	}
	if s.InputSize <= 0 || s.SourceWidth <= 0 || s.SourceHeight <= 0 {
		return errors.Errorf("scenario %q: sizes must be positive", s.Name)
	}
	return nil
}

// ScenarioBuilder helps build scenarios with a fluent API.
type ScenarioBuilder struct {
	scenario Scenario
}

// NewScenarioBuilder creates a builder for a single 640x640 COCO output.
func NewScenarioBuilder(name string) *ScenarioBuilder {
	return &ScenarioBuilder{
		scenario: Scenario{
			Name:         name,
			Shape:        postprocess.TensorShape{Batch: 1, Channels: 84, Boxes: 8400},
			Density:      0.01,
			SourceWidth:  1920,
			SourceHeight: 1080,
			InputSize:    640,
			Iterations:   100,
			WarmupRuns:   10,
			Seed:         1,
		},
	}
}

// WithShape sets the output shape.
func (sb *ScenarioBuilder) WithShape(batch, channels, boxes int) *ScenarioBuilder {
	sb.scenario.Shape = postprocess.TensorShape{Batch: batch, Channels: channels, Boxes: boxes}
	return sb
}

// WithDensity sets the fraction of confident boxes.
func (sb *ScenarioBuilder) WithDensity(density float64) *ScenarioBuilder {
	sb.scenario.Density = density
	return sb
}

// WithResolution sets the source frame size.
func (sb *ScenarioBuilder) WithResolution(width, height int) *ScenarioBuilder {
	sb.scenario.SourceWidth = width
	sb.scenario.SourceHeight = height
	return sb
}

// WithIterations sets the number of measured iterations.
func (sb *ScenarioBuilder) WithIterations(iterations int) *ScenarioBuilder {
	sb.scenario.Iterations = iterations
	return sb
}

// WithWarmupRuns sets the number of unmeasured warmup runs.
func (sb *ScenarioBuilder) WithWarmupRuns(warmups int) *ScenarioBuilder {
	sb.scenario.WarmupRuns = warmups
	return sb
}

// WithSeed sets the seed of the synthetic tensor.
func (sb *ScenarioBuilder) WithSeed(seed uint64) *ScenarioBuilder {
	sb.scenario.Seed = seed
	return sb
}

// Build returns the configured scenario.
func (sb *ScenarioBuilder) Build() Scenario {
	return sb.scenario
}

// QuickScenarios covers batch sizes and densities at the stock YOLOv8 shape.
func QuickScenarios(iterations int) []Scenario {
	var scenarios []Scenario
	for _, batch := range []int{1, inference.MaxBatch} {
		for _, density := range []float64{0.001, 0.01, 0.05} {
			scenarios = append(scenarios, NewScenarioBuilder(fmt.Sprintf("b%d_d%g", batch, density)).
				WithShape(batch, 84, 8400).
				WithDensity(density).
				WithIterations(iterations).
				WithWarmupRuns(max(iterations/10, 1)).
				Build())
		}
	}
	return scenarios
}

// ResolutionScenarios decodes one stock output per camera resolution, which
// varies only the letterbox mapped back to the source frame.
func ResolutionScenarios(iterations int) []Scenario {
	var scenarios []Scenario
	for _, r := range images.CameraResolutions() {
		scenarios = append(scenarios, NewScenarioBuilder(string(r.Name)).
			WithResolution(r.Width, r.Height).
			WithIterations(iterations).
			WithWarmupRuns(max(iterations/10, 1)).
			Build())
	}
	return scenarios
}
