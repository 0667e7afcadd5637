package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-yolo/inference"
	"github.com/nvr-ai/go-yolo/logging"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(t *testing.T) *inference.Orchestrator {
	t.Helper()
	o, err := inference.NewOrchestrator(inference.DefaultConfig())
	require.NoError(t, err)
	return o
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{5, 1, 4, 2, 3})

	assert.Equal(t, 5, s.Samples)
	assert.InDelta(t, 3.0, s.MeanMS, 1e-9)
	assert.Equal(t, 1.0, s.MinMS)
	assert.Equal(t, 5.0, s.MaxMS)
	assert.Equal(t, 3.0, s.P50MS)
	assert.Equal(t, 5.0, s.P95MS)
	assert.Equal(t, 5.0, s.P99MS)
	assert.InDelta(t, 1.5811, s.StdDev, 1e-4)
}

func TestSummarize_Edges(t *testing.T) {
	assert.Equal(t, LatencyStats{}, Summarize(nil))

	one := Summarize([]float64{2.5})
	assert.Equal(t, 1, one.Samples)
	assert.Equal(t, 2.5, one.MeanMS)
	assert.Zero(t, one.StdDev)
}

func TestSummarize_DoesNotModifyInput(t *testing.T) {
	in := []float64{3, 1, 2}
	Summarize(in)
	assert.Equal(t, []float64{3, 1, 2}, in)
}

func TestScenarioBuilder_Defaults(t *testing.T) {
	s := NewScenarioBuilder("default").Build()

	assert.Equal(t, "default", s.Name)
	assert.Equal(t, postprocess.TensorShape{Batch: 1, Channels: 84, Boxes: 8400}, s.Shape)
	assert.Equal(t, 640, s.InputSize)
	assert.Equal(t, 1920, s.SourceWidth)
	assert.Equal(t, 1080, s.SourceHeight)
	assert.NoError(t, s.Validate())
}

func TestScenario_Validate(t *testing.T) {
	tests := []struct {
		name     string
		scenario Scenario
	}{
		{"no iterations", NewScenarioBuilder("x").WithIterations(0).Build()},
		{"negative density", NewScenarioBuilder("x").WithDensity(-0.1).Build()},
		{"density above one", NewScenarioBuilder("x").WithDensity(1.5).Build()},
		{"no resolution", NewScenarioBuilder("x").WithResolution(0, 1080).Build()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.scenario.Validate())
		})
	}
}

func TestQuickScenarios(t *testing.T) {
	scenarios := QuickScenarios(20)
	require.Len(t, scenarios, 6)
	for _, s := range scenarios {
		assert.NoError(t, s.Validate())
		assert.Equal(t, 20, s.Iterations)
		assert.Equal(t, 2, s.WarmupRuns)
	}
}

func TestResolutionScenarios(t *testing.T) {
	scenarios := ResolutionScenarios(5)
	require.NotEmpty(t, scenarios)
	assert.Equal(t, "nHD", scenarios[0].Name)
	assert.Equal(t, 640, scenarios[0].SourceWidth)
	assert.Equal(t, 360, scenarios[0].SourceHeight)
	for _, s := range scenarios {
		assert.NoError(t, s.Validate())
	}
}

func TestSyntheticTensor_Deterministic(t *testing.T) {
	s := NewScenarioBuilder("seeded").WithShape(2, 84, 300).WithSeed(42).Build()

	a, lbA, err := SyntheticTensor(s)
	require.NoError(t, err)
	b, lbB, err := SyntheticTensor(s)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, lbA, lbB)
	assert.Len(t, a, s.Shape.Len())
	require.Len(t, lbA, 2)
	assert.InDelta(t, 1.0/3, lbA[0].Scale, 1e-6)
	assert.Equal(t, 140, lbA[0].PadY)

	c, _, err := SyntheticTensor(NewScenarioBuilder("seeded").WithShape(2, 84, 300).WithSeed(43).Build())
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSyntheticTensor_Density(t *testing.T) {
	confident := func(s Scenario) int {
		data, _, err := SyntheticTensor(s)
		require.NoError(t, err)
		n := 0
		for b := 0; b < s.Shape.Batch; b++ {
			for c := 0; c < s.Shape.Classes(); c++ {
				for i := 0; i < s.Shape.Boxes; i++ {
					if data[s.Shape.Offset(b, postprocess.GeometryChannels+c, i)] >= 0.5 {
						n++
					}
				}
			}
		}
		return n
	}

	assert.Zero(t, confident(NewScenarioBuilder("empty").WithShape(1, 84, 500).WithDensity(0).Build()))
	assert.Equal(t, 500, confident(NewScenarioBuilder("full").WithShape(1, 84, 500).WithDensity(1).Build()))
}

func TestRun(t *testing.T) {
	s := NewScenarioBuilder("small").WithShape(2, 84, 400).WithDensity(0.05).WithIterations(5).WithWarmupRuns(1).Build()

	m, err := Run(newOrchestrator(t), s)
	require.NoError(t, err)

	assert.Equal(t, s, m.Scenario)
	assert.Equal(t, 5, m.Latency.Samples)
	assert.Zero(t, m.ErrorRate)
	assert.Greater(t, m.DetectionsPerBatch, 0.0)
	assert.GreaterOrEqual(t, m.BatchesPerSecond, 0.0)
	assert.Positive(t, m.NumCPU)
}

func TestRun_NoDetections(t *testing.T) {
	s := NewScenarioBuilder("quiet").WithShape(1, 84, 100).WithDensity(0).WithIterations(3).WithWarmupRuns(0).Build()

	m, err := Run(newOrchestrator(t), s)
	require.NoError(t, err)
	assert.Zero(t, m.DetectionsPerBatch)
}

func TestRun_Errors(t *testing.T) {
	o := newOrchestrator(t)

	_, err := Run(o, NewScenarioBuilder("bad").WithIterations(0).Build())
	assert.Error(t, err)

	// Five channels pass scenario validation but every batch is rejected.
	_, err = Run(o, NewScenarioBuilder("narrow").WithShape(1, 5, 10).WithIterations(2).WithWarmupRuns(0).Build())
	assert.Error(t, err)
}

func TestSuite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	suite := NewSuite(newOrchestrator(t), dir, logging.Discard())
	suite.AddScenario(NewScenarioBuilder("a").WithShape(1, 84, 100).WithIterations(2).WithWarmupRuns(0).Build())
	suite.AddScenario(NewScenarioBuilder("broken").WithShape(1, 5, 10).WithIterations(2).WithWarmupRuns(0).Build())
	suite.AddScenario(NewScenarioBuilder("b").WithShape(2, 84, 100).WithIterations(2).WithWarmupRuns(0).Build())

	results := suite.RunAll()
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Scenario.Name)
	assert.Equal(t, "b", results[1].Scenario.Name)

	path, err := suite.WriteResults()
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded []PerformanceMetrics
	require.NoError(t, jsoniter.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "b", decoded[1].Scenario.Name)
	assert.Equal(t, 2, decoded[1].Latency.Samples)
}

func TestSuite_WriteResultsWithoutDir(t *testing.T) {
	_, err := NewSuite(newOrchestrator(t), "", logging.Discard()).WriteResults()
	assert.Error(t, err)
}

func BenchmarkParseBatch(b *testing.B) {
	o, err := inference.NewOrchestrator(inference.DefaultConfig())
	require.NoError(b, err)
	s := NewScenarioBuilder("bench").WithShape(inference.MaxBatch, 84, 8400).Build()
	data, lbs, err := SyntheticTensor(s)
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := o.ParseBatch(data, s.Shape, lbs); err != nil {
			b.Fatal(err)
		}
	}
}
