package benchmark

import (
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-yolo/inference"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Suite manages and executes benchmark scenarios
type Suite struct {
	orchestrator *inference.Orchestrator
	logger       logrus.FieldLogger
	outputDir    string
	mu           sync.RWMutex
	scenarios    []Scenario
	results      []PerformanceMetrics
}

// NewSuite creates a new benchmark suite.
//
// Arguments:
//   - o: The orchestrator to benchmark.
//   - outputDir: Where WriteResults stores its report. Empty disables writing.
//   - logger: Receives one entry per scenario. Nil is not allowed.
//
// Returns:
//   - *Suite: The benchmark suite.
func NewSuite(o *inference.Orchestrator, outputDir string, logger logrus.FieldLogger) *Suite {
	return &Suite{
		orchestrator: o,
		logger:       logger,
		outputDir:    outputDir,
	}
}

// AddScenario adds a scenario to the suite.
func (bs *Suite) AddScenario(scenario Scenario) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.scenarios = append(bs.scenarios, scenario)
}

// RunAll runs every scenario in order. A failing scenario is logged and skipped.
func (bs *Suite) RunAll() []PerformanceMetrics {
	bs.mu.RLock()
	scenarios := append([]Scenario(nil), bs.scenarios...)
	bs.mu.RUnlock()

	for _, s := range scenarios {
		m, err := Run(bs.orchestrator, s)
		if err != nil {
			bs.logger.WithError(err).WithField("scenario", s.Name).Error("scenario failed")
			continue
		}
		bs.logger.WithFields(logrus.Fields{
			"scenario":   s.Name,
			"mean_ms":    m.Latency.MeanMS,
			"p95_ms":     m.Latency.P95MS,
			"detections": m.DetectionsPerBatch,
		}).Info("scenario finished")

		bs.mu.Lock()
		bs.results = append(bs.results, *m)
		bs.mu.Unlock()
	}
	return bs.Results()
}

// Results returns a copy of the collected metrics.
func (bs *Suite) Results() []PerformanceMetrics {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return append([]PerformanceMetrics(nil), bs.results...)
}

// WriteResults writes the collected metrics as indented JSON to
// <outputDir>/benchmark.json and returns the path.
func (bs *Suite) WriteResults() (string, error) {
	if bs.outputDir == "" {
		return "", errors.New("no output directory configured")
	}
	if err := os.MkdirAll(bs.outputDir, 0o755); err != nil {
		return "", errors.Wrap(err, "create output directory")
	}
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(bs.Results(), "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode results")
	}
	path := filepath.Join(bs.outputDir, "benchmark.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write results")
	}
	return path, nil
}
