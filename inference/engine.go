// Package inference - Batch decoding of YOLOv8 outputs and the engine that feeds it.
package inference

import (
	"context"
	"image"
	"io"

	"github.com/nvr-ai/go-yolo/inference/providers"
	"github.com/nvr-ai/go-yolo/models/model/preprocess"
	"github.com/pkg/errors"
)

// Runner executes a model on a preprocessed batch tensor.
type Runner interface {
	Run(input []float32) (providers.RawOutput, error)
}

// Engine runs images through preprocessing, the model and batch decoding.
type Engine interface {
	Detect(ctx context.Context, imgs []image.Image) (BatchResult, error)
	Close() error
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	preprocessor *preprocess.Preprocessor
	runner       Runner
	orchestrator *Orchestrator
	workers      int
	err          error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{workers: DefaultMaxWorkers}
}

// WithPreprocessor sets the letterbox preprocessor.
func (b *EngineBuilder) WithPreprocessor(p *preprocess.Preprocessor) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.preprocessor = p
	return b
}

// WithRunner sets the model runner, usually a *providers.Session.
func (b *EngineBuilder) WithRunner(r Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.runner = r
	return b
}

// WithSession opens an ONNX Runtime session and uses it as the runner.
func (b *EngineBuilder) WithSession(args providers.NewSessionArgs) *EngineBuilder {
	if b.HasError() {
		return b
	}
	session, err := providers.NewSession(args)
	if err != nil {
		b.err = err
		return b
	}
	b.runner = session
	return b
}

// WithOrchestrator sets the batch decoder and its preprocessing concurrency.
func (b *EngineBuilder) WithOrchestrator(o *Orchestrator) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.orchestrator = o
	if o != nil {
		b.workers = o.maxWorkers
	}
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

// Build builds the engine.
//
// Returns:
//   - Engine: The engine.
//   - error: The first error recorded by the builder or a missing component.
func (b *EngineBuilder) Build() (Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.preprocessor == nil {
		return nil, errors.New("preprocessor not configured")
	}
	if b.runner == nil {
		return nil, errors.New("runner not configured")
	}
	if b.orchestrator == nil {
		return nil, errors.New("orchestrator not configured")
	}

	return &engine{
		preprocessor: b.preprocessor,
		runner:       b.runner,
		orchestrator: b.orchestrator,
		workers:      b.workers,
	}, nil
}

// engine implements the Engine interface.
type engine struct {
	preprocessor *preprocess.Preprocessor
	runner       Runner
	orchestrator *Orchestrator
	workers      int
}

// Detect letterboxes imgs into one batch, runs the model and decodes the output.
//
// Arguments:
//   - ctx: Cancels preprocessing.
//   - imgs: The images of the batch, at most the model batch size.
//
// Returns:
//   - BatchResult: Detections per image in original image pixels.
//   - error: An error from preprocessing, inference or batch validation.
func (e *engine) Detect(ctx context.Context, imgs []image.Image) (BatchResult, error) {
	data, letterboxes, err := e.preprocessor.Batch(ctx, imgs, e.workers)
	if err != nil {
		return BatchResult{}, err
	}
	out, err := e.runner.Run(data)
	if err != nil {
		return BatchResult{}, errors.Wrap(err, "run model")
	}
	if out.Shape.Batch > len(imgs) {
		out.Shape.Batch = len(imgs)
	}
	return e.orchestrator.ParseBatch(out.Data, out.Shape, letterboxes)
}

// Close releases the runner when it holds native resources.
func (e *engine) Close() error {
	if c, ok := e.runner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
