package providers

import (
	"os"
	"sync"

	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

var envMu sync.Mutex

// RawOutput is the flat output of one inference run.
type RawOutput struct {
	// Data is a copy of the output tensor, safe to keep after the next Run.
	Data  []float32
	Shape postprocess.TensorShape
}

// NewSessionArgs represents the arguments for creating a new detector session.
type NewSessionArgs struct {
	// The path to the ONNX model file.
	ModelPath string `json:"model_path" yaml:"model_path"`
	// The path to the ONNX Runtime shared library. Empty uses SharedLibPath.
	SharedLibPath string `json:"shared_lib_path" yaml:"shared_lib_path"`
	// InputName and OutputName default to the YOLOv8 export names.
	InputName  string `json:"input_name" yaml:"input_name"`
	OutputName string `json:"output_name" yaml:"output_name"`
	// InputShape is [batch, 3, height, width].
	InputShape [4]int64 `json:"input_shape" yaml:"input_shape"`
	// OutputShape is [batch, 4+classes, boxes].
	OutputShape [3]int64 `json:"output_shape" yaml:"output_shape"`
	// Provider selects the execution provider.
	Provider ProviderOptions `json:"provider" yaml:"provider"`
}

// YOLOv8SessionArgs returns arguments for a stock 80 class YOLOv8 export.
func YOLOv8SessionArgs(modelPath string, batch, size int64) NewSessionArgs {
	boxes := (size/8)*(size/8) + (size/16)*(size/16) + (size/32)*(size/32)
	return NewSessionArgs{
		ModelPath:   modelPath,
		InputName:   "images",
		OutputName:  "output0",
		InputShape:  [4]int64{batch, 3, size, size},
		OutputShape: [3]int64{batch, 84, boxes},
	}
}

// Session represents a model session with preallocated input and output tensors.
type Session struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	shape   postprocess.TensorShape
}

// NewSession creates a new ONNX Runtime session.
//
// Order of operations:
//  1. Library path check and one-time environment setup.
//  2. Tensor allocation for the fixed input and output shapes.
//  3. Session options and execution provider.
//  4. Session creation, binding the tensors.
//
// Arguments:
//   - args: The arguments for the session.
//
// Returns:
//   - *Session: The session. The caller must Close it.
//   - error: An error if the session creation fails.
func NewSession(args NewSessionArgs) (*Session, error) {
	if args.InputName == "" {
		args.InputName = "images"
	}
	if args.OutputName == "" {
		args.OutputName = "output0"
	}
	shape, err := postprocess.NewTensorShape(args.OutputShape[:]...)
	if err != nil {
		return nil, errors.Wrap(err, "output shape")
	}
	if err := initEnvironment(args.SharedLibPath); err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(args.InputShape[:]...))
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(args.OutputShape[:]...))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "create output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "create session options")
	}
	defer options.Destroy()

	if err := args.Provider.apply(options); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		args.ModelPath,
		[]string{args.InputName},
		[]string{args.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(err, "create session for %s", args.ModelPath)
	}

	return &Session{
		session: session,
		input:   input,
		output:  output,
		shape:   shape,
	}, nil
}

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libPath == "" {
		libPath = SharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	ort.SetSharedLibraryPath(libPath)
	return errors.Wrap(ort.InitializeEnvironment(), "initialize ONNX Runtime")
}

// OutputShape returns the shape of the tensors returned by Run.
func (s *Session) OutputShape() postprocess.TensorShape {
	return s.shape
}

// Run copies input into the bound input tensor, runs the model and returns a
// copy of the output tensor.
func (s *Session) Run(input []float32) (RawOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return RawOutput{}, errors.New("session is closed")
	}
	dst := s.input.GetData()
	if len(input) != len(dst) {
		return RawOutput{}, errors.Errorf("input has %d values, model expects %d", len(input), len(dst))
	}
	copy(dst, input)

	if err := s.session.Run(); err != nil {
		return RawOutput{}, errors.Wrap(err, "run session")
	}

	out := s.output.GetData()
	data := make([]float32, len(out))
	copy(data, out)
	return RawOutput{Data: data, Shape: s.shape}, nil
}

// Close releases the native session and tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.input != nil {
		s.input.Destroy()
		s.input = nil
	}
	if s.output != nil {
		s.output.Destroy()
		s.output = nil
	}
	if s.session != nil {
		err := s.session.Destroy()
		s.session = nil
		if err != nil {
			return errors.Wrap(err, "destroy session")
		}
	}
	return nil
}
