// Package providers - ONNX Runtime sessions producing raw detection outputs.
package providers

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Backend names an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CoreMLBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLBackend Backend = "coreml"
	// CUDABackend uses NVIDIA CUDA for GPU acceleration.
	CUDABackend Backend = "cuda"
	// OpenVINOBackend uses Intel OpenVINO for CPU/GPU acceleration.
	OpenVINOBackend Backend = "openvino"
)

// ParseBackend resolves a backend name, case-insensitively. Empty means CPU.
func ParseBackend(name string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(name))); b {
	case "":
		return CPUBackend, nil
	case CPUBackend, CoreMLBackend, CUDABackend, OpenVINOBackend:
		return b, nil
	default:
		return "", errors.Errorf("unsupported execution provider %q", name)
	}
}

// ProviderOptions configures the execution provider and threading of a session.
type ProviderOptions struct {
	Backend Backend `json:"backend" yaml:"backend"`
	// DeviceID selects the CUDA device or the OpenVINO device id.
	DeviceID int `json:"device_id" yaml:"device_id"`
	// DeviceType is the OpenVINO device type, e.g. "CPU" or "GPU".
	DeviceType string `json:"device_type" yaml:"device_type"`
	// CoreMLFlags is passed through to the CoreML provider.
	CoreMLFlags uint32 `json:"coreml_flags" yaml:"coreml_flags"`
	// IntraOpThreads and InterOpThreads of zero let the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads"`
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads"`
}

// openVINOConfig returns the provider map for OpenVINO.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
func (o ProviderOptions) openVINOConfig() map[string]string {
	config := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.DeviceType != "" {
		config["device_type"] = o.DeviceType
	}
	if o.IntraOpThreads > 0 {
		config["num_of_threads"] = strconv.Itoa(o.IntraOpThreads)
	}
	return config
}

// apply configures session options for the selected backend.
func (o ProviderOptions) apply(options *ort.SessionOptions) error {
	if err := options.SetIntraOpNumThreads(o.IntraOpThreads); err != nil {
		return errors.Wrap(err, "set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(o.InterOpThreads); err != nil {
		return errors.Wrap(err, "set inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "set graph optimization level")
	}

	switch o.Backend {
	case "", CPUBackend:
		return nil
	case CoreMLBackend:
		return errors.Wrap(options.AppendExecutionProviderCoreML(o.CoreMLFlags), "enable CoreML")
	case OpenVINOBackend:
		return errors.Wrap(options.AppendExecutionProviderOpenVINO(o.openVINOConfig()), "enable OpenVINO")
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "create CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{"device_id": strconv.Itoa(o.DeviceID)}); err != nil {
			return errors.Wrap(err, "update CUDA options")
		}
		return errors.Wrap(options.AppendExecutionProviderCUDA(cuda), "enable CUDA")
	default:
		return errors.Errorf("unsupported execution provider %q", o.Backend)
	}
}
