// Command yoloparse decodes YOLOv8 output tensors, benchmarks the decoder and
// runs detection over a directory of images.
package main

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/akamensky/argparse"
	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-yolo/benchmark"
	"github.com/nvr-ai/go-yolo/inference"
	"github.com/nvr-ai/go-yolo/inference/providers"
	"github.com/nvr-ai/go-yolo/logging"
	"github.com/nvr-ai/go-yolo/models/model/preprocess"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/nvr-ai/go-yolo/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func main() {
	parser := argparse.NewParser("yoloparse", "Decode and benchmark YOLOv8 detector outputs")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML or JSON decoding configuration"})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "Log level", Default: "info"})
	logFile := parser.String("", "log-file", &argparse.Options{Help: "Also write logs to this rotated file"})
	output := parser.String("o", "output", &argparse.Options{Help: "Output file or directory. Defaults to stdout"})

	decodeCmd := parser.NewCommand("decode", "Decode a raw little-endian float32 output tensor")
	tensorFile := decodeCmd.String("t", "tensor", &argparse.Options{Help: "Raw tensor file", Required: true})
	shapeArg := decodeCmd.String("s", "shape", &argparse.Options{Help: "Tensor shape as batch,channels,boxes", Default: "1,84,8400"})
	letterboxFile := decodeCmd.String("l", "letterbox", &argparse.Options{Help: "JSON array with one letterbox per batch element"})
	sourceWidth := decodeCmd.Int("", "source-width", &argparse.Options{Help: "Original frame width when no letterbox file is given", Default: 640})
	sourceHeight := decodeCmd.Int("", "source-height", &argparse.Options{Help: "Original frame height when no letterbox file is given", Default: 640})

	benchCmd := parser.NewCommand("bench", "Benchmark batch decoding on synthetic outputs")
	iterations := benchCmd.Int("n", "iterations", &argparse.Options{Help: "Measured iterations per scenario", Default: 100})
	sweep := benchCmd.Flag("r", "resolutions", &argparse.Options{Help: "Also sweep source camera resolutions"})

	detectCmd := parser.NewCommand("detect", "Run an ONNX model over a directory of images")
	modelFile := detectCmd.String("m", "model", &argparse.Options{Help: "Path to ONNX model file", Required: true})
	imageDir := detectCmd.String("i", "images", &argparse.Options{Help: "Directory of JPEG or PNG images", Required: true})
	batchSize := detectCmd.Int("b", "batch", &argparse.Options{Help: "Model batch size", Default: 1})
	backend := detectCmd.String("", "backend", &argparse.Options{Help: "Execution provider: cpu, coreml, cuda or openvino", Default: "cpu"})
	libPath := detectCmd.String("", "ort-lib", &argparse.Options{Help: "ONNX Runtime shared library. Defaults to $" + providers.SharedLibEnv})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	logCfg.File = *logFile
	logger, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg, err := inference.LoadConfig(*configFile)
	if err != nil {
		logger.WithError(err).Fatal("load config")
	}

	switch {
	case decodeCmd.Happened():
		err = runDecode(cfg, logger, *tensorFile, *shapeArg, *letterboxFile, *sourceWidth, *sourceHeight, *output)
	case benchCmd.Happened():
		err = runBench(cfg, logger, *iterations, *sweep, *output)
	case detectCmd.Happened():
		err = runDetect(cfg, logger, detectArgs{
			model:   *modelFile,
			images:  *imageDir,
			batch:   *batchSize,
			backend: *backend,
			libPath: *libPath,
			output:  *output,
		})
	}
	if err != nil {
		logger.WithError(err).Fatal("yoloparse failed")
	}
}

func runDecode(cfg inference.Config, logger *logrus.Logger, tensorPath, shapeArg, letterboxPath string, srcW, srcH int, output string) error {
	shape, err := parseShape(shapeArg)
	if err != nil {
		return err
	}
	data, err := util.LoadRawTensor(tensorPath)
	if err != nil {
		return err
	}

	var letterboxes []postprocess.LetterboxInfo
	if letterboxPath != "" {
		raw, err := os.ReadFile(letterboxPath)
		if err != nil {
			return errors.Wrap(err, "read letterbox file")
		}
		if err := json.Unmarshal(raw, &letterboxes); err != nil {
			return errors.Wrap(err, "parse letterbox file")
		}
	} else {
		lb, err := postprocess.NewLetterboxInfo(srcW, srcH, cfg.InputWidth, cfg.InputHeight)
		if err != nil {
			return err
		}
		for b := 0; b < shape.Batch; b++ {
			letterboxes = append(letterboxes, lb)
		}
	}

	o, err := inference.NewOrchestrator(cfg, inference.WithLogger(logger))
	if err != nil {
		return err
	}
	res, err := o.ParseBatch(data, shape, letterboxes)
	if err != nil {
		return err
	}
	return writeJSON(output, res)
}

func runBench(cfg inference.Config, logger *logrus.Logger, iterations int, sweep bool, outputDir string) error {
	o, err := inference.NewOrchestrator(cfg)
	if err != nil {
		return err
	}
	suite := benchmark.NewSuite(o, outputDir, logger)
	scenarios := benchmark.QuickScenarios(iterations)
	if sweep {
		scenarios = append(scenarios, benchmark.ResolutionScenarios(iterations)...)
	}
	for _, s := range scenarios {
		suite.AddScenario(s)
	}
	results := suite.RunAll()
	if outputDir == "" {
		return writeJSON("", results)
	}
	path, err := suite.WriteResults()
	if err != nil {
		return err
	}
	logger.WithField("path", path).Info("wrote benchmark results")
	return nil
}

type detectArgs struct {
	model   string
	images  string
	batch   int
	backend string
	libPath string
	output  string
}

type frameDetections struct {
	Path       string                  `json:"path"`
	Frame      int                     `json:"frame"`
	Detections []postprocess.Detection `json:"detections"`
}

func runDetect(cfg inference.Config, logger *logrus.Logger, args detectArgs) error {
	if args.batch < 1 || args.batch > inference.MaxBatch {
		return errors.Errorf("batch %d not in [1, %d]", args.batch, inference.MaxBatch)
	}
	if cfg.InputWidth != cfg.InputHeight {
		return errors.Errorf("detect needs a square model input, got %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	be, err := providers.ParseBackend(args.backend)
	if err != nil {
		return err
	}

	files, err := util.LoadDirectoryImageFiles(args.images)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no images in %s", args.images)
	}

	pcfg := preprocess.DefaultConfig()
	pcfg.InputWidth = cfg.InputWidth
	pcfg.InputHeight = cfg.InputHeight
	pre, err := preprocess.NewPreprocessor(pcfg, logger)
	if err != nil {
		return err
	}
	o, err := inference.NewOrchestrator(cfg, inference.WithLogger(logger))
	if err != nil {
		return err
	}

	sessionArgs := providers.YOLOv8SessionArgs(args.model, int64(args.batch), int64(cfg.InputWidth))
	sessionArgs.SharedLibPath = args.libPath
	sessionArgs.Provider.Backend = be
	engine, err := inference.NewEngineBuilder().
		WithPreprocessor(pre).
		WithOrchestrator(o).
		WithSession(sessionArgs).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	var results []frameDetections
	for start := 0; start < len(files); start += args.batch {
		chunk := files[start:min(start+args.batch, len(files))]
		imgs := make([]image.Image, 0, args.batch)
		for _, f := range chunk {
			img, err := pre.Decode(&preprocess.Image{Data: f.Data})
			if err != nil {
				return errors.Wrapf(err, "decode %s", f.Path)
			}
			imgs = append(imgs, img)
		}
		// The session has a fixed batch size, so a short final chunk repeats its last image.
		for len(imgs) < args.batch {
			imgs = append(imgs, imgs[len(imgs)-1])
		}

		res, err := engine.Detect(context.Background(), imgs)
		if err != nil {
			return err
		}
		for i, f := range chunk {
			results = append(results, frameDetections{Path: f.Path, Frame: f.Frame, Detections: res.Detections[i]})
		}
		logger.WithFields(logrus.Fields{
			"first":      chunk[0].Path,
			"images":     len(chunk),
			"elapsed_ms": res.ElapsedMS,
		}).Info("detected batch")
	}
	return writeJSON(args.output, results)
}

func parseShape(s string) (postprocess.TensorShape, error) {
	parts := strings.Split(s, ",")
	dims := make([]int64, 0, len(parts))
	for _, p := range parts {
		d, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return postprocess.TensorShape{}, errors.Wrapf(err, "parse shape %q", s)
		}
		dims = append(dims, d)
	}
	return postprocess.NewTensorShape(dims...)
}

func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return errors.Wrap(err, "create output")
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
