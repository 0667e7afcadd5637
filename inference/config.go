package inference

import (
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-yolo/models"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/nvr-ai/go-yolo/models/yolov8"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Environment variables that override loaded configuration.
const (
	EnvConfThreshold = "YOLO_CONF_THRESHOLD"
	EnvIoUThreshold  = "YOLO_IOU_THRESHOLD"
	EnvMaxWorkers    = "YOLO_MAX_WORKERS"
)

// DefaultMaxWorkers is the number of batch elements decoded concurrently.
const DefaultMaxWorkers = 4

var validate = validator.New()

// Config represents the decoding configuration of a YOLOv8 detector.
type Config struct {
	// ConfThreshold filters boxes whose best class score is below this level.
	// Scores are raw model outputs, so values above 1 are allowed.
	ConfThreshold float32 `json:"conf_threshold" yaml:"conf_threshold" validate:"gte=0"`
	// IoUThreshold controls Non-Maximum Suppression.
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold" validate:"gte=0,lte=1"`
	// InputWidth and InputHeight are the model input size.
	InputWidth  int `json:"input_width" yaml:"input_width" validate:"gt=0"`
	InputHeight int `json:"input_height" yaml:"input_height" validate:"gt=0"`
	// MaxWorkers bounds the number of batch elements decoded at once.
	MaxWorkers int `json:"max_workers" yaml:"max_workers" validate:"gte=1,lte=64"`
	// MaxDetections caps detections per image. Zero keeps all.
	MaxDetections int `json:"max_detections" yaml:"max_detections" validate:"gte=0"`
	// SpatialIndexMinBoxes is the class group size from which NMS uses a spatial index.
	SpatialIndexMinBoxes int `json:"spatial_index_min_boxes" yaml:"spatial_index_min_boxes" validate:"gte=0"`
	// LabelsFile is an optional class name file, one per line. Empty uses COCO.
	LabelsFile string `json:"labels_file" yaml:"labels_file"`
}

// DefaultConfig returns the configuration used by stock YOLOv8 exports.
func DefaultConfig() Config {
	return Config{
		ConfThreshold:        yolov8.DefaultConfThreshold,
		IoUThreshold:         yolov8.DefaultIoUThreshold,
		InputWidth:           yolov8.DefaultInputSize,
		InputHeight:          yolov8.DefaultInputSize,
		MaxWorkers:           DefaultMaxWorkers,
		SpatialIndexMinBoxes: postprocess.DefaultSpatialIndexMinBoxes,
	}
}

// LoadConfig reads a YAML or JSON configuration file over the defaults, loads
// an optional .env file and applies environment overrides.
//
// Arguments:
//   - path: The configuration file. Empty uses the defaults.
//
// Returns:
//   - Config: The validated configuration.
//   - error: An error if the file cannot be read or parsed, or the result is invalid.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &cfg)
		case ".json":
			err = jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &cfg)
		default:
			return Config{}, errors.Errorf("unsupported config format %q", ext)
		}
		if err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, errors.Wrap(err, "load .env")
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides thresholds and worker count from the environment.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvConfThreshold); ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvConfThreshold)
		}
		c.ConfThreshold = float32(f)
	}
	if v, ok := os.LookupEnv(EnvIoUThreshold); ok {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvIoUThreshold)
		}
		c.IoUThreshold = float32(f)
	}
	if v, ok := os.LookupEnv(EnvMaxWorkers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse %s", EnvMaxWorkers)
		}
		c.MaxWorkers = n
	}
	return nil
}

// Validate checks the configuration against its field constraints.
func (c Config) Validate() error {
	return errors.Wrap(validate.Struct(c), "invalid config")
}

// DecodeOptions converts the configuration into per-element decoding options.
func (c Config) DecodeOptions() (yolov8.Options, error) {
	opts := yolov8.DefaultOptions()
	opts.ConfThreshold = c.ConfThreshold
	opts.IoUThreshold = c.IoUThreshold
	opts.InputWidth = c.InputWidth
	opts.InputHeight = c.InputHeight
	opts.MaxDetections = c.MaxDetections
	opts.SpatialIndexMinBoxes = c.SpatialIndexMinBoxes

	if c.LabelsFile != "" {
		labels, err := models.LoadLabels(c.LabelsFile)
		if err != nil {
			return yolov8.Options{}, err
		}
		opts.Labels = labels
	}
	return opts, nil
}
