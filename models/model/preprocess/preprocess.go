// Package preprocess - Letterbox preprocessing of images into YOLO input tensors.
package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"sync"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-yolo/logging"
	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ImageFormat represents the format of an image.
type ImageFormat string

const (
	// ImageFormatJPEG represents JPEG image format.
	ImageFormatJPEG ImageFormat = "jpeg"
	// ImageFormatPNG represents PNG image format.
	ImageFormatPNG ImageFormat = "png"
)

// LetterboxGray is the padding color used by Ultralytics style letterboxing.
var LetterboxGray = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Image represents an encoded input image.
type Image struct {
	// The format of the image. Empty means auto-detect.
	Format ImageFormat `json:"format" yaml:"format"`
	// The encoded bytes of the image.
	Data []byte `json:"data" yaml:"data"`
}

// Config defines how images are fitted into the model input.
type Config struct {
	// InputWidth is the expected width of the model input.
	InputWidth int `json:"input_width" yaml:"input_width" validate:"gt=0"`
	// InputHeight is the expected height of the model input.
	InputHeight int `json:"input_height" yaml:"input_height" validate:"gt=0"`
	// PadColor is the color of the letterbox padding.
	PadColor color.Color `json:"-" yaml:"-"`
	// Interpolation is the resampling function used for scaling.
	Interpolation resize.InterpolationFunction `json:"-" yaml:"-"`
}

// DefaultConfig returns the configuration for a 640x640 YOLOv8 input.
func DefaultConfig() Config {
	return Config{
		InputWidth:    640,
		InputHeight:   640,
		PadColor:      LetterboxGray,
		Interpolation: resize.Bilinear,
	}
}

// Result contains the preprocessed tensor and the letterbox that produced it.
type Result struct {
	// Data is the CHW float32 tensor with values in [0, 1].
	Data []float32
	// Letterbox maps detections on Data back to the original image.
	Letterbox postprocess.LetterboxInfo
	// Shape is the tensor shape [C, H, W].
	Shape []int64
}

// Preprocessor letterboxes images for YOLO models.
type Preprocessor struct {
	config     Config
	bufferPool *sync.Pool
	logger     *logrus.Logger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The preprocessing configuration.
//   - logger: The logger for debug output. Nil discards.
//
// Returns:
//   - *Preprocessor: The configured preprocessor.
//   - error: An error if the input size is not positive.
func NewPreprocessor(config Config, logger *logrus.Logger) (*Preprocessor, error) {
	if config.InputWidth <= 0 || config.InputHeight <= 0 {
		return nil, errors.Errorf("invalid input size %dx%d", config.InputWidth, config.InputHeight)
	}
	if config.PadColor == nil {
		config.PadColor = LetterboxGray
	}
	return &Preprocessor{
		config: config,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
		logger: logging.OrDiscard(logger),
	}, nil
}

// Decode decodes an encoded image.
func (p *Preprocessor) Decode(img *Image) (image.Image, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, errors.New("image data is empty")
	}

	buf := p.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		p.bufferPool.Put(buf)
	}()
	buf.Write(img.Data)

	decoded, format, err := image.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "decode image")
	}
	if img.Format != "" && ImageFormat(format) != img.Format {
		p.logger.WithFields(logrus.Fields{"declared": img.Format, "detected": format}).Debug("image format mismatch")
	}
	return decoded, nil
}

// Preprocess decodes and letterboxes an encoded image.
func (p *Preprocessor) Preprocess(img *Image) (*Result, error) {
	decoded, err := p.Decode(img)
	if err != nil {
		return nil, err
	}
	return p.Letterbox(decoded)
}

// Letterbox scales an image uniformly to fit the model input, centers it on a
// padded canvas, and converts it to a CHW tensor.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - *Result: The tensor and the letterbox used.
//   - error: An error if the image is empty.
func (p *Preprocessor) Letterbox(img image.Image) (*Result, error) {
	bounds := img.Bounds()
	lb, err := postprocess.NewLetterboxInfo(bounds.Dx(), bounds.Dy(), p.config.InputWidth, p.config.InputHeight)
	if err != nil {
		return nil, err
	}

	newWidth, newHeight := lb.ScaledSize()
	newWidth = min(newWidth, p.config.InputWidth)
	newHeight = min(newHeight, p.config.InputHeight)

	resized := resize.Resize(uint(newWidth), uint(newHeight), img, p.config.Interpolation)

	canvas := image.NewRGBA(image.Rect(0, 0, p.config.InputWidth, p.config.InputHeight))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: p.config.PadColor}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(lb.PadX, lb.PadY, lb.PadX+newWidth, lb.PadY+newHeight),
		resized, resized.Bounds().Min, draw.Src)

	p.logger.WithFields(logrus.Fields{
		"original": [2]int{lb.OriginalWidth, lb.OriginalHeight},
		"scaled":   [2]int{newWidth, newHeight},
		"pad":      [2]int{lb.PadX, lb.PadY},
		"scale":    lb.Scale,
	}).Debug("letterboxed image")

	return &Result{
		Data:      ToTensor(canvas),
		Letterbox: lb,
		Shape:     []int64{3, int64(p.config.InputHeight), int64(p.config.InputWidth)},
	}, nil
}

// ToTensor converts an RGBA image to a CHW RGB tensor with values in [0, 1].
func ToTensor(img *image.RGBA) []float32 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	plane := width * height

	tensor := make([]float32, 3*plane)
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			px := row[x*4 : x*4+3]
			i := y*width + x
			tensor[i] = float32(px[0]) / 255
			tensor[plane+i] = float32(px[1]) / 255
			tensor[2*plane+i] = float32(px[2]) / 255
		}
	}
	return tensor
}

// Batch letterboxes several images concurrently into one [B, 3, H, W] tensor.
//
// Arguments:
//   - ctx: Cancels outstanding work on the first error.
//   - imgs: The decoded images, one per batch element.
//   - maxConcurrency: Maximum images processed at once. Values below one mean one.
//
// Returns:
//   - []float32: The concatenated batch tensor.
//   - []postprocess.LetterboxInfo: The letterbox of each batch element.
//   - error: The first preprocessing error.
func (p *Preprocessor) Batch(ctx context.Context, imgs []image.Image, maxConcurrency int) ([]float32, []postprocess.LetterboxInfo, error) {
	if len(imgs) == 0 {
		return nil, nil, errors.New("no images to preprocess")
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	plane := 3 * p.config.InputWidth * p.config.InputHeight
	data := make([]float32, len(imgs)*plane)
	letterboxes := make([]postprocess.LetterboxInfo, len(imgs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, img := range imgs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Letterbox(img)
			if err != nil {
				return errors.Wrapf(err, "preprocess image %d", i)
			}
			copy(data[i*plane:(i+1)*plane], res.Data)
			letterboxes[i] = res.Letterbox
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return data, letterboxes, nil
}
