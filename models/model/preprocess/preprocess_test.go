package preprocess

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/nvr-ai/go-yolo/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gray = float32(114) / 255

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pixel returns the RGB values of tensor position (x, y) of a CHW tensor.
func pixel(data []float32, w, h, x, y int) [3]float32 {
	plane := w * h
	i := y*w + x
	return [3]float32{data[i], data[plane+i], data[2*plane+i]}
}

func TestNewPreprocessor(t *testing.T) {
	_, err := NewPreprocessor(Config{InputWidth: 0, InputHeight: 640}, nil)
	assert.Error(t, err)

	p, err := NewPreprocessor(Config{InputWidth: 320, InputHeight: 320}, nil)
	require.NoError(t, err)
	assert.Equal(t, LetterboxGray, p.config.PadColor, "pad color defaults to gray")
}

func TestLetterbox(t *testing.T) {
	p, err := NewPreprocessor(DefaultConfig(), nil)
	require.NoError(t, err)

	res, err := p.Letterbox(solidImage(1280, 720, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)

	assert.Equal(t, postprocess.LetterboxInfo{
		Scale:          0.5,
		PadX:           0,
		PadY:           140,
		OriginalWidth:  1280,
		OriginalHeight: 720,
	}, res.Letterbox)
	assert.Equal(t, []int64{3, 640, 640}, res.Shape)
	require.Len(t, res.Data, 3*640*640)

	for _, pt := range [][2]int{{0, 0}, {639, 139}, {320, 500}} {
		px := pixel(res.Data, 640, 640, pt[0], pt[1])
		assert.Equal(t, [3]float32{gray, gray, gray}, px, "padding at %v", pt)
	}

	px := pixel(res.Data, 640, 640, 320, 320)
	assert.InDelta(t, 1, px[0], 0.01)
	assert.InDelta(t, 0, px[1], 0.01)
	assert.InDelta(t, 0, px[2], 0.01)
}

func TestPreprocess(t *testing.T) {
	p, err := NewPreprocessor(Config{InputWidth: 64, InputHeight: 64}, nil)
	require.NoError(t, err)

	data := encodePNG(t, solidImage(32, 64, color.RGBA{G: 255, A: 255}))
	res, err := p.Preprocess(&Image{Format: ImageFormatPNG, Data: data})
	require.NoError(t, err)

	assert.Equal(t, float32(1), res.Letterbox.Scale)
	assert.Equal(t, 16, res.Letterbox.PadX)
	assert.Equal(t, 0, res.Letterbox.PadY)

	assert.Equal(t, [3]float32{gray, gray, gray}, pixel(res.Data, 64, 64, 0, 10))
	assert.Equal(t, [3]float32{0, 1, 0}, pixel(res.Data, 64, 64, 32, 10))
}

func TestPreprocess_Errors(t *testing.T) {
	p, err := NewPreprocessor(DefaultConfig(), nil)
	require.NoError(t, err)

	tests := []struct {
		name string
		img  *Image
	}{
		{"nil image", nil},
		{"empty data", &Image{Format: ImageFormatJPEG}},
		{"not an image", &Image{Format: ImageFormatJPEG, Data: []byte("not an image")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Preprocess(tt.img)
			assert.Error(t, err)
		})
	}
}

func TestBatch(t *testing.T) {
	p, err := NewPreprocessor(Config{InputWidth: 64, InputHeight: 64}, nil)
	require.NoError(t, err)

	imgs := []image.Image{
		solidImage(128, 64, color.RGBA{R: 255, A: 255}),
		solidImage(64, 64, color.RGBA{B: 255, A: 255}),
	}
	data, lbs, err := p.Batch(context.Background(), imgs, 2)
	require.NoError(t, err)
	require.Len(t, data, 2*3*64*64)
	require.Len(t, lbs, 2)

	assert.Equal(t, float32(0.5), lbs[0].Scale)
	assert.Equal(t, 16, lbs[0].PadY)
	assert.Equal(t, float32(1), lbs[1].Scale)

	second := data[3*64*64:]
	assert.Equal(t, [3]float32{0, 0, 1}, pixel(second, 64, 64, 10, 10))

	_, _, err = p.Batch(context.Background(), nil, 2)
	assert.Error(t, err)

	_, _, err = p.Batch(context.Background(), []image.Image{image.NewRGBA(image.Rect(0, 0, 0, 0))}, 1)
	assert.Error(t, err)
}
