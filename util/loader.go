// Package util - File loaders for images and raw output tensors.
package util

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Data is the raw bytes of the image file.
	Data []byte
	// Frame is the frame number parsed from a "frame-<n>" name, or the file's
	// position in name order when the name carries no number.
	Frame int
}

// LoadDirectoryImageFiles reads all image files from a directory.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: Slice of ImageFile ordered by frame number.
// - error: Error if loading fails.
func LoadDirectoryImageFiles(dir string) ([]ImageFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read image directory %s", dir)
	}

	var images []ImageFile
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(file.Name()))
		switch ext {
		case ".jpg", ".jpeg", ".png":
			imgPath := filepath.Join(dir, file.Name())
			data, readErr := os.ReadFile(imgPath)
			if readErr != nil {
				return nil, errors.Wrapf(readErr, "read image %s", imgPath)
			}
			frame, convErr := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "frame-"), filepath.Ext(file.Name())))
			if convErr != nil {
				frame = len(images)
			}
			images = append(images, ImageFile{
				Path:  imgPath,
				Data:  data,
				Frame: frame,
			})
		}
	}

	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Frame < images[j].Frame
	})

	return images, nil
}

// Float32sFromBytes decodes a little-endian float32 blob.
//
// Returns:
// - []float32: The decoded values.
// - error: Error if the blob length is not a multiple of four.
func Float32sFromBytes(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("blob length %d is not a multiple of 4", len(blob))
	}
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out, nil
}

// Float32sToBytes encodes values as a little-endian float32 blob.
func Float32sToBytes(values []float32) []byte {
	blob := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// LoadRawTensor reads a file of little-endian float32 values, as dumped from
// an inference runtime's output buffer.
func LoadRawTensor(path string) ([]float32, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read tensor %s", path)
	}
	values, err := Float32sFromBytes(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "decode tensor %s", path)
	}
	return values, nil
}

// SaveRawTensor writes values as little-endian float32.
func SaveRawTensor(path string, values []float32) error {
	return errors.Wrapf(os.WriteFile(path, Float32sToBytes(values), 0o644), "write tensor %s", path)
}
