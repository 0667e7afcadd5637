// Package models - Class label tables for detection outputs.
package models

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// UnknownLabel is returned for class ids that have no entry in a label table.
const UnknownLabel = "unknown"

// Labels is an ordered class label table, indexed by class id.
type Labels []string

// Name returns the label for a class id, or UnknownLabel when the id is out of range.
func (l Labels) Name(id int) string {
	if id < 0 || id >= len(l) {
		return UnknownLabel
	}
	return l[id]
}

// Index returns the class id for a label.
func (l Labels) Index(name string) (int, bool) {
	for i, n := range l {
		if n == name {
			return i, true
		}
	}
	return -1, false
}

// LoadLabels reads a text file with one class name per line. Blank lines are skipped.
//
// Arguments:
//   - path: The path to the label file.
//
// Returns:
//   - Labels: The label table in file order.
//   - error: An error if the file cannot be read or holds no labels.
func LoadLabels(path string) (Labels, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open label file")
	}
	defer f.Close()

	labels := Labels{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read label file %s", path)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %s is empty", path)
	}
	return labels, nil
}

// YOLOClasses is the 80 COCO classes in YOLO order, no background class.
var YOLOClasses = Labels{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}
