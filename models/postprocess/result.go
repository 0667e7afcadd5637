package postprocess

import "github.com/nvr-ai/go-yolo/images"

// Detection is a single detection in original image pixels.
type Detection struct {
	// The predicted class index.
	ClassID int `json:"class_id"`
	// The bounding box in original image pixels.
	Box images.Rect `json:"box"`
	// The human readable class name, or "unknown".
	Label string `json:"label"`
	// The raw class score.
	Score float32 `json:"score"`
	// The size of the image the box refers to.
	OriginalWidth  int `json:"original_width"`
	OriginalHeight int `json:"original_height"`
}
