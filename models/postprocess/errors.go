package postprocess

import "github.com/pkg/errors"

// ErrInvalidLetterbox is returned when letterbox metadata cannot map boxes back to an image.
var ErrInvalidLetterbox = errors.New("invalid letterbox metadata")
