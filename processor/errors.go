package processor

import "errors"

var (
	ErrTooLarge         = errors.New("file too large")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrCorruptImage     = errors.New("invalid or corrupted image file")
	ErrProcessingFailed = errors.New("image processing failed")
)
