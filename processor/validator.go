package processor

import (
	"bytes"
	"fmt"
	"image"
	"mime"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	// decoders for the structural check
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// DefaultMaxPixels bounds width*height of an accepted upload. A decoded image
// costs up to 4 bytes per pixel and is copied again while normalizing.
const DefaultMaxPixels = 89_478_485

var allowedMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/jpg":  true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
}

// AllowedMIMETypes lists the declared content types an upload may carry.
func AllowedMIMETypes() []string {
	out := make([]string, 0, len(allowedMIMETypes))
	for t := range allowedMIMETypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Validate checks an upload before any processing happens. The size limit is
// enforced first, then the declared type, then the pixel budget read from the
// image header, then a full structural decode; the decode is authoritative
// over whatever the client declared. maxPixels <= 0 means DefaultMaxPixels.
func Validate(data []byte, contentType string, maxSize, maxPixels int64) error {
	if int64(len(data)) > maxSize {
		return fmt.Errorf("%w: maximum size is %.1fMB", ErrTooLarge, float64(maxSize)/(1024*1024))
	}

	if !allowedMIMETypes[baseMediaType(contentType)] {
		return fmt.Errorf("%w: %q, allowed types: %s", ErrUnsupportedType, contentType, strings.Join(AllowedMIMETypes(), ", "))
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: empty file", ErrCorruptImage)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return corrupt(data, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height, maxPixels); err != nil {
		return err
	}
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		return corrupt(data, err)
	}
	return nil
}

func checkPixels(width, height int, maxPixels int64) error {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrCorruptImage, width, height)
	}
	// each side is checked first so the product cannot overflow
	if int64(width) > maxPixels || int64(height) > maxPixels || int64(width)*int64(height) > maxPixels {
		return fmt.Errorf("%w: image is %dx%d pixels, limit is %d", ErrTooLarge, width, height, maxPixels)
	}
	return nil
}

func corrupt(data []byte, err error) error {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: content looks like %s", ErrCorruptImage, detected.String())
	}
	return fmt.Errorf("%w: %s: %v", ErrCorruptImage, detected.String(), err)
}

func baseMediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = contentType
	}
	return strings.ToLower(strings.TrimSpace(mt))
}
