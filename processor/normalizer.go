package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	DefaultMaxDimension = 1024
	DefaultJPEGQuality  = 85

	// FormatJPEG is the only format images are stored in.
	FormatJPEG = "jpeg"
	// Extension of every stored image.
	Extension = "jpg"
)

// NormalizedImage is the canonical rendition of an upload.
type NormalizedImage struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Normalizer decodes uploads, flattens transparency onto white, bounds their
// dimensions and re-encodes them as JPEG.
type Normalizer struct {
	MaxDimension int
	Quality      int
}

func NewNormalizer(maxDimension, quality int) *Normalizer {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &Normalizer{MaxDimension: maxDimension, Quality: quality}
}

func (n *Normalizer) Normalize(data []byte) (*NormalizedImage, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrProcessingFailed, err)
	}
	b := src.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrProcessingFailed, b.Dx(), b.Dy())
	}

	img := flatten(src)

	if img.Bounds().Dx() > n.MaxDimension || img.Bounds().Dy() > n.MaxDimension {
		img = imaging.Fit(img, n.MaxDimension, n.MaxDimension, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.Quality)); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrProcessingFailed, err)
	}

	return &NormalizedImage{
		Data:   buf.Bytes(),
		Format: FormatJPEG,
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
	}, nil
}

// flatten returns an opaque RGBA copy of src. Sources carrying alpha are
// blended over a white background; opaque palette images are pasted directly.
func flatten(src image.Image) *image.NRGBA {
	b := src.Bounds()
	dst := imaging.New(b.Dx(), b.Dy(), color.White)

	op := draw.Over
	if _, paletted := src.(*image.Paletted); paletted && isOpaque(src) {
		op = draw.Src
	} else if isOpaque(src) {
		return imaging.Clone(src)
	}
	draw.Draw(dst, dst.Bounds(), src, b.Min, op)
	return dst
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
