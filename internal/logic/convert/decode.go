package convert

import (
	"fmt"
	"image"
	"io"

	// Extra formats some cameras and phones write.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// Decode reads a JPEG, PNG, GIF, BMP, TIFF or WebP frame, applying the
// EXIF orientation tag when present.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidImage, err)
	}
	if err := checkSize(img); err != nil {
		return nil, err
	}
	return img, nil
}
