// Package convert turns camera frames into printer bitmaps.
package convert

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/InstantPrint/internal/debug"
	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
)

// ErrInvalidImage covers undecodable, empty and wrongly shaped frames.
var ErrInvalidImage = errors.New("invalid image")

// Converter is safe for concurrent use; it holds only its configuration.
type Converter struct {
	cfg    Config
	filter imaging.ResampleFilter
}

// New validates cfg and returns a converter.
func New(cfg Config) (*Converter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Converter{cfg: cfg, filter: filters[cfg.Resample]}, nil
}

// Config returns the converter configuration.
func (c *Converter) Config() Config {
	return c.cfg
}

// Recenter applies the configured live-capture pre-step.
func (c *Converter) Recenter(img image.Image) (image.Image, error) {
	if err := checkSize(img); err != nil {
		return nil, err
	}
	switch c.cfg.Recenter {
	case RecenterSwapHalves:
		return SwapHalves(img), nil
	case RecenterSquare:
		return CenterCrop(img), nil
	default:
		return img, nil
	}
}

// Convert resamples img to the configured width, halftones it and packs
// it into a printer bitmap.
func (c *Converter) Convert(img image.Image) (*printer.Bitmap, error) {
	if err := checkSize(img); err != nil {
		return nil, err
	}

	var fitted *image.NRGBA
	var err error
	switch c.cfg.Layout {
	case LayoutPanorama:
		fitted, err = c.panorama(img)
	default:
		fitted = c.portrait(img)
	}
	if err != nil {
		return nil, err
	}

	w, h := fitted.Bounds().Dx(), fitted.Bounds().Dy()
	debug.Verbose("Convert: %dx%d -> %dx%d (%s, %s)", img.Bounds().Dx(), img.Bounds().Dy(), w, h, c.cfg.Layout, c.cfg.Dither)

	gray := luminance(fitted)
	bmp := printer.NewBitmap(w, h)
	switch c.cfg.Dither {
	case DitherOrdered:
		ordered(gray, w, h, bmp)
	case DitherThreshold:
		threshold(gray, w, h, c.cfg.Threshold, bmp)
	default:
		floydSteinberg(gray, w, h, c.cfg.Threshold, bmp)
	}
	return bmp, nil
}

// panorama needs a frame whose width is twice its height (integer ratio).
// The frame is scaled to 4W x 2W, the centre W rows are kept and the band
// is rotated 90° clockwise, giving a W-wide strip 4W long. Frames
// smaller than 4W x 2W, the built-in pattern included, are scaled up.
func (c *Converter) panorama(img image.Image) (*image.NRGBA, error) {
	b := img.Bounds()
	if b.Dx()/b.Dy() != 2 {
		return nil, fmt.Errorf("%w: panorama layout needs a 2:1 frame, got %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	w := c.cfg.Width
	scaled := imaging.Resize(img, 4*w, 2*w, c.filter)
	band := imaging.Crop(scaled, image.Rect(0, w/2, 4*w, w/2+w))
	return imaging.Rotate270(band), nil
}

func (c *Converter) portrait(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w := c.cfg.Width
	h := max(1, (b.Dy()*w+b.Dx()/2)/b.Dx())
	return imaging.Resize(img, w, h, c.filter)
}

// CenterCrop returns the largest centred square of img. Opposite margins
// differ by at most one pixel.
func CenterCrop(img image.Image) *image.NRGBA {
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	return imaging.CropCenter(img, side, side)
}

// SwapHalves exchanges the left and right halves of img. On an
// equirectangular frame this moves the seam behind the camera to the
// edges and the front lens view to the middle.
func SwapHalves(img image.Image) *image.NRGBA {
	b := img.Bounds()
	half := b.Dx() / 2
	left := imaging.Crop(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+half, b.Max.Y))
	right := imaging.Crop(img, image.Rect(b.Min.X+half, b.Min.Y, b.Max.X, b.Max.Y))

	out := imaging.New(b.Dx(), b.Dy(), color.NRGBA{})
	out = imaging.Paste(out, right, image.Pt(0, 0))
	return imaging.Paste(out, left, image.Pt(b.Dx()-half, 0))
}

func checkSize(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: no image", ErrInvalidImage)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return fmt.Errorf("%w: zero-size image %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	return nil
}
