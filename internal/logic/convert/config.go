package convert

import (
	"fmt"

	"github.com/disintegration/imaging"

	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
)

// Layout selects how a frame is fitted onto the paper.
type Layout string

const (
	// LayoutPanorama takes a 2:1 frame, keeps the centre band and rotates it
	// so the full 360° runs along the paper.
	LayoutPanorama Layout = "panorama"
	// LayoutPortrait scales the frame to the head width, keeping its aspect.
	LayoutPortrait Layout = "portrait"
)

// RecenterMode is the pre-step applied to live captures only.
type RecenterMode string

const (
	RecenterSwapHalves RecenterMode = "swap_halves"
	RecenterSquare     RecenterMode = "square"
	RecenterNone       RecenterMode = "none"
)

// Dither selects the 1-bit mapping.
type Dither string

const (
	DitherFloydSteinberg Dither = "floyd_steinberg"
	DitherOrdered        Dither = "ordered"
	DitherThreshold      Dither = "threshold"
)

// Resample selects the scaling filter.
type Resample string

const (
	ResampleNearest Resample = "nearest"
	ResampleLinear  Resample = "linear"
	ResampleLanczos Resample = "lanczos"
)

// DefaultThreshold splits 0..255 gray: values above it are white.
const DefaultThreshold = 127

// Config is the converter configuration. Two converters with equal
// configurations produce identical bitmaps for identical frames.
type Config struct {
	Width     int // output width in dots
	Layout    Layout
	Recenter  RecenterMode
	Dither    Dither
	Threshold int // 0..255
	Resample  Resample
}

// DefaultConfig matches the original printer setup.
func DefaultConfig() Config {
	return Config{
		Width:     printer.DotWidth,
		Layout:    LayoutPanorama,
		Recenter:  RecenterSwapHalves,
		Dither:    DitherFloydSteinberg,
		Threshold: DefaultThreshold,
		Resample:  ResampleNearest,
	}
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.Width <= 0 {
		return fmt.Errorf("converter width must be > 0, got %d", c.Width)
	}
	switch c.Layout {
	case LayoutPanorama, LayoutPortrait:
	default:
		return fmt.Errorf("unknown layout %q (want panorama or portrait)", c.Layout)
	}
	switch c.Recenter {
	case RecenterSwapHalves, RecenterNone:
	case RecenterSquare:
		if c.Layout == LayoutPanorama {
			return fmt.Errorf("recenter %q produces a square frame, panorama layout needs 2:1", c.Recenter)
		}
	default:
		return fmt.Errorf("unknown recenter mode %q (want swap_halves, square or none)", c.Recenter)
	}
	if _, err := ParseDither(string(c.Dither)); err != nil {
		return err
	}
	if c.Threshold < 0 || c.Threshold > 255 {
		return fmt.Errorf("threshold must be in 0..255, got %d", c.Threshold)
	}
	if _, ok := filters[c.Resample]; !ok {
		return fmt.Errorf("unknown resample filter %q (want nearest, linear or lanczos)", c.Resample)
	}
	return nil
}

// ParseDither validates a dither name.
func ParseDither(s string) (Dither, error) {
	switch d := Dither(s); d {
	case DitherFloydSteinberg, DitherOrdered, DitherThreshold:
		return d, nil
	default:
		return "", fmt.Errorf("unknown dither %q (want floyd_steinberg, ordered or threshold)", s)
	}
}

var filters = map[Resample]imaging.ResampleFilter{
	ResampleNearest: imaging.NearestNeighbor,
	ResampleLinear:  imaging.Linear,
	ResampleLanczos: imaging.Lanczos,
}
