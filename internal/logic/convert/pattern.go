package convert

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const patternLabel = "INSTANTPRINT TEST"

// TestPattern draws the built-in diagnostic frame used by test prints.
// It is 2:1 for the panorama layout and square otherwise, so it goes
// through Convert unchanged. The result depends only on cfg.
func TestPattern(cfg Config) *image.NRGBA {
	w := max(cfg.Width, 64)
	h := w
	if cfg.Layout == LayoutPanorama {
		w = 2 * h
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	// Top half: horizontal gray ramp, white to black.
	for y := 0; y < h/2; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255 - x*255/(w-1))
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}

	// Bottom left: checkerboard. Bottom right: stripes getting wider.
	cell := max(h/24, 2)
	for y := h / 2; y < h; y++ {
		for x := 0; x < w; x++ {
			black := false
			if x < w/2 {
				black = (x/cell+y/cell)%2 == 0
			} else {
				stripe := 1 + (x-w/2)*8/(w/2)
				black = ((x-w/2)/stripe)%2 == 0
			}
			v := uint8(255)
			if black {
				v = 0
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}

	border := max(h/96, 2)
	black := image.NewUniform(color.Black)
	for _, r := range []image.Rectangle{
		image.Rect(0, 0, w, border),
		image.Rect(0, h-border, w, h),
		image.Rect(0, 0, border, h),
		image.Rect(w-border, 0, w, h),
	} {
		draw.Draw(img, r, black, image.Point{}, draw.Src)
	}

	drawLabel(img, patternLabel)
	return img
}

// drawLabel writes text on a white box in the middle of img.
func drawLabel(img *image.NRGBA, text string) {
	face := basicfont.Face7x13
	tw := font.MeasureString(face, text).Ceil()
	th := face.Metrics().Height.Ceil()
	b := img.Bounds()
	x := (b.Dx() - tw) / 2
	y := (b.Dy() - th) / 2

	pad := 4
	box := image.Rect(x-pad, y-pad, x+tw+pad, y+th+pad).Intersect(b)
	draw.Draw(img, box, image.White, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.Black),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y) + face.Metrics().Ascent},
	}
	d.DrawString(text)
}
