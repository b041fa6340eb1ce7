package convert

import (
	"image"

	"github.com/cjeanneret/InstantPrint/internal/hw/printer"
)

// luminance returns 8-bit gray values (ITU-R BT.601 weights), row-major.
// Transparent pixels are composited over white paper.
func luminance(img *image.NRGBA) []int {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]int, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+4]
			r, g, b, a := int(p[0]), int(p[1]), int(p[2]), int(p[3])
			if a < 255 {
				r = (r*a + 255*(255-a)) / 255
				g = (g*a + 255*(255-a)) / 255
				b = (b*a + 255*(255-a)) / 255
			}
			out[y*w+x] = (299*r + 587*g + 114*b) / 1000
		}
	}
	return out
}

// floydSteinberg diffuses the quantization error with the 7/3/5/1 kernel,
// alternating scan direction every row. Values above thr become white.
// The buffer is plain int so accumulated error never wraps.
func floydSteinberg(gray []int, w, h, thr int, bmp *printer.Bitmap) {
	for y := 0; y < h; y++ {
		x0, x1, dir := 0, w, 1
		if y%2 == 1 {
			x0, x1, dir = w-1, -1, -1
		}
		for x := x0; x != x1; x += dir {
			old := gray[y*w+x]
			v := 0
			if old > thr {
				v = 255
			} else {
				bmp.Set(x, y)
			}
			e := old - v

			if nx := x + dir; nx >= 0 && nx < w {
				gray[y*w+nx] += e * 7 / 16
			}
			if y+1 < h {
				next := gray[(y+1)*w:]
				if px := x - dir; px >= 0 && px < w {
					next[px] += e * 3 / 16
				}
				next[x] += e * 5 / 16
				if nx := x + dir; nx >= 0 && nx < w {
					next[nx] += e * 1 / 16
				}
			}
		}
	}
}

var bayer8 = [8][8]int{
	{0, 32, 8, 40, 2, 34, 10, 42},
	{48, 16, 56, 24, 50, 18, 58, 26},
	{12, 44, 4, 36, 14, 46, 6, 38},
	{60, 28, 52, 20, 62, 30, 54, 22},
	{3, 35, 11, 43, 1, 33, 9, 41},
	{51, 19, 59, 27, 49, 17, 57, 25},
	{15, 47, 7, 39, 13, 45, 5, 37},
	{63, 31, 55, 23, 61, 29, 53, 21},
}

// ordered compares each pixel with the tiled 8x8 Bayer matrix.
// Cell m maps to the threshold 4m+2 on the 0..255 scale.
func ordered(gray []int, w, h int, bmp *printer.Bitmap) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray[y*w+x] < 4*bayer8[y%8][x%8]+2 {
				bmp.Set(x, y)
			}
		}
	}
}

func threshold(gray []int, w, h, thr int, bmp *printer.Bitmap) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if gray[y*w+x] <= thr {
				bmp.Set(x, y)
			}
		}
	}
}
