package printer

import "fmt"

// DotWidth is the native head width of the supported printers, in dots.
const DotWidth = 384

// Bitmap is a packed 1-bit-per-pixel raster in printer row order.
// Each row is RowBytes() long, most significant bit first; a set bit
// prints a dot. Bits past Width in the last byte of a row are zero.
type Bitmap struct {
	Width  int
	Height int
	Data   []byte
}

// NewBitmap allocates a blank bitmap.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		Width:  width,
		Height: height,
		Data:   make([]byte, RowBytes(width)*height),
	}
}

// RowBytes returns ceil(width/8).
func RowBytes(width int) int {
	return (width + 7) / 8
}

// RowBytes returns the packed length of one row.
func (b *Bitmap) RowBytes() int {
	return RowBytes(b.Width)
}

// Row returns the packed bytes of row y.
func (b *Bitmap) Row(y int) []byte {
	n := b.RowBytes()
	return b.Data[y*n : (y+1)*n]
}

// Set marks the dot at (x, y) as printed.
func (b *Bitmap) Set(x, y int) {
	b.Data[y*b.RowBytes()+x/8] |= 0x80 >> uint(x%8)
}

// Dot reports whether the dot at (x, y) is printed.
func (b *Bitmap) Dot(x, y int) bool {
	return b.Data[y*b.RowBytes()+x/8]&(0x80>>uint(x%8)) != 0
}

// Validate checks the packed length invariant.
func (b *Bitmap) Validate() error {
	if b == nil {
		return fmt.Errorf("%w: nil bitmap", ErrInvalidBitmap)
	}
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: empty bitmap %dx%d", ErrInvalidBitmap, b.Width, b.Height)
	}
	if want := b.RowBytes() * b.Height; len(b.Data) != want {
		return fmt.Errorf("%w: %dx%d needs %d bytes, got %d", ErrInvalidBitmap, b.Width, b.Height, want, len(b.Data))
	}
	return nil
}
