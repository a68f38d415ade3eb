package gauge

import (
	"fmt"
	"image"
)

// Frame is a tightly packed RGBA8 buffer, row-major with no stride padding.
// The analysis never writes to Pix.
type Frame struct {
	Pix    []byte
	Width  int
	Height int
}

// Validate rejects non-positive dimensions and buffers shorter than Width*Height*4.
func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrInvalidFrame, f.Width, f.Height)
	}
	if need := f.Size(); len(f.Pix) < need {
		return fmt.Errorf("%w: buffer holds %d bytes, %dx%d needs %d", ErrInvalidFrame, len(f.Pix), f.Width, f.Height, need)
	}
	return nil
}

// Size is the number of bytes the frame dimensions describe.
func (f Frame) Size() int {
	return f.Width * f.Height * BytesPerPixel
}

// Empty reports whether the frame carries no pixels.
func (f Frame) Empty() bool {
	return len(f.Pix) == 0
}

// CopyTo copies the frame bytes into dst and returns the number of bytes written.
func (f Frame) CopyTo(dst []byte) (int, error) {
	n := f.Size()
	if len(dst) < n {
		return 0, fmt.Errorf("%w: have %d, need %d", ErrShortBuffer, len(dst), n)
	}
	if len(f.Pix) < n {
		return 0, fmt.Errorf("%w: buffer holds %d bytes, want %d", ErrInvalidFrame, len(f.Pix), n)
	}
	return copy(dst, f.Pix[:n]), nil
}

// offset returns the byte offset of the R component at (x, y), or false when the
// coordinate lies outside the frame or the buffer.
func (f Frame) offset(x, y int) (int, bool) {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return 0, false
	}
	i := (y*f.Width + x) * BytesPerPixel
	if i+BytesPerPixel > len(f.Pix) {
		return 0, false
	}
	return i, true
}

// FrameFromImage wraps an RGBA image as a Frame. Images with row padding or a
// non-zero origin are repacked into a new buffer.
func FrameFromImage(img *image.RGBA) Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	row := w * BytesPerPixel
	if img.Stride == row && b.Min == (image.Point{}) {
		return Frame{Pix: img.Pix[:row*h], Width: w, Height: h}
	}
	pix := make([]byte, row*h)
	for y := 0; y < h; y++ {
		start := img.PixOffset(b.Min.X, b.Min.Y+y)
		copy(pix[y*row:(y+1)*row], img.Pix[start:start+row])
	}
	return Frame{Pix: pix, Width: w, Height: h}
}

// Image exposes the frame as an *image.RGBA sharing the same buffer.
func (f Frame) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    f.Pix,
		Stride: f.Width * BytesPerPixel,
		Rect:   image.Rect(0, 0, f.Width, f.Height),
	}
}
