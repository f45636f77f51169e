package imagefile

import (
	"image"

	"github.com/disintegration/imaging"
)

// Layout says which channels of a PixelBuffer carry information.
type Layout int

const (
	// LayoutRGB means every alpha byte is 255.
	LayoutRGB Layout = iota
	LayoutRGBA
)

func (l Layout) String() string {
	if l == LayoutRGBA {
		return "rgba"
	}
	return "rgb"
}

// PixelBuffer holds 8-bit non-premultiplied pixels, 4 bytes per pixel, rows
// Stride bytes apart. A buffer belongs to the goroutine that decoded it.
type PixelBuffer struct {
	Width  int
	Height int
	Layout Layout
	Stride int
	Pix    []byte
}

// FromImage copies img into a fresh buffer anchored at (0,0).
func FromImage(img image.Image) *PixelBuffer {
	n := imaging.Clone(img)
	layout := LayoutRGB
	if !n.Opaque() {
		layout = LayoutRGBA
	}
	return &PixelBuffer{
		Width:  n.Rect.Dx(),
		Height: n.Rect.Dy(),
		Layout: layout,
		Stride: n.Stride,
		Pix:    n.Pix,
	}
}

// Image returns an image.Image view sharing the buffer's memory.
func (p *PixelBuffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    p.Pix,
		Stride: p.Stride,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}
}

// Bytes is the size of the pixel data.
func (p *PixelBuffer) Bytes() int {
	return len(p.Pix)
}

// SameSize reports whether two buffers have identical geometry.
func (p *PixelBuffer) SameSize(o *PixelBuffer) bool {
	return p.Width == o.Width && p.Height == o.Height
}
