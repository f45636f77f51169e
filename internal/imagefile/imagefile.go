// Package imagefile decodes source images into pixel buffers that the
// encoder and scorer can consume.
package imagefile

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrDecode            = errors.New("decode failed")
	ErrTooLarge          = errors.New("image exceeds limits")
)

// supportedFormats maps image.DecodeConfig format names to the canonical
// names used in metadata and manifests.
var supportedFormats = map[string]string{
	"png":  "png",
	"jpeg": "jpeg",
	"webp": "webp",
	"bmp":  "bmp",
}

// extensions lists file extensions picked up during discovery.
var extensions = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".jfif": "jpeg",
	".webp": "webp",
	".bmp":  "bmp",
}

// Supported reports whether a path has an extension we try to decode.
func Supported(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// FormatFromExt returns the canonical format for a path's extension, or "".
func FormatFromExt(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

// Limits bounds the memory a single decode may use. Zero disables a check.
type Limits struct {
	MaxFileBytes int64
	MaxDimension int
	MaxPixels    int64
}

// DefaultLimits returns limits suitable for photos and screenshots.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes: 256 << 20,
		MaxDimension: 16384,
		MaxPixels:    100_000_000,
	}
}

// Options tweaks how pixels are prepared after decoding.
type Options struct {
	// RemoveAlpha flattens transparent pixels onto black.
	RemoveAlpha bool
}

// Metadata describes the source file as it was before decoding.
type Metadata struct {
	Path        string
	Format      string
	Width       int
	Height      int
	Size        int64
	HasAlpha    bool
	Orientation int
	// EXIF is the raw TIFF-structured payload, orientation reset to 1 when
	// it was already applied to the pixels.
	EXIF []byte
}

// Image is a decoded source: pixels plus metadata.
type Image struct {
	Pixels *PixelBuffer
	Meta   Metadata
}

// Read decodes the file at path. Errors wrap ErrUnsupportedFormat, ErrDecode
// or ErrTooLarge; filesystem failures are returned as *fs.PathError.
func Read(path string, lim Limits, opts Options) (*Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: is a directory: %w", path, ErrUnsupportedFormat)
	}
	if lim.MaxFileBytes > 0 && info.Size() > lim.MaxFileBytes {
		return nil, fmt.Errorf("%s: %d bytes > %d: %w", path, info.Size(), lim.MaxFileBytes, ErrTooLarge)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, meta, err := decode(data, lim, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	meta.Path = path
	meta.Size = info.Size()
	return &Image{Pixels: FromImage(img), Meta: meta}, nil
}

func decode(data []byte, lim Limits, opts Options) (image.Image, Metadata, error) {
	var meta Metadata

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, meta, ErrUnsupportedFormat
		}
		return nil, meta, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	canonical, ok := supportedFormats[format]
	if !ok {
		return nil, meta, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err := lim.check(cfg.Width, cfg.Height); err != nil {
		return nil, meta, err
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, meta, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	meta.Format = canonical
	meta.EXIF = extractEXIF(canonical, data)
	meta.Orientation = 1
	if o := exifOrientation(meta.EXIF); o > 0 {
		meta.Orientation = o
		if canonical == "jpeg" && o != 1 {
			resetOrientation(meta.EXIF)
		}
	}

	if opts.RemoveAlpha && !isOpaque(img) {
		bg := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), color.NRGBA{A: 255})
		img = imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
	}

	b := img.Bounds()
	meta.Width = b.Dx()
	meta.Height = b.Dy()
	meta.HasAlpha = !isOpaque(img)
	return img, meta, nil
}

func (l Limits) check(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty image %dx%d", ErrDecode, w, h)
	}
	if l.MaxDimension > 0 && (w > l.MaxDimension || h > l.MaxDimension) {
		return fmt.Errorf("%w: %dx%d exceeds max dimension %d", ErrTooLarge, w, h, l.MaxDimension)
	}
	if l.MaxPixels > 0 && int64(w)*int64(h) > l.MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrTooLarge, w, h, l.MaxPixels)
	}
	return nil
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	return false
}
