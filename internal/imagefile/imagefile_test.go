package imagefile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gen2brain/webp"
	"golang.org/x/image/bmp"
)

func testImage(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: alpha})
		}
	}
	return img
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	return buf.Bytes()
}

func TestReadSupportedFormats(t *testing.T) {
	dir := t.TempDir()
	var bmpBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, testImage(30, 20, 255)); err != nil {
		t.Fatalf("bmp: %v", err)
	}

	var webpBuf bytes.Buffer
	if err := webp.Encode(&webpBuf, testImage(48, 32, 255), webp.Options{Quality: 75, Lossless: true}); err != nil {
		t.Fatalf("webp: %v", err)
	}

	cases := []struct {
		name   string
		data   []byte
		format string
		alpha  bool
	}{
		{"a.png", encodePNG(t, testImage(100, 100, 255)), "png", false},
		{"alpha.png", encodePNG(t, testImage(40, 30, 120)), "png", true},
		{"b.jpg", encodeJPEG(t, testImage(200, 200, 255)), "jpeg", false},
		{"c.bmp", bmpBuf.Bytes(), "bmp", false},
		{"d.webp", webpBuf.Bytes(), "webp", false},
	}
	for _, tc := range cases {
		path := writeFile(t, dir, tc.name, tc.data)
		img, err := Read(path, DefaultLimits(), Options{})
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if img.Meta.Format != tc.format {
			t.Errorf("%s: format = %q, want %q", tc.name, img.Meta.Format, tc.format)
		}
		if img.Meta.HasAlpha != tc.alpha {
			t.Errorf("%s: has alpha = %v", tc.name, img.Meta.HasAlpha)
		}
		if img.Pixels.Width != img.Meta.Width || img.Pixels.Height != img.Meta.Height {
			t.Errorf("%s: buffer %dx%d vs meta %dx%d", tc.name,
				img.Pixels.Width, img.Pixels.Height, img.Meta.Width, img.Meta.Height)
		}
		if img.Meta.Size != int64(len(tc.data)) {
			t.Errorf("%s: size = %d", tc.name, img.Meta.Size)
		}
	}
}

func TestReadCorrupt(t *testing.T) {
	dir := t.TempDir()
	data := encodePNG(t, testImage(64, 64, 255))
	path := writeFile(t, dir, "c.png", data[:len(data)/2])

	_, err := Read(path, DefaultLimits(), Options{})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("err = %v, want ErrDecode", err)
	}
}

func TestReadUnsupported(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.png", []byte("definitely not an image, just text"))

	_, err := Read(path, DefaultLimits(), Options{})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestReadLimits(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "big.png", encodePNG(t, testImage(120, 80, 255)))

	_, err := Read(path, Limits{MaxDimension: 100}, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("dimension: err = %v, want ErrTooLarge", err)
	}
	_, err = Read(path, Limits{MaxFileBytes: 10}, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("file size: err = %v, want ErrTooLarge", err)
	}
	_, err = Read(path, Limits{MaxPixels: 120*80 - 1}, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("pixels: err = %v, want ErrTooLarge", err)
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "gone.png"), DefaultLimits(), Options{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}

func TestRemoveAlpha(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "alpha.png", encodePNG(t, testImage(20, 20, 0)))

	img, err := Read(path, DefaultLimits(), Options{RemoveAlpha: true})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if img.Meta.HasAlpha || img.Pixels.Layout != LayoutRGB {
		t.Fatalf("alpha not removed: layout=%s", img.Pixels.Layout)
	}
	if img.Pixels.Pix[0] != 0 || img.Pixels.Pix[3] != 255 {
		t.Errorf("first pixel = %v, want opaque black", img.Pixels.Pix[:4])
	}
}

// exifAPP1 builds an APP1 segment carrying a big-endian TIFF with a single
// orientation entry.
func exifAPP1(orientation uint16) []byte {
	var tiff bytes.Buffer
	tiff.WriteString("MM\x00\x2A")
	binary.Write(&tiff, binary.BigEndian, uint32(8))
	binary.Write(&tiff, binary.BigEndian, uint16(1))
	binary.Write(&tiff, binary.BigEndian, uint16(orientationTag))
	binary.Write(&tiff, binary.BigEndian, uint16(3)) // SHORT
	binary.Write(&tiff, binary.BigEndian, uint32(1))
	binary.Write(&tiff, binary.BigEndian, orientation)
	binary.Write(&tiff, binary.BigEndian, uint16(0))
	binary.Write(&tiff, binary.BigEndian, uint32(0))

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	return append(seg, payload...)
}

func TestReadJPEGOrientation(t *testing.T) {
	raw := encodeJPEG(t, testImage(40, 20, 255))
	withExif := append([]byte{}, raw[:2]...)
	withExif = append(withExif, exifAPP1(6)...)
	withExif = append(withExif, raw[2:]...)

	path := writeFile(t, t.TempDir(), "rotated.jpg", withExif)
	img, err := Read(path, DefaultLimits(), Options{})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if img.Meta.Orientation != 6 {
		t.Errorf("orientation = %d, want 6", img.Meta.Orientation)
	}
	if img.Meta.Width != 20 || img.Meta.Height != 40 {
		t.Errorf("dimensions = %dx%d, want 20x40", img.Meta.Width, img.Meta.Height)
	}
	if len(img.Meta.EXIF) == 0 {
		t.Fatal("exif payload missing")
	}
	if got := exifOrientation(img.Meta.EXIF); got != 1 {
		t.Errorf("exif orientation after decode = %d, want 1", got)
	}
}

func TestSupported(t *testing.T) {
	for path, want := range map[string]bool{
		"a.PNG": true, "b.jpeg": true, "c.jfif": true, "d.webp": true,
		"e.bmp": true, "f.gif": false, "g.avif": false, "noext": false,
	} {
		if got := Supported(path); got != want {
			t.Errorf("Supported(%q) = %v", path, got)
		}
	}
	if FormatFromExt("x.JPG") != "jpeg" {
		t.Error("jpg should map to jpeg")
	}
}
