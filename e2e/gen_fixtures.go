//go:build ignore

// gen_fixtures creates a mixed batch for the avifbatch smoke test: good
// images in every input format, a nested directory, a byte-identical
// duplicate, a hidden file and a truncated PNG.
// Usage: go run gen_fixtures.go <output_dir>
package main

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gen_fixtures <output_dir>")
		os.Exit(1)
	}
	dir := os.Args[1]
	must(os.MkdirAll(filepath.Join(dir, "nested"), 0o755))

	save(filepath.Join(dir, "a.png"), gradient(100, 100))
	save(filepath.Join(dir, "b.jpg"), gradient(200, 200))
	save(filepath.Join(dir, "c.bmp"), checker(64, 48))
	save(filepath.Join(dir, "nested", "logo.png"), alphaGradient(120, 80))
	writeWebP(filepath.Join(dir, "nested", "d.webp"), checker(90, 60))

	// Same bytes as a.png under another name: encoded once, then skipped.
	data, err := os.ReadFile(filepath.Join(dir, "a.png"))
	must(err)
	must(os.WriteFile(filepath.Join(dir, "nested", "a-copy.png"), data, 0o644))

	// Ignored by discovery.
	must(os.WriteFile(filepath.Join(dir, ".hidden.png"), data, 0o644))

	// Fails with DecodeError without stopping the batch.
	must(os.WriteFile(filepath.Join(dir, "broken.png"), data[:len(data)/3], 0o644))

	fmt.Fprintf(os.Stderr, "[gen_fixtures] created 8 fixtures in %s (6 convertible, 1 duplicate, 1 corrupt)\n", dir)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 128,
				A: 255,
			})
		}
	}
	return img
}

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBA{R: 30, G: 90, B: 160, A: 255}
			if (x/8+y/8)%2 == 0 {
				c = color.NRGBA{R: 240, G: 230, B: 200, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func alphaGradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: 220, G: 60, B: 30,
				A: uint8(x * 255 / w),
			})
		}
	}
	return img
}

// save picks the encoder from the extension.
func save(path string, img image.Image) {
	must(imaging.Save(img, path, imaging.JPEGQuality(85)))
}

func writeWebP(path string, img image.Image) {
	var buf bytes.Buffer
	must(webp.Encode(&buf, img, webp.Options{Quality: 80}))
	must(os.WriteFile(path, buf.Bytes(), 0o644))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
