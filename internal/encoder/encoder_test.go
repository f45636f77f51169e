package encoder

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

func gradient(w, h int) *imagefile.PixelBuffer {
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
	return imagefile.FromImage(img)
}

func fastOptions() Options {
	return Options{Quality: 50, Speed: 10, Threads: 1}
}

func TestWASMEncodeDeterministic(t *testing.T) {
	px := gradient(64, 48)
	enc := &WASMEncoder{}

	a, err := enc.Encode(context.Background(), px, fastOptions())
	if err != nil {
		t.Fatalf("first encode: %v", err)
	}
	b, err := enc.Encode(context.Background(), px, fastOptions())
	if err != nil {
		t.Fatalf("second encode: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("encodes differ: %d vs %d bytes", len(a), len(b))
	}
}

func TestWASMEncodeRoundTripGeometry(t *testing.T) {
	for _, tc := range []struct{ w, h int }{{100, 100}, {200, 120}, {34, 66}} {
		px := gradient(tc.w, tc.h)
		data, err := (&WASMEncoder{}).Encode(context.Background(), px, fastOptions())
		if err != nil {
			t.Fatalf("%dx%d encode: %v", tc.w, tc.h, err)
		}
		if !bytes.Contains(data[:32], []byte("ftypavif")) {
			t.Errorf("%dx%d: missing avif brand", tc.w, tc.h)
		}
		out, err := Decode(data)
		if err != nil {
			t.Fatalf("%dx%d decode: %v", tc.w, tc.h, err)
		}
		if !out.SameSize(px) {
			t.Errorf("round trip changed geometry: %dx%d -> %dx%d", tc.w, tc.h, out.Width, out.Height)
		}
	}
}

func TestEncodeRejectsEmptyBuffer(t *testing.T) {
	_, err := (&WASMEncoder{}).Encode(context.Background(), &imagefile.PixelBuffer{}, fastOptions())
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("err = %v, want ErrEncode", err)
	}
}

func TestEncodeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&WASMEncoder{}).Encode(ctx, gradient(32, 32), fastOptions())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestOptionsNormalized(t *testing.T) {
	o := Options{Quality: 140, Speed: -3, Subsampling: "411", BitDepth: 9}.Normalized()
	if o.Quality != DefaultQuality || o.Speed != DefaultSpeed {
		t.Errorf("quality/speed = %d/%d", o.Quality, o.Speed)
	}
	if o.Subsampling != Subsample420 || o.BitDepth != 8 || o.Threads != 1 {
		t.Errorf("subsampling/depth/threads = %s/%d/%d", o.Subsampling, o.BitDepth, o.Threads)
	}

	l := Options{Quality: 30, Lossless: true}.Normalized()
	if l.Quality != 100 || l.Subsampling != Subsample444 {
		t.Errorf("lossless = %+v", l)
	}
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	enc, err := r.Resolve("wasm")
	if err != nil {
		t.Fatalf("resolve wasm: %v", err)
	}
	if enc.Name() != "wasm" {
		t.Errorf("name = %q", enc.Name())
	}
	if _, err := r.Resolve("auto"); err != nil {
		t.Errorf("resolve auto: %v", err)
	}
	if _, err := r.Resolve("rav1e"); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestCheckOptionsBitDepth(t *testing.T) {
	wasm := &WASMEncoder{}
	if err := CheckOptions(wasm, Options{BitDepth: 8}); err != nil {
		t.Errorf("8-bit rejected: %v", err)
	}
	for _, depth := range []int{10, 12} {
		if err := CheckOptions(wasm, Options{BitDepth: depth}); err == nil {
			t.Errorf("wasm accepted %d-bit output it cannot write", depth)
		}
	}
	// avifenc takes --depth, so every valid depth passes.
	if err := CheckOptions(&AVIFEncoder{}, Options{BitDepth: 12}); err != nil {
		t.Errorf("avifenc 12-bit rejected: %v", err)
	}
}
