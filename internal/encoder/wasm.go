package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/avif"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

// WASMEncoder encodes with libavif/aom compiled to WebAssembly. No CGO and no
// external binaries, so it is always available. The WASM build is
// single-threaded; Options.Threads is ignored.
type WASMEncoder struct{}

func (e *WASMEncoder) Name() string    { return "wasm" }
func (e *WASMEncoder) Available() bool { return true }

// BitDepths lists what the WASM build writes; it has no high bit depth
// option.
func (e *WASMEncoder) BitDepths() []int { return []int{8} }

func (e *WASMEncoder) Encode(ctx context.Context, px *imagefile.PixelBuffer, opts Options) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkGeometry(px); err != nil {
		return nil, err
	}
	opts = opts.Normalized()

	alphaQuality := opts.Quality
	if opts.Lossless {
		alphaQuality = 100
	}

	var buf bytes.Buffer
	buf.Grow(px.Bytes() / 8)

	err := avif.Encode(&buf, px.Image(), avif.Options{
		Quality:           opts.Quality,
		QualityAlpha:      alphaQuality,
		Speed:             opts.Speed,
		ChromaSubsampling: opts.Subsampling.Ratio(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: avif: %v", ErrEncode, err)
	}

	// The encode call cannot be interrupted; drop the result if the job was
	// abandoned while it ran.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAVIF(data []byte) (image.Image, error) {
	img, err := avif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode avif: %v", ErrEncode, err)
	}
	return img, nil
}
