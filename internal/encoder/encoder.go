package encoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"slices"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

// ErrEncode marks failures reported by an encoder backend.
var ErrEncode = errors.New("encode failed")

// Encoder turns a pixel buffer into an AVIF file.
type Encoder interface {
	// Name returns the backend name ("wasm", "avifenc").
	Name() string

	// Available returns true if the backend is ready to use.
	// External encoders (avifenc) may not be installed.
	Available() bool

	// Encode produces a complete AVIF container. The same pixels and
	// options always produce the same bytes.
	Encode(ctx context.Context, px *imagefile.PixelBuffer, opts Options) ([]byte, error)
}

// depthLimited is implemented by backends that only encode some bit depths.
type depthLimited interface {
	BitDepths() []int
}

// CheckOptions reports settings enc would silently ignore, so a run never
// records parameters its outputs were not encoded with.
func CheckOptions(enc Encoder, opts Options) error {
	opts = opts.Normalized()
	if dl, ok := enc.(depthLimited); ok && !slices.Contains(dl.BitDepths(), opts.BitDepth) {
		return fmt.Errorf("encoder %s cannot write %d-bit AVIF (supports %v); use --encoder avifenc",
			enc.Name(), opts.BitDepth, dl.BitDepths())
	}
	return nil
}

// Subsampling is the chroma subsampling of the encoded YUV planes.
type Subsampling string

const (
	Subsample420 Subsampling = "420"
	Subsample422 Subsampling = "422"
	Subsample444 Subsampling = "444"
)

// Ratio maps the subsampling to its image package constant.
func (s Subsampling) Ratio() image.YCbCrSubsampleRatio {
	switch s {
	case Subsample444:
		return image.YCbCrSubsampleRatio444
	case Subsample422:
		return image.YCbCrSubsampleRatio422
	default:
		return image.YCbCrSubsampleRatio420
	}
}

// Valid reports whether s is one of the known values.
func (s Subsampling) Valid() bool {
	return s == Subsample420 || s == Subsample422 || s == Subsample444
}

// Options are the encoding parameters for one job.
type Options struct {
	Quality     int // 0-100, higher is better
	Lossless    bool
	Speed       int // 0 (slowest) to 10 (fastest)
	Threads     int // encoder threads granted to this job
	Subsampling Subsampling
	BitDepth    int // 8, 10 or 12
	EXIF        []byte
}

// DefaultQuality and DefaultSpeed match the CLI defaults.
const (
	DefaultQuality = 70
	DefaultSpeed   = 6
)

// Normalized clamps out-of-range values and applies the lossless overrides.
func (o Options) Normalized() Options {
	if o.Quality < 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.Speed < 0 || o.Speed > 10 {
		o.Speed = DefaultSpeed
	}
	if o.Threads < 1 {
		o.Threads = 1
	}
	if !o.Subsampling.Valid() {
		o.Subsampling = Subsample420
	}
	switch o.BitDepth {
	case 8, 10, 12:
	default:
		o.BitDepth = 8
	}
	if o.Lossless {
		o.Quality = 100
		o.Subsampling = Subsample444
	}
	return o
}

// Decode parses AVIF bytes back into pixels, used for quality scoring.
func Decode(data []byte) (*imagefile.PixelBuffer, error) {
	img, err := decodeAVIF(data)
	if err != nil {
		return nil, err
	}
	return imagefile.FromImage(img), nil
}

func checkGeometry(px *imagefile.PixelBuffer) error {
	if px == nil || px.Width <= 0 || px.Height <= 0 || len(px.Pix) < px.Stride*px.Height {
		return errors.Join(ErrEncode, errors.New("invalid pixel buffer dimensions"))
	}
	return nil
}
