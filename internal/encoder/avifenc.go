package encoder

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

// Atomic counter for unique temp file names across goroutines.
var tempCounter atomic.Int64

// AVIFEncoder encodes by shelling out to avifenc (libavif). Unlike the WASM
// backend it can use several threads per image, bounded by Options.Threads.
// Install: brew install libavif / apt install libavif-bin
type AVIFEncoder struct {
	once        sync.Once
	available   bool
	avifencPath string
}

func (e *AVIFEncoder) Name() string { return "avifenc" }

func (e *AVIFEncoder) Available() bool {
	e.once.Do(func() {
		path, err := exec.LookPath("avifenc")
		if err == nil {
			e.available = true
			e.avifencPath = path
		}
	})
	return e.available
}

func (e *AVIFEncoder) Encode(ctx context.Context, px *imagefile.PixelBuffer, opts Options) ([]byte, error) {
	if !e.Available() {
		return nil, fmt.Errorf("%w: avifenc not found in PATH; install with: brew install libavif", ErrEncode)
	}
	if err := checkGeometry(px); err != nil {
		return nil, err
	}
	opts = opts.Normalized()

	id := tempCounter.Add(1)
	srcFile, err := os.CreateTemp("", fmt.Sprintf("avifbatch_src_%d_*.png", id))
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	srcPath := srcFile.Name()
	defer os.Remove(srcPath)

	dstFile, err := os.CreateTemp("", fmt.Sprintf("avifbatch_dst_%d_*.avif", id))
	if err != nil {
		srcFile.Close()
		return nil, fmt.Errorf("create temp: %w", err)
	}
	dstPath := dstFile.Name()
	dstFile.Close()
	defer os.Remove(dstPath)

	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(srcFile, px.Image()); err != nil {
		srcFile.Close()
		return nil, fmt.Errorf("encode temp png: %w", err)
	}
	if err := srcFile.Close(); err != nil {
		return nil, fmt.Errorf("close temp png: %w", err)
	}

	args := []string{
		"--speed", strconv.Itoa(opts.Speed),
		"--jobs", strconv.Itoa(opts.Threads),
		"--depth", strconv.Itoa(opts.BitDepth),
		"--yuv", string(opts.Subsampling),
	}
	if opts.Lossless {
		args = append(args, "--lossless")
	} else {
		args = append(args,
			"--qcolor", strconv.Itoa(opts.Quality),
			"--qalpha", strconv.Itoa(opts.Quality),
		)
	}
	if len(opts.EXIF) > 0 {
		exifPath, err := writeTemp(fmt.Sprintf("avifbatch_exif_%d_*.bin", id), opts.EXIF)
		if err != nil {
			return nil, err
		}
		defer os.Remove(exifPath)
		args = append(args, "--exif", exifPath)
	}
	args = append(args, srcPath, dstPath)

	cmd := exec.CommandContext(ctx, e.avifencPath, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: avifenc: %v: %s", ErrEncode, err, string(out))
	}

	return os.ReadFile(dstPath)
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write temp: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close temp: %w", err)
	}
	return f.Name(), nil
}
