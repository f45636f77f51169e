// Package scorer measures how closely an encoded image matches its source.
//
// The scorer is chosen once at startup: Enabled computes SSIM and PSNR,
// Disabled returns an empty score. Callers never branch on which one they
// hold.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

// ErrDimensionMismatch means the decoded output does not have the source's
// geometry. That is an encoder bug and fails the job.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// DefaultWindowSize is the SSIM window edge in pixels.
const DefaultWindowSize = 8

// SSIM stabilisation constants for 8-bit data.
const (
	c1 = (0.01 * 255) * (0.01 * 255)
	c2 = (0.03 * 255) * (0.03 * 255)
)

// Score is the outcome of one comparison.
type Score struct {
	Measured bool
	SSIM     float64 // 0..1, 1 means identical
	PSNR     float64 // dB, +Inf for identical images
	Diff     *image.Gray
}

// Options configure the enabled scorer.
type Options struct {
	WindowSize int
	// KeepDiff retains a per-pixel absolute luma difference map.
	KeepDiff bool
}

// Scorer compares an original buffer against a decoded re-encode.
type Scorer interface {
	Enabled() bool
	Score(ctx context.Context, orig, decoded *imagefile.PixelBuffer, threads int) (Score, error)
}

// New returns the Enabled scorer when enabled is set and Disabled otherwise.
func New(enabled bool, opts Options) Scorer {
	if !enabled {
		return Disabled{}
	}
	if opts.WindowSize < 2 {
		opts.WindowSize = DefaultWindowSize
	}
	return &SSIM{opts: opts}
}

// Disabled never measures anything.
type Disabled struct{}

func (Disabled) Enabled() bool { return false }

func (Disabled) Score(context.Context, *imagefile.PixelBuffer, *imagefile.PixelBuffer, int) (Score, error) {
	return Score{}, nil
}

// SSIM computes mean structural similarity over non-overlapping windows of
// BT.601 luma, plus PSNR over the same luma plane.
type SSIM struct {
	opts Options
}

func (s *SSIM) Enabled() bool { return true }

func (s *SSIM) Score(ctx context.Context, orig, decoded *imagefile.PixelBuffer, threads int) (Score, error) {
	if !orig.SameSize(decoded) {
		return Score{}, fmt.Errorf("%w: source %dx%d, decoded %dx%d",
			ErrDimensionMismatch, orig.Width, orig.Height, decoded.Width, decoded.Height)
	}
	if orig.Width == 0 || orig.Height == 0 {
		return Score{}, fmt.Errorf("%w: empty image", ErrDimensionMismatch)
	}
	if threads < 1 {
		threads = 1
	}
	if threads > runtime.NumCPU() {
		threads = runtime.NumCPU()
	}

	a := luma(orig)
	b := luma(decoded)
	w, h := orig.Width, orig.Height
	win := s.opts.WindowSize
	if win > w {
		win = w
	}
	if win > h {
		win = h
	}

	rowsOfWindows := h / win
	colsOfWindows := w / win
	sums := make([]float64, rowsOfWindows)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threads)
	for wy := 0; wy < rowsOfWindows; wy++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			var total float64
			for wx := 0; wx < colsOfWindows; wx++ {
				total += windowSSIM(a, b, w, wx*win, wy*win, win)
			}
			sums[wy] = total
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Score{}, err
	}

	var total float64
	for _, v := range sums {
		total += v
	}
	ssim := total / float64(rowsOfWindows*colsOfWindows)

	score := Score{
		Measured: true,
		SSIM:     clamp01(ssim),
		PSNR:     psnr(a, b),
	}
	if s.opts.KeepDiff {
		score.Diff = diffMap(a, b, w, h)
	}
	return score, nil
}

func luma(p *imagefile.PixelBuffer) []float64 {
	out := make([]float64, p.Width*p.Height)
	for y := 0; y < p.Height; y++ {
		row := p.Pix[y*p.Stride:]
		for x := 0; x < p.Width; x++ {
			i := x * 4
			r, g, b, a := float64(row[i]), float64(row[i+1]), float64(row[i+2]), float64(row[i+3])
			// Composite over black so transparent regions compare equal.
			k := a / 255
			out[y*p.Width+x] = (0.299*r + 0.587*g + 0.114*b) * k
		}
	}
	return out
}

func windowSSIM(a, b []float64, stride, x0, y0, win int) float64 {
	n := float64(win * win)
	var sa, sb float64
	for y := y0; y < y0+win; y++ {
		for x := x0; x < x0+win; x++ {
			sa += a[y*stride+x]
			sb += b[y*stride+x]
		}
	}
	ma, mb := sa/n, sb/n

	var va, vb, cov float64
	for y := y0; y < y0+win; y++ {
		for x := x0; x < x0+win; x++ {
			da := a[y*stride+x] - ma
			db := b[y*stride+x] - mb
			va += da * da
			vb += db * db
			cov += da * db
		}
	}
	va /= n
	vb /= n
	cov /= n

	return ((2*ma*mb + c1) * (2*cov + c2)) / ((ma*ma + mb*mb + c1) * (va + vb + c2))
}

func psnr(a, b []float64) float64 {
	var mse float64
	for i := range a {
		d := a[i] - b[i]
		mse += d * d
	}
	mse /= float64(len(a))
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(255*255/mse)
}

func diffMap(a, b []float64, w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range a {
		d := math.Abs(a[i] - b[i])
		if d > 255 {
			d = 255
		}
		img.SetGray(i%w, i/w, color.Gray{Y: uint8(d)})
	}
	return img
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
