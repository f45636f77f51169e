// Package report turns the stream of job results into live progress and a
// final summary.
package report

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/AnyUserName/avifbatch/internal/logging"
	"github.com/AnyUserName/avifbatch/internal/pipeline"
)

// DefaultLogInterval spaces progress log lines when no bar is shown.
const DefaultLogInterval = 5 * time.Second

// Options configure a Reporter.
type Options struct {
	// Total is the number of jobs expected, 0 when unknown (watch mode).
	Total int
	// Bar draws a live progress bar on Writer. Without it progress is logged
	// every LogInterval.
	Bar         bool
	Writer      io.Writer
	LogInterval time.Duration
	// KeepResults retains every result in the summary.
	KeepResults bool
	// OnResult is called for each result from the reporter goroutine.
	OnResult func(pipeline.Result)
	Logger   *slog.Logger
}

// Reporter is the single consumer of results. Nothing else touches the
// counters, so no locking is needed.
type Reporter struct {
	opts   Options
	logger *slog.Logger
	bar    *progressbar.ProgressBar
}

func New(opts Options) *Reporter {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = DefaultLogInterval
	}
	r := &Reporter{opts: opts, logger: opts.Logger.With("component", "report")}
	if opts.Bar && opts.Writer != nil {
		max := int64(opts.Total)
		if max <= 0 {
			max = -1
		}
		r.bar = progressbar.NewOptions64(max,
			progressbar.OptionSetWriter(opts.Writer),
			progressbar.OptionSetDescription("converting"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionThrottle(100*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}
	return r
}

// Run drains results until the channel closes and returns the summary.
func (r *Reporter) Run(results <-chan pipeline.Result) Summary {
	start := time.Now()
	var s Summary
	lastLog := start

	for res := range results {
		s.Add(res)
		if r.opts.KeepResults {
			s.Results = append(s.Results, res)
		}
		r.logResult(res)
		if r.opts.OnResult != nil {
			r.opts.OnResult(res)
		}

		elapsed := time.Since(start)
		if r.bar != nil {
			r.bar.Describe(r.describe(s, elapsed))
			_ = r.bar.Add(1)
		} else if time.Since(lastLog) >= r.opts.LogInterval {
			lastLog = time.Now()
			r.logger.Info("progress",
				"processed", s.Total,
				"total", r.opts.Total,
				"saved", humanize.IBytes(uint64(max(s.Saved(), 0))),
				"files_per_sec", throughput(s.Total, elapsed))
		}
	}

	if r.bar != nil {
		_ = r.bar.Finish()
	}
	s.Elapsed = time.Since(start)
	return s
}

func (r *Reporter) describe(s Summary, elapsed time.Duration) string {
	desc := "converting"
	if saved := s.Saved(); saved > 0 {
		desc += " (saved " + humanize.IBytes(uint64(saved)) + ")"
	}
	if s.Failed > 0 {
		desc += " " + humanize.Comma(int64(s.Failed)) + " failed"
	}
	return fmt.Sprintf("%s %.1f files/s", desc, throughput(s.Total, elapsed))
}

func (r *Reporter) logResult(res pipeline.Result) {
	switch res.Status {
	case pipeline.StatusFailed:
		r.logger.Error("conversion failed",
			"path", res.Job.SourcePath,
			"kind", string(res.Kind),
			"error", res.Err)
	case pipeline.StatusCancelled:
		r.logger.Warn("conversion cancelled", "path", res.Job.SourcePath)
	case pipeline.StatusSkipped:
		r.logger.Debug("skipped", "path", res.Job.SourcePath, "reason", res.SkipReason)
	default:
		attrs := []any{
			"path", res.Job.SourcePath,
			"output", res.OutputPath,
			"size", humanize.IBytes(uint64(res.EncodedSize)),
			"quality", res.Quality,
			"elapsed", res.Elapsed,
		}
		if res.Scored {
			attrs = append(attrs, "ssim", round(res.SSIM, 4), "psnr", round(res.PSNR, 2))
		}
		r.logger.Debug("converted", attrs...)
	}
}

func throughput(n int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return round(float64(n)/elapsed.Seconds(), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}
