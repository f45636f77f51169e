package cmd

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/AnyUserName/avifbatch/internal/config"
	"github.com/AnyUserName/avifbatch/internal/dedup"
	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/logging"
	"github.com/AnyUserName/avifbatch/internal/manifest"
	"github.com/AnyUserName/avifbatch/internal/naming"
	"github.com/AnyUserName/avifbatch/internal/notify"
	"github.com/AnyUserName/avifbatch/internal/pipeline"
	"github.com/AnyUserName/avifbatch/internal/profile"
	"github.com/AnyUserName/avifbatch/internal/report"
	"github.com/AnyUserName/avifbatch/internal/scorer"
	"github.com/AnyUserName/avifbatch/internal/sysprio"
	"github.com/AnyUserName/avifbatch/internal/watch"
)

// notifyTimeout bounds end-of-run notification delivery.
const notifyTimeout = 15 * time.Second

// runner holds everything a convert or watch invocation shares.
type runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	settings pipeline.Settings
	encoder  encoder.Encoder
	scorer   scorer.Scorer
	cache    *dedup.Cache
	notifier notify.Sink
}

// newRunner resolves the configuration into pipeline settings. A benchmark
// runner never touches the output side of the filesystem.
func newRunner(cfg *config.Config, logger *slog.Logger, benchmark bool) (*runner, error) {
	prof, err := profile.Get(cfg.Encoding.Profile)
	if err != nil {
		return nil, err
	}
	opts := prof.Options()
	if cfg.Encoding.Quality >= 0 {
		opts.Quality = cfg.Encoding.Quality
	}
	if cfg.Encoding.Speed >= 0 {
		opts.Speed = cfg.Encoding.Speed
	}
	if cfg.Encoding.Lossless {
		opts.Lossless = true
	}
	if cfg.Encoding.Subsampling != "" {
		opts.Subsampling = encoder.Subsampling(cfg.Encoding.Subsampling)
	}
	opts.BitDepth = cfg.Encoding.BitDepth
	opts = opts.Normalized()

	mode, err := naming.Parse(cfg.Output.Naming)
	if err != nil {
		return nil, err
	}

	outDir := ""
	if cfg.Output.Dir != "" {
		if outDir, err = filepath.Abs(cfg.Output.Dir); err != nil {
			return nil, fmt.Errorf("resolve output path: %w", err)
		}
	}
	if outDir != "" && !benchmark {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	enc, err := encoder.NewRegistry().Resolve(cfg.Encoding.Encoder)
	if err != nil {
		return nil, err
	}
	if err := encoder.CheckOptions(enc, opts); err != nil {
		return nil, err
	}

	r := &runner{
		cfg:    cfg,
		logger: logger,
		settings: pipeline.Settings{
			Encoder: opts,
			Naming:  mode,
			OutDir:  outDir,
			Limits: imagefile.Limits{
				MaxFileBytes: cfg.Limits.MaxFileMB << 20,
				MaxDimension: cfg.Limits.MaxDimension,
				MaxPixels:    cfg.Limits.MaxPixels,
			},
			Read:           imagefile.Options{RemoveAlpha: cfg.Output.RemoveAlpha},
			TargetSSIM:     cfg.Scoring.TargetSSIM,
			MinQuality:     cfg.Scoring.MinQuality,
			MaxQuality:     cfg.Scoring.MaxQuality,
			SearchAttempts: cfg.Scoring.MaxAttempts,
			SaveDiff:       cfg.Scoring.SaveDiff,
			DeleteSource:   cfg.Output.DeleteSource && !benchmark,
			Benchmark:      benchmark,
		},
		encoder: enc,
		scorer: scorer.New(cfg.Scoring.Enabled, scorer.Options{
			WindowSize: cfg.Scoring.WindowSize,
			KeepDiff:   cfg.Scoring.SaveDiff,
		}),
		notifier: notify.New(notify.Options{
			Desktop: cfg.Notifications.Desktop,
			NtfyURL: cfg.Notifications.NtfyURL,
			Timeout: time.Duration(cfg.Notifications.RequestTimeout) * time.Second,
			Logger:  logger,
		}),
	}

	if cfg.Cache.Enabled {
		if r.cache, err = dedup.Open(cfg.Cache.Backend, cfg.Cache.Path, logger); err != nil {
			return nil, err
		}
	}

	level, err := sysprio.Parse(cfg.Concurrency.Priority)
	if err != nil {
		return nil, err
	}
	if err := sysprio.Apply(level); err != nil {
		logger.Warn("could not change process priority, continuing", "priority", level, "error", err)
	}

	logger.Debug("settings",
		"profile", prof.Name,
		"encoder", enc.Name(),
		"quality", opts.Quality,
		"speed", opts.Speed,
		"subsampling", string(opts.Subsampling),
		"bit_depth", opts.BitDepth,
		"lossless", opts.Lossless,
		"naming", string(mode),
		"scoring", r.scorer.Enabled(),
		"cache", cfg.Cache.Enabled)
	return r, nil
}

func (r *runner) close() {
	if err := r.cache.Close(); err != nil {
		r.logger.Warn("close cache", "error", err)
	}
}

func (r *runner) scheduler(expected int) (*pipeline.Scheduler, error) {
	cc := r.cfg.Concurrency
	return pipeline.New(pipeline.Config{
		Settings:    r.settings,
		Encoder:     r.encoder,
		Scorer:      r.scorer,
		Workers:     cc.Workers,
		Threads:     cc.Threads,
		Queue:       cc.Queue,
		Writers:     cc.Writers,
		Expected:    expected,
		GracePeriod: r.cfg.Grace(),
		Cache:       r.cache,
		Logger:      r.logger,
	})
}

func (r *runner) runInfo(s *pipeline.Scheduler) manifest.RunInfo {
	o := r.settings.Encoder
	return manifest.RunInfo{
		Profile:     r.cfg.Encoding.Profile,
		Encoder:     r.encoder.Name(),
		Quality:     o.Quality,
		Speed:       o.Speed,
		Subsampling: string(o.Subsampling),
		BitDepth:    o.BitDepth,
		Lossless:    o.Lossless,
		Naming:      string(r.settings.Naming),
		TargetSSIM:  r.settings.TargetSSIM,
		Workers:     s.Workers(),
		Threads:     s.Budget().Total(),
	}
}

// batch converts every image under paths and reports the outcome.
func (r *runner) batch(ctx context.Context, paths []string) error {
	sources, err := pipeline.Discover(paths, pipeline.DiscoverOptions{Recursive: r.cfg.Output.Recursive})
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		r.logger.Warn("no images found", "paths", paths)
		return nil
	}
	jobs := pipeline.Plan(sources, r.settings)

	sched, err := r.scheduler(len(jobs))
	if err != nil {
		return err
	}
	r.logger.Info("converting",
		"files", len(jobs),
		"workers", sched.Workers(),
		"threads", sched.Budget().Total(),
		"encoder", r.encoder.Name())

	rep := report.New(report.Options{
		Total:       len(jobs),
		Bar:         !quiet && logging.IsTerminal(os.Stderr),
		Writer:      os.Stderr,
		KeepResults: true,
		Logger:      r.logger,
	})
	sum := rep.Run(sched.Run(ctx, pipeline.Submit(jobs)))

	if r.settings.Benchmark {
		r.logger.Info("benchmark run, no files written")
	} else {
		r.writeManifest(sched, sources[0].Root, sum.Results)
	}

	if !quiet {
		if err := report.Render(os.Stdout, sum); err != nil {
			return err
		}
	}
	r.logger.Info(sum.Line())
	r.notify(sum.Line(), sum.Failed+sum.Cancelled, r.thumbnail(sum.Results))

	return sum.ExitErr()
}

// writeManifest records the run in the output directory, or in root when
// outputs sit next to their sources. Failure is logged, not returned.
func (r *runner) writeManifest(sched *pipeline.Scheduler, root string, results []pipeline.Result) {
	dir := r.settings.OutDir
	if dir == "" {
		dir = root
	}
	m := manifest.FromResults(r.runInfo(sched), dir, results)
	path := filepath.Join(dir, manifest.FileName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Error("write manifest", "error", err)
		return
	}
	if err := manifest.WriteJSON(m, path); err != nil {
		r.logger.Error("write manifest", "path", path, "error", err)
		return
	}
	r.logger.Debug("manifest written", "path", path)
}

// watch converts images under dir as they appear until ctx is cancelled.
func (r *runner) watch(ctx context.Context, dir string) error {
	ctl, err := watch.New(watch.Options{
		Root:      dir,
		Recursive: r.cfg.Output.Recursive,
		Debounce:  r.cfg.Debounce(),
		Ignore:    pipeline.IsDiff,
		Logger:    r.logger,
	})
	if err != nil {
		return err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	sched, err := r.scheduler(0)
	if err != nil {
		return err
	}
	jobs := make(chan pipeline.Job)
	// emit runs on one goroutine, so the planner needs no lock.
	planner := pipeline.NewPlanner(r.settings)
	rep := report.New(report.Options{
		Logger: r.logger,
		OnResult: func(res pipeline.Result) {
			if res.Succeeded() {
				r.logger.Info("converted",
					"path", res.OutputPath,
					"size", res.EncodedSize,
					"quality", res.Quality)
			}
		},
	})
	done := make(chan report.Summary, 1)
	go func() { done <- rep.Run(sched.Run(ctx, jobs)) }()

	err = ctl.Run(ctx, func(path string) {
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return
		}
		src := pipeline.Source{
			AbsPath: path,
			Root:    root,
			RelPath: filepath.ToSlash(rel),
			Format:  imagefile.FormatFromExt(path),
			Size:    info.Size(),
		}
		job := planner.Job(src)
		select {
		case jobs <- job:
		case <-ctx.Done():
		}
	})
	close(jobs)
	sum := <-done
	r.logger.Info("watch stopped", "summary", sum.Line())
	if sum.Total > 0 {
		r.notify(sum.Line(), sum.Failed, nil)
	}
	return err
}

func (r *runner) notify(body string, failed int, thumb image.Image) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := r.notifier.Notify(ctx, notify.Completed(body, failed, thumb)); err != nil {
		r.logger.Warn("notification failed", "error", err)
	}
}

// thumbnail decodes the last written output for the desktop notification.
func (r *runner) thumbnail(results []pipeline.Result) image.Image {
	if !r.cfg.Notifications.Desktop {
		return nil
	}
	for i := len(results) - 1; i >= 0; i-- {
		res := results[i]
		if !res.Succeeded() {
			continue
		}
		data, err := os.ReadFile(res.OutputPath)
		if err != nil {
			continue
		}
		px, err := encoder.Decode(data)
		if err != nil {
			continue
		}
		return px.Image()
	}
	return nil
}
