package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/avifbatch/internal/config"
	"github.com/AnyUserName/avifbatch/internal/dedup"
)

// convertOptions mirror the config file; a flag only wins when it was given.
type convertOptions struct {
	out          string
	quality      int
	speed        int
	lossless     bool
	profile      string
	threads      int
	workers      int
	queue        int
	subsampling  string
	bitDepth     int
	encoder      string
	ssim         bool
	ssimDiff     bool
	windowSize   int
	targetSSIM   float64
	recursive    bool
	naming       string
	deleteSource bool
	removeAlpha  bool
	cachePath    string
	cacheBackend string
	noCache      bool
	notify       bool
	ntfy         string
	priority     string
	grace        time.Duration
	maxDimension int
	maxFileMB    int64
	watch        bool
	benchmark    bool
}

var convertOpts convertOptions

var convertCmd = &cobra.Command{
	Use:   "convert <path>...",
	Short: "Convert images to AVIF",
	Long: `Converts every supported image (png, jpg, jpeg, webp, bmp) found in the
given files and directories to AVIF.

Outputs are written next to their sources unless --out is set, in which
case the source tree is mirrored below it. Content already converted with
the same settings is skipped. A run manifest (avifbatch.manifest.json) is
written to the output directory.

With --benchmark every file is decoded, encoded and optionally scored, but
nothing is written: no outputs, no manifest, no cache entries.

Exit status is 1 when any file failed or was cancelled.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	addConvertFlags(convertCmd, &convertOpts)
	convertCmd.Flags().BoolVar(&convertOpts.watch, "watch", false, "keep running and convert images as they appear (single directory)")
	convertCmd.Flags().BoolVar(&convertOpts.benchmark, "benchmark", false, "encode and report statistics without writing any file")
	rootCmd.AddCommand(convertCmd)
}

func addConvertFlags(c *cobra.Command, o *convertOptions) {
	f := c.Flags()
	f.StringVarP(&o.out, "out", "o", "", "output directory (default: next to each source)")
	f.IntVarP(&o.quality, "quality", "q", -1, "quality 0-100 (-1 = profile default)")
	f.IntVarP(&o.speed, "speed", "s", -1, "encoder speed 0-10, 10 is fastest (-1 = profile default)")
	f.BoolVar(&o.lossless, "lossless", false, "lossless encoding (forces quality 100 and 4:4:4)")
	f.StringVarP(&o.profile, "profile", "p", "", "encoding profile: archive, default, photo, web")
	f.IntVarP(&o.threads, "threads", "t", 0, "total encoder threads (0 = NumCPU)")
	f.IntVarP(&o.workers, "workers", "w", 0, "files converted in parallel (0 = NumCPU, at most --threads)")
	f.IntVar(&o.queue, "queue", 0, "encoded outputs waiting to be written (0 = workers)")
	f.StringVar(&o.subsampling, "subsampling", "", "chroma subsampling: 420, 422, 444")
	f.IntVarP(&o.bitDepth, "bit-depth", "d", 0, "bit depth: 8, 10, 12")
	f.StringVar(&o.encoder, "encoder", "", "encoder backend: wasm, avifenc, auto")
	f.BoolVar(&o.ssim, "ssim", false, "score every output with SSIM and PSNR")
	f.BoolVar(&o.ssimDiff, "ssim-diff", false, "also write a <name>.ssim.png difference overlay")
	f.IntVar(&o.windowSize, "window-size", 0, "SSIM window edge in pixels")
	f.Float64Var(&o.targetSSIM, "target-ssim", 0, "search for the lowest quality reaching this SSIM (0 = off)")
	f.BoolVarP(&o.recursive, "recursive", "r", false, "descend into subdirectories")
	f.StringVar(&o.naming, "name", "", "output naming: same, xxhash, md5, sha256, blake2, random")
	f.BoolVar(&o.deleteSource, "delete-source", false, "delete each source after its output is verified")
	f.BoolVar(&o.removeAlpha, "remove-alpha", false, "flatten transparency onto black")
	f.StringVar(&o.cachePath, "cache", "", "conversion cache location")
	f.StringVar(&o.cacheBackend, "cache-backend", "", "conversion cache backend: json, sqlite, pebble")
	f.BoolVar(&o.noCache, "no-cache", false, "do not consult or update the conversion cache")
	f.BoolVarP(&o.notify, "notify", "N", false, "show a desktop notification when done")
	f.StringVar(&o.ntfy, "ntfy", "", "also publish the summary to this ntfy topic URL")
	f.StringVar(&o.priority, "priority", "", "process priority: default, min, max")
	f.DurationVar(&o.grace, "grace", 0, "time in-flight files may finish after interrupt")
	f.IntVar(&o.maxDimension, "max-dimension", 0, "reject images wider or taller than this")
	f.Int64Var(&o.maxFileMB, "max-file-size", 0, "reject source files larger than this many MiB")
}

// applyFlags copies the flags given on the command line over cfg.
func applyFlags(c *cobra.Command, o *convertOptions, cfg *config.Config) error {
	changed := c.Flags().Changed
	if changed("out") {
		cfg.Output.Dir = o.out
	}
	if changed("quality") {
		cfg.Encoding.Quality = o.quality
	}
	if changed("speed") {
		cfg.Encoding.Speed = o.speed
	}
	if changed("lossless") {
		cfg.Encoding.Lossless = o.lossless
	}
	if changed("profile") {
		cfg.Encoding.Profile = o.profile
	}
	if changed("threads") {
		cfg.Concurrency.Threads = o.threads
	}
	if changed("workers") {
		cfg.Concurrency.Workers = o.workers
	}
	if changed("queue") {
		cfg.Concurrency.Queue = o.queue
	}
	if changed("subsampling") {
		cfg.Encoding.Subsampling = o.subsampling
	}
	if changed("bit-depth") {
		cfg.Encoding.BitDepth = o.bitDepth
	}
	if changed("encoder") {
		cfg.Encoding.Encoder = o.encoder
	}
	if changed("ssim") {
		cfg.Scoring.Enabled = o.ssim
	}
	if changed("ssim-diff") {
		cfg.Scoring.SaveDiff = o.ssimDiff
	}
	if changed("window-size") {
		cfg.Scoring.WindowSize = o.windowSize
	}
	if changed("target-ssim") {
		cfg.Scoring.TargetSSIM = o.targetSSIM
	}
	if changed("recursive") {
		cfg.Output.Recursive = o.recursive
	}
	if changed("name") {
		cfg.Output.Naming = o.naming
	}
	if changed("delete-source") {
		cfg.Output.DeleteSource = o.deleteSource
	}
	if changed("remove-alpha") {
		cfg.Output.RemoveAlpha = o.removeAlpha
	}
	if changed("cache-backend") {
		// Follow the backend's default file name unless a path was chosen.
		if filepath.Base(cfg.Cache.Path) == dedup.DefaultFileName(cfg.Cache.Backend) {
			cfg.Cache.Path = filepath.Join(filepath.Dir(cfg.Cache.Path), dedup.DefaultFileName(o.cacheBackend))
		}
		cfg.Cache.Backend = o.cacheBackend
	}
	if changed("cache") {
		cfg.Cache.Path = o.cachePath
	}
	if changed("no-cache") {
		cfg.Cache.Enabled = !o.noCache
	}
	if changed("notify") {
		cfg.Notifications.Desktop = o.notify
	}
	if changed("ntfy") {
		cfg.Notifications.NtfyURL = o.ntfy
	}
	if changed("priority") {
		cfg.Concurrency.Priority = o.priority
	}
	if changed("grace") {
		cfg.Concurrency.GraceSeconds = int(o.grace.Round(time.Second) / time.Second)
	}
	if changed("max-dimension") {
		cfg.Limits.MaxDimension = o.maxDimension
	}
	if changed("max-file-size") {
		cfg.Limits.MaxFileMB = o.maxFileMB
	}

	if err := cfg.Normalize(); err != nil {
		return err
	}
	return cfg.Validate()
}

// signalContext is cancelled on the first interrupt. A second interrupt
// kills the process the default way.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

// checkBenchmark rejects flags that need outputs on disk.
func checkBenchmark(o *convertOptions, cfg *config.Config) error {
	if !o.benchmark {
		return nil
	}
	switch {
	case o.watch:
		return errors.New("--benchmark cannot be combined with --watch")
	case cfg.Output.DeleteSource:
		return errors.New("--benchmark cannot be combined with --delete-source")
	}
	return nil
}

func runConvert(c *cobra.Command, args []string) error {
	if err := applyFlags(c, &convertOpts, cfg); err != nil {
		return err
	}
	if err := checkBenchmark(&convertOpts, cfg); err != nil {
		return err
	}

	ctx, stop := signalContext(c.Context())
	defer stop()

	r, err := newRunner(cfg, logger, convertOpts.benchmark)
	if err != nil {
		return err
	}
	defer r.close()

	if convertOpts.watch {
		if len(args) != 1 {
			return fmt.Errorf("--watch takes exactly one directory, got %d paths", len(args))
		}
		return r.watch(ctx, args[0])
	}
	return r.batch(ctx, args)
}
