package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/AnyUserName/avifbatch/internal/config"
	"github.com/AnyUserName/avifbatch/internal/logging"
)

var (
	version = "0.1.0"

	configPath string
	verbose    bool
	quiet      bool
	logLevel   string
	logFormat  string

	// Set by the persistent pre-run hook.
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "avifbatch",
	Short: "Batch image to AVIF converter",
	Long: `avifbatch converts PNG, JPEG, WebP and BMP images to AVIF in parallel.

Identical sources are encoded once, completed conversions are remembered
across runs, and outputs are written atomically so an interrupted run never
leaves half-written files behind. Optional SSIM scoring reports how close
each output is to its source and can search for the lowest quality that
reaches a target score.`,
	Version:           version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/avifbatch/config.toml, or $AVIFBATCH_CONFIG)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	pf.BoolVar(&quiet, "quiet", false, "no progress bar or summary table, errors only")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: console or json")
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"avifbatch %s (%s/%s, %s)\n",
		version, runtime.GOOS, runtime.GOARCH, runtime.Version(),
	))
}

// setup loads the configuration and builds the process logger. Flags given
// on the command line win over the file.
func setup(cmd *cobra.Command, _ []string) error {
	loaded, path, exists, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = loaded

	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "error"
	case logLevel != "":
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, err = logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: os.Stderr,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if exists {
		logger.Debug("config loaded", "path", path)
	} else {
		logger.Debug("no config file, using defaults", "path", path)
	}
	return nil
}
