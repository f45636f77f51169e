package config

import (
	"time"

	"github.com/AnyUserName/avifbatch/internal/dedup"
)

const (
	defaultConfigPath     = "~/.config/avifbatch/config.toml"
	defaultProfile        = "default"
	defaultSubsampling    = "420"
	defaultBitDepth       = 8
	defaultEncoder        = "wasm"
	defaultNaming         = "same"
	defaultWindowSize     = 8
	defaultMinQuality     = 30
	defaultMaxQuality     = 95
	defaultMaxAttempts    = 6
	defaultGraceSeconds   = 10
	defaultPriority       = "default"
	defaultMaxDimension   = 16384
	defaultMaxPixels      = 100_000_000
	defaultMaxFileMB      = 256
	defaultDebounceMillis = 500
	defaultNtfyTimeout    = 10
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Encoding: Encoding{
			Profile:     defaultProfile,
			Quality:     -1,
			Speed:       -1,
			Subsampling: defaultSubsampling,
			BitDepth:    defaultBitDepth,
			Encoder:     defaultEncoder,
		},
		Output: Output{
			Naming: defaultNaming,
		},
		Scoring: Scoring{
			WindowSize:  defaultWindowSize,
			MinQuality:  defaultMinQuality,
			MaxQuality:  defaultMaxQuality,
			MaxAttempts: defaultMaxAttempts,
		},
		Concurrency: Concurrency{
			GraceSeconds: defaultGraceSeconds,
			Priority:     defaultPriority,
		},
		Limits: Limits{
			MaxDimension: defaultMaxDimension,
			MaxPixels:    defaultMaxPixels,
			MaxFileMB:    defaultMaxFileMB,
		},
		Cache: Cache{
			Enabled: true,
			Backend: dedup.BackendJSON,
		},
		Watch: Watch{
			DebounceMillis: defaultDebounceMillis,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

// Grace returns the cancellation grace period.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Concurrency.GraceSeconds) * time.Second
}

// Debounce returns the watch-mode debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}
