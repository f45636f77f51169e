package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/AnyUserName/avifbatch/internal/dedup"
	"github.com/AnyUserName/avifbatch/internal/encoder"
	"github.com/AnyUserName/avifbatch/internal/naming"
	"github.com/AnyUserName/avifbatch/internal/profile"
	"github.com/AnyUserName/avifbatch/internal/sysprio"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEncoding(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateScoring(); err != nil {
		return err
	}
	if err := c.validateConcurrency(); err != nil {
		return err
	}
	if err := c.validateLimits(); err != nil {
		return err
	}
	if !slices.Contains(dedup.Backends, c.Cache.Backend) {
		return fmt.Errorf("cache.backend: unknown backend %q (want one of %v)", c.Cache.Backend, dedup.Backends)
	}
	if c.Watch.DebounceMillis <= 0 {
		return errors.New("watch.debounce_ms must be positive")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	return nil
}

func (c *Config) validateEncoding() error {
	if _, err := profile.Get(c.Encoding.Profile); err != nil {
		return fmt.Errorf("encoding.profile: %w", err)
	}
	if c.Encoding.Quality < -1 || c.Encoding.Quality > 100 {
		return fmt.Errorf("encoding.quality must be 0-100, got %d", c.Encoding.Quality)
	}
	if c.Encoding.Speed < -1 || c.Encoding.Speed > 10 {
		return fmt.Errorf("encoding.speed must be 0-10, got %d", c.Encoding.Speed)
	}
	if c.Encoding.Subsampling != "" && !encoder.Subsampling(c.Encoding.Subsampling).Valid() {
		return fmt.Errorf("encoding.subsampling must be 420, 422 or 444, got %q", c.Encoding.Subsampling)
	}
	switch c.Encoding.BitDepth {
	case 8, 10, 12:
	default:
		return fmt.Errorf("encoding.bit_depth must be 8, 10 or 12, got %d", c.Encoding.BitDepth)
	}
	switch c.Encoding.Encoder {
	case "wasm", "avifenc", encoder.Auto:
	default:
		return fmt.Errorf("encoding.encoder must be wasm, avifenc or auto, got %q", c.Encoding.Encoder)
	}
	return nil
}

func (c *Config) validateOutput() error {
	if _, err := naming.Parse(c.Output.Naming); err != nil {
		return fmt.Errorf("output.naming: %w", err)
	}
	return nil
}

func (c *Config) validateScoring() error {
	s := c.Scoring
	if s.WindowSize < 2 {
		return fmt.Errorf("scoring.window_size must be at least 2, got %d", s.WindowSize)
	}
	if s.TargetSSIM < 0 || s.TargetSSIM >= 1 {
		return fmt.Errorf("scoring.target_ssim must be in [0, 1), got %g", s.TargetSSIM)
	}
	if s.MinQuality < 0 || s.MaxQuality > 100 || s.MinQuality > s.MaxQuality {
		return fmt.Errorf("scoring quality range %d-%d is invalid", s.MinQuality, s.MaxQuality)
	}
	if s.MaxAttempts < 1 {
		return errors.New("scoring.max_attempts must be positive")
	}
	return nil
}

func (c *Config) validateConcurrency() error {
	cc := c.Concurrency
	if cc.Workers < 0 || cc.Threads < 0 || cc.Queue < 0 || cc.Writers < 0 {
		return errors.New("concurrency values must not be negative")
	}
	if cc.GraceSeconds < 0 {
		return errors.New("concurrency.grace_seconds must not be negative")
	}
	if _, err := sysprio.Parse(cc.Priority); err != nil {
		return fmt.Errorf("concurrency.priority: %w", err)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.MaxDimension < 0 || c.Limits.MaxPixels < 0 || c.Limits.MaxFileMB < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}
