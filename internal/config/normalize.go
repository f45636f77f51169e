package config

import (
	"path/filepath"
	"strings"

	"github.com/AnyUserName/avifbatch/internal/dedup"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEncoding()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Output.Dir, err = expandPath(strings.TrimSpace(c.Output.Dir)); err != nil {
		return err
	}
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = dedup.BackendJSON
	}
	if strings.TrimSpace(c.Cache.Path) == "" {
		c.Cache.Path = filepath.Join(defaultCacheDir(), dedup.DefaultFileName(c.Cache.Backend))
	}
	if c.Cache.Path, err = expandPath(c.Cache.Path); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeEncoding() {
	c.Encoding.Profile = strings.ToLower(strings.TrimSpace(c.Encoding.Profile))
	if c.Encoding.Profile == "" {
		c.Encoding.Profile = defaultProfile
	}
	c.Encoding.Encoder = strings.ToLower(strings.TrimSpace(c.Encoding.Encoder))
	if c.Encoding.Encoder == "" {
		c.Encoding.Encoder = defaultEncoder
	}
	c.Encoding.Subsampling = strings.TrimSpace(c.Encoding.Subsampling)
	if c.Encoding.BitDepth == 0 {
		c.Encoding.BitDepth = defaultBitDepth
	}
	c.Output.Naming = strings.ToLower(strings.TrimSpace(c.Output.Naming))
	if c.Output.Naming == "" {
		c.Output.Naming = defaultNaming
	}
	c.Concurrency.Priority = strings.ToLower(strings.TrimSpace(c.Concurrency.Priority))
	if c.Concurrency.Priority == "" {
		c.Concurrency.Priority = defaultPriority
	}
	if c.Scoring.TargetSSIM > 0 {
		c.Scoring.Enabled = true
	}
	if c.Scoring.SaveDiff {
		c.Scoring.Enabled = true
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// Normalize re-applies normalization after flag overrides.
func (c *Config) Normalize() error {
	return c.normalize()
}
