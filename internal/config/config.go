package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Encoding selects the encoder and its parameters. Quality and Speed of -1
// defer to the profile.
type Encoding struct {
	Profile     string `toml:"profile"`
	Quality     int    `toml:"quality"`
	Speed       int    `toml:"speed"`
	Lossless    bool   `toml:"lossless"`
	Subsampling string `toml:"subsampling"`
	BitDepth    int    `toml:"bit_depth"`
	Encoder     string `toml:"encoder"`
}

// Output controls where and how results are written.
type Output struct {
	Dir          string `toml:"dir"`
	Naming       string `toml:"naming"`
	Recursive    bool   `toml:"recursive"`
	DeleteSource bool   `toml:"delete_source"`
	RemoveAlpha  bool   `toml:"remove_alpha"`
}

// Scoring configures SSIM measurement and the optional quality search.
type Scoring struct {
	Enabled     bool    `toml:"enabled"`
	SaveDiff    bool    `toml:"save_diff"`
	WindowSize  int     `toml:"window_size"`
	TargetSSIM  float64 `toml:"target_ssim"`
	MinQuality  int     `toml:"min_quality"`
	MaxQuality  int     `toml:"max_quality"`
	MaxAttempts int     `toml:"max_attempts"`
}

// Concurrency sizes the worker pool and thread budget. Zero means one per
// CPU.
type Concurrency struct {
	Workers      int    `toml:"workers"`
	Threads      int    `toml:"threads"`
	Queue        int    `toml:"queue"`
	Writers      int    `toml:"writers"`
	GraceSeconds int    `toml:"grace_seconds"`
	Priority     string `toml:"priority"`
}

// Limits bounds what a single source may cost to decode.
type Limits struct {
	MaxDimension int   `toml:"max_dimension"`
	MaxPixels    int64 `toml:"max_pixels"`
	MaxFileMB    int64 `toml:"max_file_mb"`
}

// Cache configures the persisted digest cache.
type Cache struct {
	Enabled bool   `toml:"enabled"`
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
}

// Watch configures watch mode.
type Watch struct {
	DebounceMillis int `toml:"debounce_ms"`
}

// Notifications configures completion notifications.
type Notifications struct {
	Desktop        bool   `toml:"desktop"`
	NtfyURL        string `toml:"ntfy_url"`
	RequestTimeout int    `toml:"request_timeout"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Config is the full avifbatch configuration.
type Config struct {
	Encoding      Encoding      `toml:"encoding"`
	Output        Output        `toml:"output"`
	Scoring       Scoring       `toml:"scoring"`
	Concurrency   Concurrency   `toml:"concurrency"`
	Limits        Limits        `toml:"limits"`
	Cache         Cache         `toml:"cache"`
	Watch         Watch         `toml:"watch"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. A missing file
// is not an error; defaults are used. The returned config has all path
// fields expanded.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		if env := strings.TrimSpace(os.Getenv("AVIFBATCH_CONFIG")); env != "" {
			path = env
		}
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for flag values.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultCacheDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "avifbatch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "~/.cache/avifbatch"
	}
	return filepath.Join(home, ".cache", "avifbatch")
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
