package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg, path, exists, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if exists || path == "" {
		t.Errorf("exists=%v path=%q", exists, path)
	}
	if cfg.Encoding.Profile != "default" || cfg.Encoding.Quality != -1 || cfg.Encoding.Encoder != "wasm" {
		t.Errorf("encoding = %+v", cfg.Encoding)
	}
	if !strings.HasSuffix(cfg.Cache.Path, filepath.Join("avifbatch", "cache.json")) {
		t.Errorf("cache path = %q", cfg.Cache.Path)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[encoding]
profile = "PHOTO"
quality = 55

[scoring]
target_ssim = 0.95

[cache]
backend = "sqlite"

[logging]
format = "JSON"
`)
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg, _, exists, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("file not found")
	}
	if cfg.Encoding.Profile != "photo" || cfg.Encoding.Quality != 55 {
		t.Errorf("encoding = %+v", cfg.Encoding)
	}
	if !cfg.Scoring.Enabled {
		t.Error("target_ssim did not enable scoring")
	}
	if filepath.Base(cfg.Cache.Path) != "cache.db" {
		t.Errorf("sqlite cache path = %q", cfg.Cache.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("log format = %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"quality":   "[encoding]\nquality = 101\n",
		"profile":   "[encoding]\nprofile = \"tiny\"\n",
		"encoder":   "[encoding]\nencoder = \"rav1e\"\n",
		"depth":     "[encoding]\nbit_depth = 9\n",
		"naming":    "[output]\nnaming = \"crc\"\n",
		"target":    "[scoring]\ntarget_ssim = 1.5\n",
		"range":     "[scoring]\nmin_quality = 90\nmax_quality = 10\n",
		"priority":  "[concurrency]\npriority = \"realtime\"\n",
		"backend":   "[cache]\nbackend = \"redis\"\n",
		"unknown":   "[encoding]\nqualty = 50\n",
		"malformed": "[encoding\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestSampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	cfg, _, exists, err := Load(path)
	if err != nil || !exists {
		t.Fatalf("sample config: exists=%v err=%v", exists, err)
	}
	if cfg.Watch.DebounceMillis != 500 || cfg.Debounce().Milliseconds() != 500 {
		t.Errorf("debounce = %d", cfg.Watch.DebounceMillis)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	got, err := ExpandPath("~/pics")
	if err != nil || got != filepath.Join(home, "pics") {
		t.Errorf("expand = %q, %v", got, err)
	}
}
