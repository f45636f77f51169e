package manifest

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AnyUserName/avifbatch/internal/pipeline"
)

// New creates an empty manifest for a run.
func New(info RunInfo) *Manifest {
	return &Manifest{
		Version:     SupportedManifestVersion,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		RunID:       uuid.NewString(),
		Settings:    info,
		Entries:     []Entry{},
	}
}

// FromResults builds a manifest for baseDir holding one entry per result,
// ordered by source path.
func FromResults(info RunInfo, baseDir string, results []pipeline.Result) *Manifest {
	m := New(info)
	for _, r := range results {
		m.Entries = append(m.Entries, entryFor(r, baseDir))
	}
	sort.Slice(m.Entries, func(i, j int) bool {
		return m.Entries[i].Source < m.Entries[j].Source
	})
	m.ComputeStats()
	return m
}

func entryFor(r pipeline.Result, baseDir string) Entry {
	e := Entry{
		Source:       relTo(baseDir, r.Job.SourcePath),
		Status:       string(r.Status),
		Kind:         string(r.Kind),
		SkipReason:   r.SkipReason,
		InputSize:    r.InputSize,
		SourceDigest: string(r.SourceDigest),
		Width:        r.Width,
		Height:       r.Height,
		ElapsedMS:    r.Elapsed.Milliseconds(),
	}
	if e.InputSize == 0 {
		e.InputSize = r.Job.Size
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	if r.OutputPath != "" {
		e.Output = relTo(baseDir, r.OutputPath)
	}
	if r.Succeeded() {
		e.OutputSize = r.EncodedSize
		e.OutputDigest = string(r.OutputDigest)
		e.Quality = r.Quality
	}
	if r.Scored {
		e.SSIM = finite(r.SSIM)
		e.PSNR = finite(r.PSNR)
	}
	return e
}

// finite drops values JSON cannot carry, such as the infinite PSNR of an
// identical image.
func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	v = math.Round(v*1e4) / 1e4
	return &v
}

func relTo(base, path string) string {
	if base == "" {
		return filepath.ToSlash(path)
	}
	rel, err := filepath.Rel(base, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// Resolve turns an entry path back into a filesystem path.
func Resolve(baseDir, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// ComputeStats recalculates aggregate statistics from entries.
func (m *Manifest) ComputeStats() {
	var s Stats
	s.TotalEntries = len(m.Entries)
	for _, e := range m.Entries {
		switch pipeline.Status(e.Status) {
		case pipeline.StatusDone:
			s.Done++
			s.TotalInputBytes += e.InputSize
			s.TotalOutputBytes += e.OutputSize
		case pipeline.StatusFailed:
			s.Failed++
		case pipeline.StatusSkipped:
			s.Skipped++
		case pipeline.StatusCancelled:
			s.Cancelled++
		}
	}
	m.Stats = s
}

// WriteJSON serializes the manifest to path, replacing any previous file
// atomically.
func WriteJSON(m *Manifest, path string) error {
	m.ComputeStats()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads a manifest file, or the manifest inside a directory.
func Read(path string) (*Manifest, string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, FileName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, path, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, path, nil
}
