package manifest

import (
	"fmt"
	"os"

	"github.com/AnyUserName/avifbatch/internal/hasher"
	"github.com/AnyUserName/avifbatch/internal/pipeline"
)

// Validate checks a manifest against the files on disk and returns every
// problem found. Outputs of done entries must exist with the recorded size
// and, when checkDigests is set, the recorded content digest.
func Validate(m *Manifest, baseDir string, checkDigests bool) []string {
	var errs []string

	if m.Version != SupportedManifestVersion {
		errs = append(errs, fmt.Sprintf("unsupported manifest version: %d", m.Version))
	}

	seenOutputs := map[string]bool{}
	for i, e := range m.Entries {
		label := fmt.Sprintf("entry[%d] %q", i, e.Source)
		if e.Source == "" {
			errs = append(errs, fmt.Sprintf("entry[%d]: missing source", i))
		}
		switch pipeline.Status(e.Status) {
		case pipeline.StatusDone:
		case pipeline.StatusFailed, pipeline.StatusCancelled:
			if e.Kind == "" {
				errs = append(errs, fmt.Sprintf("%s: %s without error kind", label, e.Status))
			}
			continue
		case pipeline.StatusSkipped:
			continue
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown status %q", label, e.Status))
			continue
		}

		if e.Output == "" {
			errs = append(errs, fmt.Sprintf("%s: missing output", label))
			continue
		}
		if seenOutputs[e.Output] {
			errs = append(errs, fmt.Sprintf("%s: duplicate output %q", label, e.Output))
		}
		seenOutputs[e.Output] = true

		if e.Width <= 0 || e.Height <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid dimensions %dx%d", label, e.Width, e.Height))
		}
		if e.SSIM != nil && (*e.SSIM < 0 || *e.SSIM > 1) {
			errs = append(errs, fmt.Sprintf("%s: ssim %.4f out of range", label, *e.SSIM))
		}

		full := Resolve(baseDir, e.Output)
		info, err := os.Stat(full)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: output not found: %s", label, e.Output))
			continue
		}
		if e.OutputSize > 0 && info.Size() != e.OutputSize {
			errs = append(errs, fmt.Sprintf("%s: size mismatch: manifest=%d, disk=%d",
				label, e.OutputSize, info.Size()))
		}
		if checkDigests && e.OutputDigest != "" {
			d, _, err := hasher.FileDigest(full)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", label, err))
			} else if string(d) != e.OutputDigest {
				errs = append(errs, fmt.Sprintf("%s: digest mismatch: manifest=%s, disk=%s",
					label, hasher.Digest(e.OutputDigest).Short(), d.Short()))
			}
		}
	}

	// Verify stats consistency.
	want := m.Stats
	c := *m
	c.ComputeStats()
	if want.TotalEntries != c.Stats.TotalEntries {
		errs = append(errs, fmt.Sprintf("stats.total_entries mismatch: %d != %d", want.TotalEntries, c.Stats.TotalEntries))
	}
	if want.Done != c.Stats.Done {
		errs = append(errs, fmt.Sprintf("stats.done mismatch: %d != %d", want.Done, c.Stats.Done))
	}
	if want.TotalOutputBytes != c.Stats.TotalOutputBytes {
		errs = append(errs, fmt.Sprintf("stats.total_output_bytes mismatch: %d != %d", want.TotalOutputBytes, c.Stats.TotalOutputBytes))
	}

	return errs
}
