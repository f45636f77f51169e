package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// tempPrefix marks in-progress outputs. Discovery and watch ignore dotfiles,
// so a temp file never becomes a job.
const tempPrefix = "."

// writeAtomic writes data to path through a temp file in the same directory
// and renames it into place. The temp file is removed on any failure, and a
// done ctx stops the write before the rename.
func writeAtomic(ctx context.Context, path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// IsTemp reports whether name is an in-progress output left by writeAtomic.
func IsTemp(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, tempPrefix) && strings.Contains(base, ".tmp")
}

const diffSuffix = ".ssim.png"

// diffPath names the SSIM overlay written beside an output.
func diffPath(output string) string {
	return strings.TrimSuffix(output, filepath.Ext(output)) + diffSuffix
}

// IsDiff reports whether path is an SSIM overlay written by a previous run.
// Such files are never treated as sources.
func IsDiff(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), diffSuffix)
}
