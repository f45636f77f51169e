package pipeline

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
)

// Source represents a discovered image file.
type Source struct {
	// AbsPath is the absolute path to the file on disk.
	AbsPath string
	// Root is the directory the file was found under; for files named
	// directly it is the file's own directory.
	Root string
	// RelPath is the path relative to Root, with forward slashes.
	RelPath string
	// Format is the format implied by the extension, "" if unknown.
	Format string
	// Size is the file size in bytes.
	Size int64
}

// DiscoverOptions control how directories are walked.
type DiscoverOptions struct {
	Recursive bool
}

// Discover expands paths into image sources. Directories contribute every
// file with a supported extension; hidden files and directories are
// skipped. Files named explicitly are always included so that unsupported
// ones are reported instead of silently ignored. The result is sorted by
// path and free of repeats.
func Discover(paths []string, opts DiscoverOptions) ([]Source, error) {
	seen := make(map[string]bool)
	var sources []Source

	add := func(root, path string, size int64) error {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		if seen[abs] {
			return nil
		}
		seen[abs] = true
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			return err
		}
		sources = append(sources, Source{
			AbsPath: abs,
			Root:    root,
			RelPath: filepath.ToSlash(rel),
			Format:  imagefile.FormatFromExt(abs),
			Size:    size,
		})
		return nil
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
		if !info.IsDir() {
			abs, err := filepath.Abs(p)
			if err != nil {
				return nil, err
			}
			if err := add(filepath.Dir(abs), abs, info.Size()); err != nil {
				return nil, err
			}
			continue
		}

		root, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path == root {
					return nil
				}
				// Skip hidden directories.
				if strings.HasPrefix(d.Name(), ".") || !opts.Recursive {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasPrefix(d.Name(), ".") || !d.Type().IsRegular() || !imagefile.Supported(path) || IsDiff(path) {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return add(root, path, fi.Size())
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", p, err)
		}
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].AbsPath < sources[j].AbsPath })
	return sources, nil
}
