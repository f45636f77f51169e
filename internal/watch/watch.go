// Package watch turns filesystem events into conversion requests.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AnyUserName/avifbatch/internal/imagefile"
	"github.com/AnyUserName/avifbatch/internal/logging"
)

// DefaultDebounce is the quiet period before a changed file is converted.
const DefaultDebounce = 500 * time.Millisecond

// Options configure a Controller.
type Options struct {
	Root      string
	Recursive bool
	Debounce  time.Duration
	// Ignore, if set, drops paths the converter itself produces.
	Ignore func(path string) bool
	Logger *slog.Logger
}

// Controller watches a directory tree and emits each supported image once
// its writes have settled.
type Controller struct {
	opts    Options
	watcher *fsnotify.Watcher
	deb     *Debouncer
	logger  *slog.Logger
}

// New starts watching opts.Root. Failure here is fatal for watch mode.
func New(opts Options) (*Controller, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", opts.Root)
	}
	opts.Root = root

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	c := &Controller{
		opts:    opts,
		watcher: w,
		deb:     NewDebouncer(opts.Debounce, DefaultSlots),
		logger:  opts.Logger.With("component", "watch"),
	}
	if err := c.addTree(root, false); err != nil {
		w.Close()
		return nil, err
	}
	return c, nil
}

// Run blocks until ctx is done, calling emit with the absolute path of every
// settled image. emit is called from a single goroutine. Pending paths that
// have not settled when ctx ends are dropped.
func (c *Controller) Run(ctx context.Context, emit func(path string)) error {
	defer c.watcher.Close()

	debCtx, stop := context.WithCancel(ctx)
	defer stop()
	settled := make(chan string)
	go c.deb.Run(debCtx, func(p string) {
		select {
		case settled <- p:
		case <-debCtx.Done():
		}
	})

	c.logger.Info("watching", "root", c.opts.Root, "recursive", c.opts.Recursive, "debounce", c.opts.Debounce)
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-settled:
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				emit(p)
			}
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			c.handle(ev)
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			c.logger.Warn("watch error", "error", err)
		}
	}
}

func (c *Controller) handle(ev fsnotify.Event) {
	name := ev.Name
	if c.skip(name) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		c.deb.Forget(name)
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if ev.Has(fsnotify.Create) && c.opts.Recursive {
				// Files may land before the new directory is watched.
				if err := c.addTree(name, true); err != nil {
					c.logger.Warn("watch new directory", "path", name, "error", err)
				}
			}
			return
		}
		if imagefile.Supported(name) {
			c.logger.Debug("change", "path", name, "op", ev.Op.String())
			c.deb.Touch(name)
		}
	}
}

// addTree watches dir and, when recursive, its subdirectories. With touch
// set, images already inside are queued.
func (c *Controller) addTree(dir string, touch bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && (hidden(path) || !c.opts.Recursive) {
				return filepath.SkipDir
			}
			if err := c.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		if touch && !c.skip(path) && imagefile.Supported(path) {
			c.deb.Touch(path)
		}
		return nil
	})
}

func (c *Controller) skip(path string) bool {
	return hidden(path) || (c.opts.Ignore != nil && c.opts.Ignore(path))
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
