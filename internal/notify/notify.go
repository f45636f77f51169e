// Package notify delivers run completion events to the desktop or to an
// ntfy topic.
//
// Delivery is best effort: callers log a returned error and carry on. A run
// never fails because a notification could not be shown.
package notify

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"strings"
	"time"
)

const appName = "avifbatch"

// Event is one completion notice.
type Event struct {
	Title     string
	Body      string
	Summary   string
	Thumbnail image.Image
	Failed    bool
}

// Sink delivers events.
type Sink interface {
	Notify(ctx context.Context, ev Event) error
}

// Options select the sinks New builds.
type Options struct {
	Desktop bool
	NtfyURL string
	Timeout time.Duration
	Logger  *slog.Logger
}

// New returns a sink for every configured transport, or a no-op sink when
// none is configured.
func New(opts Options) Sink {
	var sinks Multi
	if opts.Desktop {
		sinks = append(sinks, NewDesktop())
	}
	if url := strings.TrimSpace(opts.NtfyURL); url != "" {
		sinks = append(sinks, NewNtfy(url, opts.Timeout))
	}
	switch len(sinks) {
	case 0:
		return Noop{}
	case 1:
		return sinks[0]
	}
	return sinks
}

// Noop discards events.
type Noop struct{}

func (Noop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to several sinks and joins their errors.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Completed builds the standard end-of-run event.
func Completed(summary string, failed int, thumb image.Image) Event {
	ev := Event{
		Title:     "Conversion completed",
		Body:      summary,
		Summary:   summary,
		Thumbnail: thumb,
	}
	if failed > 0 {
		ev.Title = "Conversion finished with errors"
		ev.Failed = true
	}
	return ev
}
