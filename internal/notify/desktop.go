package notify

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/disintegration/imaging"
)

// ThumbnailSize bounds the longer edge of the notification image.
const ThumbnailSize = 512

// Desktop shows events through notify-send.
type Desktop struct {
	// Command is the notifier binary, notify-send unless overridden.
	Command string
}

// NewDesktop returns a Desktop sink using notify-send from PATH.
func NewDesktop() *Desktop {
	return &Desktop{Command: "notify-send"}
}

func (d *Desktop) Notify(ctx context.Context, ev Event) error {
	bin, err := exec.LookPath(d.Command)
	if err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}

	args := []string{"--app-name", appName}
	if ev.Failed {
		args = append(args, "--urgency", "critical")
	}
	if ev.Thumbnail != nil {
		icon, err := writeThumbnail(ev)
		if err != nil {
			return err
		}
		defer os.Remove(icon)
		args = append(args, "--icon", icon)
	}
	args = append(args, ev.Title, ev.Body)

	out, err := exec.CommandContext(ctx, bin, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("desktop notification: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func writeThumbnail(ev Event) (string, error) {
	f, err := os.CreateTemp("", appName+"-notify-*.png")
	if err != nil {
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	path := f.Name()
	f.Close()

	thumb := imaging.Fit(ev.Thumbnail, ThumbnailSize, ThumbnailSize, imaging.Lanczos)
	if err := imaging.Save(thumb, path); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("thumbnail: %w", err)
	}
	return path, nil
}
