package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = appName + "/1"

// DefaultTimeout bounds a single ntfy request.
const DefaultTimeout = 10 * time.Second

// Ntfy publishes events to an ntfy topic URL.
type Ntfy struct {
	endpoint string
	client   *http.Client
}

// NewNtfy returns a sink posting to endpoint, for example
// https://ntfy.sh/my-topic.
func NewNtfy(endpoint string, timeout time.Duration) *Ntfy {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Ntfy{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (n *Ntfy) Notify(ctx context.Context, ev Event) error {
	tags := []string{appName, "completed"}
	priority := ""
	if ev.Failed {
		tags = []string{appName, "error"}
		priority = "high"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(ev.Body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if ev.Title != "" {
		req.Header.Set("Title", ev.Title)
	}
	req.Header.Set("Tags", strings.Join(tags, ","))
	if priority != "" {
		req.Header.Set("Priority", priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
