package watch

import (
	"context"
	"sync"
	"time"
)

// Debouncer collapses bursts of events per path. Paths are kept in a ring of
// time buckets advanced by a single ticker; touching a path again moves its
// deadline forward, and the stale entry left in the older bucket is ignored
// when that bucket expires. Bucket slices are truncated and reused, so a
// steady event stream does not allocate.
type Debouncer struct {
	mu      sync.Mutex
	tick    time.Duration
	slots   uint64
	now     uint64
	ring    [][]string
	pending map[string]uint64 // path -> tick at which it settles
	ready   []string
}

// DefaultSlots is the number of buckets per window.
const DefaultSlots = 8

// NewDebouncer returns a debouncer that emits a path once it has been quiet
// for window. Emission happens between window and window plus one bucket.
func NewDebouncer(window time.Duration, slots int) *Debouncer {
	if slots <= 0 {
		slots = DefaultSlots
	}
	tick := window / time.Duration(slots)
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &Debouncer{
		tick:    tick,
		slots:   uint64(slots),
		ring:    make([][]string, slots+1),
		pending: make(map[string]uint64),
	}
}

// Touch records an event for path, restarting its quiet period.
func (d *Debouncer) Touch(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	deadline := d.now + d.slots
	if d.pending[path] == deadline {
		return
	}
	d.pending[path] = deadline
	i := deadline % uint64(len(d.ring))
	d.ring[i] = append(d.ring[i], path)
}

// Forget drops a pending path, for files removed before they settled.
func (d *Debouncer) Forget(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, path)
}

// Pending returns the number of paths waiting to settle.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Advance moves time forward by one bucket and returns the paths that
// settled. The returned slice is only valid until the next call.
func (d *Debouncer) Advance() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now++
	i := d.now % uint64(len(d.ring))
	d.ready = d.ready[:0]
	for _, p := range d.ring[i] {
		if deadline, ok := d.pending[p]; ok && deadline == d.now {
			delete(d.pending, p)
			d.ready = append(d.ready, p)
		}
	}
	clear(d.ring[i])
	d.ring[i] = d.ring[i][:0]
	return d.ready
}

// Run advances the debouncer on a ticker and calls emit for every settled
// path until ctx is done.
func (d *Debouncer) Run(ctx context.Context, emit func(string)) {
	t := time.NewTicker(d.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for _, p := range d.Advance() {
				emit(p)
			}
		}
	}
}
