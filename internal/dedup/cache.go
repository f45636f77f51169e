// Package dedup skips work whose result already exists: within a run through
// Index, across runs through a persisted Cache.
package dedup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/AnyUserName/avifbatch/internal/hasher"
)

// Cache backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendPebble = "pebble"
)

// Backends lists the accepted backend names.
var Backends = []string{BackendJSON, BackendSQLite, BackendPebble}

// DefaultFileName returns the conventional cache file (or directory) name for
// a backend.
func DefaultFileName(backend string) string {
	switch backend {
	case BackendSQLite:
		return "cache.db"
	case BackendPebble:
		return "cache.pebble"
	default:
		return "cache.json"
	}
}

// Entry is one remembered conversion.
type Entry struct {
	Digest     hasher.Digest `json:"digest"`
	OutputPath string        `json:"output_path"`
	// OutputDigest is the digest of the bytes written to OutputPath.
	OutputDigest hasher.Digest `json:"output_digest"`
	Settings     string        `json:"settings"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Store is a cache backend.
type Store interface {
	Get(d hasher.Digest) (Entry, bool, error)
	Put(e Entry) error
	List() ([]Entry, error)
	Clear() error
	Close() error
}

// Cache answers "was this content already converted with these settings".
// A nil *Cache is a valid, always-missing cache.
type Cache struct {
	store  Store
	logger *slog.Logger
}

// Open opens the cache at path with the named backend. A cache that cannot be
// read is moved aside and started empty; if even that fails the cache lives
// in memory for this run. Only an unknown backend is an error.
func Open(backend, path string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	open, err := opener(backend)
	if err != nil {
		return nil, err
	}

	store, err := open(path)
	if err != nil {
		aside := path + ".corrupt"
		logger.Warn("cache unreadable, starting empty",
			"backend", backend, "path", path, "moved_to", aside, "error", err)
		_ = os.RemoveAll(aside)
		if renameErr := os.Rename(path, aside); renameErr != nil && !errors.Is(renameErr, os.ErrNotExist) {
			logger.Warn("move corrupt cache", "error", renameErr)
		}
		store, err = open(path)
		if err != nil {
			logger.Warn("cache disabled for this run, using memory", "backend", backend, "error", err)
			store = newMemoryStore()
		}
	}
	return &Cache{store: store, logger: logger.With("component", "cache")}, nil
}

// NewMemory returns a cache that is never persisted.
func NewMemory() *Cache {
	return &Cache{store: newMemoryStore(), logger: slog.New(slog.DiscardHandler)}
}

func opener(backend string) (func(string) (Store, error), error) {
	switch backend {
	case BackendJSON, "":
		return func(p string) (Store, error) { return openJSON(p) }, nil
	case BackendSQLite:
		return func(p string) (Store, error) { return openSQLite(p) }, nil
	case BackendPebble:
		return func(p string) (Store, error) { return openPebble(p) }, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q (want one of %v)", backend, Backends)
}

// Lookup returns the entry for d when it was produced with the same settings
// and its output file still holds the recorded bytes. An output overwritten
// since, by another version of the source or by hand, is a miss.
func (c *Cache) Lookup(d hasher.Digest, settings string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok, err := c.store.Get(d)
	if err != nil {
		c.logger.Warn("cache lookup failed", "digest", d.Short(), "error", err)
		return Entry{}, false
	}
	if !ok || e.Settings != settings {
		return Entry{}, false
	}
	if !intact(e.OutputPath, e.OutputDigest) {
		return Entry{}, false
	}
	return e, true
}

// intact reports whether path exists and hashes to want. Entries recorded
// without an output digest never verify.
func intact(path string, want hasher.Digest) bool {
	if want == "" {
		return false
	}
	got, _, err := hasher.FileDigest(path)
	return err == nil && got == want
}

// Record remembers a successful conversion.
func (c *Cache) Record(e Entry) error {
	if c == nil {
		return nil
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := c.store.Put(e); err != nil {
		return fmt.Errorf("record %s: %w", e.Digest.Short(), err)
	}
	return nil
}

// Entries returns every entry, oldest first.
func (c *Cache) Entries() ([]Entry, error) {
	if c == nil {
		return nil, nil
	}
	entries, err := c.store.List()
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Digest < entries[j].Digest
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Clear forgets every entry.
func (c *Cache) Clear() error {
	if c == nil {
		return nil
	}
	return c.store.Clear()
}

// Close flushes and releases the backend.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.store.Close()
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[hasher.Digest]Entry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[hasher.Digest]Entry)}
}

func (m *memoryStore) Get(d hasher.Digest) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[d]
	return e, ok, nil
}

func (m *memoryStore) Put(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.Digest] = e
	return nil
}

func (m *memoryStore) List() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[hasher.Digest]Entry)
	return nil
}

func (m *memoryStore) Close() error { return nil }
