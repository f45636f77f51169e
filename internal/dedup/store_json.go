package dedup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/AnyUserName/avifbatch/internal/hasher"
)

const jsonCacheVersion = 1

type jsonFile struct {
	Version int                     `json:"version"`
	Entries map[hasher.Digest]Entry `json:"entries"`
}

// jsonStore keeps the cache in memory and writes it back on Close. Reads and
// writes of the file hold a flock so concurrent runs merge instead of
// clobbering each other.
type jsonStore struct {
	path string
	lock *flock.Flock

	mu      sync.Mutex
	entries map[hasher.Digest]Entry
	dirty   map[hasher.Digest]struct{}
}

func openJSON(path string) (*jsonStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &jsonStore{
		path:  path,
		lock:  flock.New(path + ".lock"),
		dirty: make(map[hasher.Digest]struct{}),
	}
	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock cache: %w", err)
	}
	entries, err := readJSON(path)
	_ = s.lock.Unlock()
	if err != nil {
		return nil, err
	}
	s.entries = entries
	return s, nil
}

func readJSON(path string) (map[hasher.Digest]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[hasher.Digest]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	var f jsonFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cache: %w", err)
	}
	if f.Version != jsonCacheVersion {
		return nil, fmt.Errorf("cache version %d not supported", f.Version)
	}
	if f.Entries == nil {
		f.Entries = make(map[hasher.Digest]Entry)
	}
	return f.Entries, nil
}

func (s *jsonStore) Get(d hasher.Digest) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[d]
	return e, ok, nil
}

func (s *jsonStore) Put(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Digest] = e
	s.dirty[e.Digest] = struct{}{}
	return nil
}

func (s *jsonStore) List() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *jsonStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[hasher.Digest]Entry)
	s.dirty = make(map[hasher.Digest]struct{})

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	defer s.lock.Unlock()
	return writeJSON(s.path, s.entries)
}

func (s *jsonStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	defer s.lock.Unlock()

	// Merge with whatever other runs wrote since we loaded.
	onDisk, err := readJSON(s.path)
	if err != nil {
		onDisk = make(map[hasher.Digest]Entry)
	}
	for d := range s.dirty {
		onDisk[d] = s.entries[d]
	}
	if err := writeJSON(s.path, onDisk); err != nil {
		return err
	}
	s.entries = onDisk
	s.dirty = make(map[hasher.Digest]struct{})
	return nil
}

func writeJSON(path string, entries map[hasher.Digest]Entry) error {
	data, err := json.MarshalIndent(jsonFile{Version: jsonCacheVersion, Entries: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".cache-*.json")
	if err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}
