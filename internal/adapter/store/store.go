// Package store implements the Metadata Store (persisted service records and
// optional API keys) behind ports.MetadataStore. It is deliberately a single
// JSON document guarded by a sync.RWMutex and written via a temp-file-plus-
// rename swap, not a SQL driver: no repo in the pack ships a pure-Go embedded
// relational engine, and wiring pgx/lib/pq would require a network-attached
// Postgres the gateway otherwise has no reason to depend on. The RWMutex
// plus atomic-rename-on-write shape mirrors the config loader's own
// fsnotify-driven debounced rewrite of in-memory state behind a lock,
// applied here to a file instead of an in-memory map.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hestia-project/hestia-gateway/internal/core/ports"
)

type document struct {
	Services []ports.ServiceRecord  `json:"services"`
	APIKeys  []ports.APIKeyRecord   `json:"api_keys"`
}

// Store is a JSON-file-backed implementation of ports.MetadataStore.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  document
}

// Open loads path if it exists, or starts with an empty document if it
// doesn't. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.doc); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) SaveServiceRecord(_ context.Context, rec ports.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replaced := false
	for i, existing := range s.doc.Services {
		if existing.ServiceID == rec.ServiceID {
			s.doc.Services[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Services = append(s.doc.Services, rec)
	}
	return s.flushLocked()
}

func (s *Store) LoadServiceRecords(_ context.Context) ([]ports.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.ServiceRecord, len(s.doc.Services))
	copy(out, s.doc.Services)
	return out, nil
}

func (s *Store) SaveAPIKey(_ context.Context, key ports.APIKeyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.APIKeys {
		if existing.Key == key.Key {
			s.doc.APIKeys[i] = key
			return s.flushLocked()
		}
	}
	s.doc.APIKeys = append(s.doc.APIKeys, key)
	return s.flushLocked()
}

func (s *Store) ListAPIKeys(_ context.Context) ([]ports.APIKeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ports.APIKeyRecord, len(s.doc.APIKeys))
	copy(out, s.doc.APIKeys)
	return out, nil
}

// flushLocked writes the document to a temp file in the same directory and
// renames it over path, so a crash mid-write never leaves a truncated file.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

var _ ports.MetadataStore = (*Store)(nil)
