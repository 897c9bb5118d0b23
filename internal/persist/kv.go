package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Backend stores one whole keyed document. Save replaces the document
// atomically: readers see either the old or the new map, never a mix.
type Backend interface {
	Load(ctx context.Context) (map[string]json.RawMessage, error)
	Save(ctx context.Context, doc map[string]json.RawMessage) error
}

// FileBackend keeps the document as a JSON object in a single file.
type FileBackend struct {
	path string
}

// NewFileBackend returns a backend reading and writing path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Load(_ context.Context) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", f.path, err)
	}
	return doc, nil
}

func (f *FileBackend) Save(_ context.Context, doc map[string]json.RawMessage) error {
	return WriteJSONAtomic(f.path, doc)
}

// Map is a typed view over a Backend. Every access goes through the shared
// process Lock, so concurrent handlers and background sweeps observe
// serialized read-modify-write cycles.
type Map[V any] struct {
	backend Backend
	lock    *Lock
}

// NewMap binds a backend to the process lock.
func NewMap[V any](backend Backend, lock *Lock) *Map[V] {
	return &Map[V]{backend: backend, lock: lock}
}

// Lock returns the lock guarding this map.
func (m *Map[V]) Lock() *Lock {
	return m.lock
}

// LoadLocked decodes the whole document. The caller must hold the lock.
func (m *Map[V]) LoadLocked(ctx context.Context) (map[string]V, error) {
	raw, err := m.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]V, len(raw))
	for k, v := range raw {
		var val V
		if err := json.Unmarshal(v, &val); err != nil {
			return nil, fmt.Errorf("decode key %q: %w", k, err)
		}
		out[k] = val
	}
	return out, nil
}

// SaveLocked encodes and replaces the whole document. The caller must hold the lock.
func (m *Map[V]) SaveLocked(ctx context.Context, doc map[string]V) error {
	raw := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode key %q: %w", k, err)
		}
		raw[k] = data
	}
	return m.backend.Save(ctx, raw)
}

// Get returns the value stored under key and whether it exists.
func (m *Map[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var (
		val V
		ok  bool
	)
	err := m.lock.WithLock(func() error {
		doc, err := m.LoadLocked(ctx)
		if err != nil {
			return err
		}
		val, ok = doc[key]
		return nil
	})
	return val, ok, err
}

// Snapshot returns a copy of the whole document.
func (m *Map[V]) Snapshot(ctx context.Context) (map[string]V, error) {
	var doc map[string]V
	err := m.lock.WithLock(func() error {
		var err error
		doc, err = m.LoadLocked(ctx)
		return err
	})
	return doc, err
}

// Update loads the document, lets fn mutate it and saves the result.
// If fn returns an error nothing is written.
func (m *Map[V]) Update(ctx context.Context, fn func(doc map[string]V) error) error {
	return m.lock.WithLock(func() error {
		doc, err := m.LoadLocked(ctx)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		return m.SaveLocked(ctx, doc)
	})
}

// Set stores val under key.
func (m *Map[V]) Set(ctx context.Context, key string, val V) error {
	return m.Update(ctx, func(doc map[string]V) error {
		doc[key] = val
		return nil
	})
}
