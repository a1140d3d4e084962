package memory

import (
	"context"
	"sync"

	"telemetry-ml/internal/storage"
)

// ModelStore is an in-memory implementation of storage.ModelStore.
type ModelStore struct {
	mu   sync.RWMutex
	data map[string]*storage.Artifacts // keyed by StorageID
}

// NewModelStore creates a new in-memory model store.
func NewModelStore() *ModelStore {
	return &ModelStore{
		data: make(map[string]*storage.Artifacts),
	}
}

func modelKey(key storage.ModelKey) string {
	return key.StorageID()
}

// Save replaces the artifacts for key.
func (s *ModelStore) Save(_ context.Context, key storage.ModelKey, a *storage.Artifacts) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[modelKey(key)] = a.Clone()
	return nil
}

// Load returns a copy of the artifacts for key. Returns ErrNotFound if absent.
func (s *ModelStore) Load(_ context.Context, key storage.ModelKey) (*storage.Artifacts, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[modelKey(key)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// Delete removes the artifacts for key. Returns ErrNotFound if absent.
func (s *ModelStore) Delete(_ context.Context, key storage.ModelKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := modelKey(key)
	if _, exists := s.data[k]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, k)
	return nil
}

// Ping always succeeds.
func (s *ModelStore) Ping(_ context.Context) error {
	return nil
}

var (
	_ storage.ModelStore = (*ModelStore)(nil)
	_ storage.Pinger     = (*ModelStore)(nil)
)
