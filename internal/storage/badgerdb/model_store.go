package badgerdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"telemetry-ml/internal/storage"
)

// Config holds embedded store configuration.
type Config struct {
	Path             string
	CompressionLevel int
	InMemory         bool
}

// ModelStore implements storage.ModelStore on an embedded BadgerDB.
// Each artifact lives under "{storageID}/{artifactKind}" and is zstd-compressed.
type ModelStore struct {
	db         *badger.DB
	compressor *Compressor
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

// Open opens (or creates) the store at cfg.Path.
func Open(cfg Config) (*ModelStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &ModelStore{db: db, compressor: compressor}, nil
}

// Close closes the database.
func (s *ModelStore) Close() error {
	s.compressor.Close()
	return s.db.Close()
}

func artifactKey(key storage.ModelKey, kind storage.ArtifactKind) []byte {
	return []byte(key.StorageID() + "/" + string(kind))
}

// Save writes all three artifacts in one transaction.
func (s *ModelStore) Save(ctx context.Context, key storage.ModelKey, a *storage.Artifacts) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, kind := range storage.ArtifactKinds {
			if err := txn.Set(artifactKey(key, kind), s.compressor.Compress(a.Get(kind))); err != nil {
				return fmt.Errorf("set %s: %w", key.ArtifactName(kind), err)
			}
		}
		return nil
	})
}

// Load returns the artifacts for key. Returns ErrNotFound if absent.
func (s *ModelStore) Load(ctx context.Context, key storage.ModelKey) (*storage.Artifacts, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := &storage.Artifacts{}
	found := 0
	err := s.db.View(func(txn *badger.Txn) error {
		for _, kind := range storage.ArtifactKinds {
			item, err := txn.Get(artifactKey(key, kind))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			compressed, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			data, err := s.compressor.Decompress(compressed)
			if err != nil {
				return fmt.Errorf("%s: %w", key.ArtifactName(kind), err)
			}
			a.Set(kind, data)
			found++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}

	if found == 0 {
		return nil, storage.ErrNotFound
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return a, nil
}

// Delete removes the artifacts for key. Returns ErrNotFound if absent.
func (s *ModelStore) Delete(ctx context.Context, key storage.ModelKey) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		deleted := 0
		for _, kind := range storage.ArtifactKinds {
			k := artifactKey(key, kind)
			if _, err := txn.Get(k); errors.Is(err, badger.ErrKeyNotFound) {
				continue
			} else if err != nil {
				return err
			}
			if err := txn.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		if deleted == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// Ping reports whether the database is open.
func (s *ModelStore) Ping(_ context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger: database closed")
	}
	return nil
}
