package postgres

import (
	"context"
	"fmt"

	"telemetry-ml/internal/storage"
)

// ModelStore implements storage.ModelStore over the model_artifacts table.
// Rows are keyed on (kind, device_id, field, artifact).
type ModelStore struct {
	pool *Pool
}

// NewModelStore creates a new ModelStore.
func NewModelStore(pool *Pool) *ModelStore {
	return &ModelStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ModelStore = (*ModelStore)(nil)

// Save upserts all three artifacts in one transaction.
func (s *ModelStore) Save(ctx context.Context, key storage.ModelKey, a *storage.Artifacts) (err error) {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := a.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO model_artifacts (kind, device_id, field, artifact, name, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (kind, device_id, field, artifact)
		DO UPDATE SET name = EXCLUDED.name, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at
	`
	for _, kind := range storage.ArtifactKinds {
		if _, err = tx.Exec(ctx, query,
			string(key.Kind), key.DeviceID, key.Field, string(kind), key.ArtifactName(kind), a.Get(kind),
		); err != nil {
			return fmt.Errorf("upsert %s: %w", key.ArtifactName(kind), err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Load returns the artifacts for key. Returns ErrNotFound if absent.
func (s *ModelStore) Load(ctx context.Context, key storage.ModelKey) (*storage.Artifacts, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	query := `
		SELECT artifact, payload
		FROM model_artifacts
		WHERE kind = $1 AND device_id = $2 AND field = $3
	`
	rows, err := s.pool.Query(ctx, query, string(key.Kind), key.DeviceID, key.Field)
	if err != nil {
		return nil, fmt.Errorf("query model_artifacts: %w", err)
	}
	defer rows.Close()

	byKind := make(map[storage.ArtifactKind][]byte, len(storage.ArtifactKinds))
	for rows.Next() {
		var (
			artifact string
			payload  []byte
		)
		if err := rows.Scan(&artifact, &payload); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		byKind[storage.ArtifactKind(artifact)] = payload
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts: %w", err)
	}

	if len(byKind) == 0 {
		return nil, storage.ErrNotFound
	}

	a := &storage.Artifacts{}
	for _, kind := range storage.ArtifactKinds {
		a.Set(kind, byKind[kind])
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

	tag, err := s.pool.Exec(ctx,
		`DELETE FROM model_artifacts WHERE kind = $1 AND device_id = $2 AND field = $3`,
		string(key.Kind), key.DeviceID, key.Field)
	if err != nil {
		return fmt.Errorf("delete model_artifacts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Ping checks the database connection.
func (s *ModelStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var _ storage.Pinger = (*ModelStore)(nil)
