package badgerdb

import (
	"bytes"
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telemetry-ml/internal/storage"
)

func openTestStore(t *testing.T) *ModelStore {
	t.Helper()
	store, err := Open(Config{Path: t.TempDir(), CompressionLevel: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestModelStore_SaveLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := storage.ForecastKey("dev1", "system.temperature")

	model := bytes.Repeat([]byte(`{"w":[0.125,0.25]}`), 200)
	require.NoError(t, store.Save(ctx, key, &storage.Artifacts{
		Model: model, Scaler: []byte(`{"min":1}`), Metadata: []byte(`{"kind":"lstm"}`),
	}))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, model, got.Model)
	assert.Equal(t, []byte(`{"min":1}`), got.Scaler)
	assert.Equal(t, []byte(`{"kind":"lstm"}`), got.Metadata)
}

func TestModelStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	key := storage.AnomalyKey("dev1")

	store, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, key, &storage.Artifacts{
		Model: []byte("m"), Scaler: []byte("s"), Metadata: []byte("{}"),
	}))
	require.NoError(t, store.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("m"), got.Model)
}

func TestModelStore_NotFoundAndDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := storage.AnomalyKey("dev1")

	_, err := store.Load(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), storage.ErrNotFound)

	require.NoError(t, store.Save(ctx, key, &storage.Artifacts{
		Model: []byte("m"), Scaler: []byte("s"), Metadata: []byte("{}"),
	}))
	require.NoError(t, store.Delete(ctx, key))

	_, err = store.Load(ctx, key)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestModelStore_PartialEntryIsIncomplete(t *testing.T) {
	store, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	defer store.Close()

	key := storage.AnomalyKey("dev1")
	err = store.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(key, storage.ArtifactModel), store.compressor.Compress([]byte("m")))
	})
	require.NoError(t, err)

	_, err = store.Load(context.Background(), key)
	assert.ErrorIs(t, err, storage.ErrIncompleteArtifacts)
}

func TestCompressor_RoundTrip(t *testing.T) {
	for level := 0; level <= 4; level++ {
		c, err := NewCompressor(level)
		require.NoError(t, err)

		data := bytes.Repeat([]byte("telemetry "), 500)
		compressed := c.Compress(data)
		assert.Less(t, len(compressed), len(data))

		out, err := c.Decompress(compressed)
		require.NoError(t, err)
		assert.Equal(t, data, out)
		c.Close()
	}
}

func TestCompressor_RejectsGarbage(t *testing.T) {
	c, err := NewCompressor(1)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Decompress([]byte("not zstd"))
	assert.Error(t, err)
}

func TestModelStore_KeysWithSameArtifactNameStayApart(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	a := storage.ForecastKey("dev", "x.y")
	b := storage.ForecastKey("dev_x", "y")

	require.NoError(t, store.Save(ctx, a, &storage.Artifacts{
		Model: []byte("ma"), Scaler: []byte("sa"), Metadata: []byte("{}"),
	}))
	require.NoError(t, store.Save(ctx, b, &storage.Artifacts{
		Model: []byte("mb"), Scaler: []byte("sb"), Metadata: []byte("{}"),
	}))

	got, err := store.Load(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []byte("ma"), got.Model)

	got, err = store.Load(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []byte("mb"), got.Model)

	_, err = store.Load(ctx, storage.ForecastKey("dev", "x_y"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Delete(ctx, b))
	_, err = store.Load(ctx, a)
	assert.NoError(t, err)
}
