package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Benny93/twinscope/internal/graph"
)

func setupTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := OpenSQLite(filepath.Join(t.TempDir(), "twinscope.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	storeContract(t, func(t *testing.T) graph.Store {
		return setupTestSQLiteStore(t)
	})
}

func TestSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "twinscope.db")

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.CreateTwin(ctx, &graph.TwinNode{DTMI: "dtmi:com:example:A;1"}))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	defer second.Close()

	twins, err := second.ListTwins(ctx)
	require.NoError(t, err)
	assert.Len(t, twins, 1)
}

func TestSQLiteStore_ForeignKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := setupTestSQLiteStore(t)

	ghost := int64(31337)
	err := store.CreateFile(ctx, &graph.FileObject{Path: "x", TwinID: &ghost})
	assert.ErrorIs(t, err, graph.ErrNotFound)

	err = store.CreateStitch(ctx, &graph.StitchCandidate{FileObjectID: ghost, ExtractedObjectID: ghost, DTKey: "k"})
	assert.ErrorIs(t, err, graph.ErrNotFound)
}
