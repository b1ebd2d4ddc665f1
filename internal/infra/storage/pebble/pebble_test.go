package pebble

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage"
	"github.com/vietddude/logsync/internal/infra/storage/storagetest"
)

func openPebble(t *testing.T) storage.Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPebbleStore(t *testing.T) {
	storagetest.Run(t, openPebble)
}

func TestPebble_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := Open(dir)
	require.NoError(t, err)
	_, err = store.Messages().Upsert(ctx, "0xa", []domain.Message{storagetest.Message("0xa", 7, 0)})
	require.NoError(t, err)
	require.NoError(t, store.Scans().Save(ctx, &domain.ScanMeta{Channel: "0xa", Ranges: []domain.Range{{Start: 1, End: 9}}}))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	count, err := store.Messages().Count(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	meta, err := store.Scans().Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 1, End: 9}}, meta.Ranges)
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte{'m', 0x01}, upperBound([]byte{'m', 0x00}))
	assert.Equal(t, []byte{'n'}, upperBound([]byte{'m', 0xff}))
	assert.Nil(t, upperBound([]byte{0xff, 0xff}))
}
