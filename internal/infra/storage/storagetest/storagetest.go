// Package storagetest holds the behaviour tests every storage backend must pass.
package storagetest

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage"
)

// Factory opens a fresh, empty store for one test.
type Factory func(t *testing.T) storage.Store

// Message builds a deterministic message for tests.
func Message(channel string, block, logIndex uint64) domain.Message {
	tx := fmt.Sprintf("0x%064x", block*1000+logIndex)
	return domain.Message{
		ID:          domain.MessageID(tx, logIndex),
		Channel:     channel,
		BlockNumber: block,
		LogIndex:    logIndex,
		TxHash:      tx,
		Sender:      "0x00000000000000000000000000000000000000aa",
		DisplayName: "alice",
		Content:     fmt.Sprintf("msg %d/%d", block, logIndex),
		Timestamp:   time.Unix(int64(1700000000+block), 0).UTC(),
	}
}

// Run executes the full backend suite.
func Run(t *testing.T, open Factory) {
	t.Run("UpsertIsIdempotent", func(t *testing.T) { testUpsertIdempotent(t, open(t)) })
	t.Run("QueryOrdering", func(t *testing.T) { testQueryOrdering(t, open(t)) })
	t.Run("QueryLimitKeepsMostRecent", func(t *testing.T) { testQueryLimit(t, open(t)) })
	t.Run("ChannelIsolation", func(t *testing.T) { testChannelIsolation(t, open(t)) })
	t.Run("ScanMetaRoundTrip", func(t *testing.T) { testScanMeta(t, open(t)) })
	t.Run("PurgeAll", func(t *testing.T) { testPurgeAll(t, open(t)) })
}

func testUpsertIdempotent(t *testing.T, s storage.Store) {
	ctx := context.Background()
	repo := s.Messages()

	batch := []domain.Message{Message("0xa", 10, 0), Message("0xa", 10, 1), Message("0xa", 11, 0)}

	added, err := repo.Upsert(ctx, "0xa", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, added)

	added, err = repo.Upsert(ctx, "0xa", batch)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	added, err = repo.Upsert(ctx, "0xa", append(batch[:1:1], Message("0xa", 12, 0)))
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	count, err := repo.Count(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, 4, count)
}

func testQueryOrdering(t *testing.T, s storage.Store) {
	ctx := context.Background()
	repo := s.Messages()

	var msgs []domain.Message
	for block := uint64(1); block <= 40; block++ {
		for idx := uint64(0); idx < 3; idx++ {
			msgs = append(msgs, Message("0xa", block, idx))
		}
	}
	rng := rand.New(rand.NewSource(1))
	rng.Shuffle(len(msgs), func(i, j int) { msgs[i], msgs[j] = msgs[j], msgs[i] })

	// Insert in several shuffled batches
	for i := 0; i < len(msgs); i += 17 {
		_, err := repo.Upsert(ctx, "0xa", msgs[i:min(i+17, len(msgs))])
		require.NoError(t, err)
	}

	got, err := repo.Query(ctx, "0xa", 0)
	require.NoError(t, err)
	require.Len(t, got, len(msgs))
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		require.LessOrEqual(t, prev.BlockNumber, cur.BlockNumber, "block order broken at %d", i)
		if prev.BlockNumber == cur.BlockNumber {
			require.Less(t, prev.LogIndex, cur.LogIndex, "log order broken at %d", i)
		}
	}
}

func testQueryLimit(t *testing.T, s storage.Store) {
	ctx := context.Background()
	repo := s.Messages()

	_, err := repo.Upsert(ctx, "0xa", []domain.Message{
		Message("0xa", 50, 0), Message("0xa", 5, 0), Message("0xa", 30, 1),
		Message("0xa", 30, 0), Message("0xa", 90, 0),
	})
	require.NoError(t, err)

	got, err := repo.Query(ctx, "0xa", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(30), got[0].BlockNumber)
	assert.Equal(t, uint64(1), got[0].LogIndex)
	assert.Equal(t, uint64(50), got[1].BlockNumber)
	assert.Equal(t, uint64(90), got[2].BlockNumber)

	first := got[0]
	want := Message("0xa", 30, 1)
	assert.Equal(t, want.ID, first.ID)
	assert.Equal(t, want.Content, first.Content)
	assert.Equal(t, want.DisplayName, first.DisplayName)
	assert.True(t, want.Timestamp.Equal(first.Timestamp))
}

func testChannelIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	repo := s.Messages()

	_, err := repo.Upsert(ctx, "0xA", []domain.Message{Message("0xa", 1, 0), Message("0xa", 2, 0)})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "0xb", []domain.Message{Message("0xb", 1, 0)})
	require.NoError(t, err)

	got, err := repo.Query(ctx, "0xa", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	require.NoError(t, repo.DeleteChannel(ctx, "0xa"))

	count, err := repo.Count(ctx, "0xa")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = repo.Count(ctx, "0xb")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testScanMeta(t *testing.T, s storage.Store) {
	ctx := context.Background()
	repo := s.Scans()

	meta, err := repo.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Empty(t, meta.Ranges)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Save(ctx, &domain.ScanMeta{
		Channel:     "0xA",
		Ranges:      []domain.Range{{Start: 10, End: 20}, {Start: 40, End: 50}},
		LastUpdated: now,
	}))

	meta, err = repo.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 10, End: 20}, {Start: 40, End: 50}}, meta.Ranges)
	assert.True(t, meta.LastUpdated.Equal(now), "last updated %v != %v", meta.LastUpdated, now)

	// Save replaces, it does not append
	require.NoError(t, repo.Save(ctx, &domain.ScanMeta{
		Channel:     "0xa",
		Ranges:      []domain.Range{{Start: 10, End: 50}},
		LastUpdated: now,
	}))
	meta, err = repo.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 10, End: 50}}, meta.Ranges)

	channels, err := repo.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xa"}, channels)

	require.NoError(t, repo.Delete(ctx, "0xa"))
	meta, err = repo.Get(ctx, "0xa")
	require.NoError(t, err)
	assert.Empty(t, meta.Ranges)
}

func testPurgeAll(t *testing.T, s storage.Store) {
	ctx := context.Background()

	_, err := s.Messages().Upsert(ctx, "0xa", []domain.Message{Message("0xa", 1, 0)})
	require.NoError(t, err)
	_, err = s.Messages().Upsert(ctx, "0xb", []domain.Message{Message("0xb", 1, 0)})
	require.NoError(t, err)
	require.NoError(t, s.Scans().Save(ctx, &domain.ScanMeta{Channel: "0xa", Ranges: []domain.Range{{Start: 1, End: 1}}}))

	require.NoError(t, s.Messages().DeleteAll(ctx))
	require.NoError(t, s.Scans().DeleteAll(ctx))

	for _, ch := range []string{"0xa", "0xb"} {
		count, err := s.Messages().Count(ctx, ch)
		require.NoError(t, err)
		assert.Zero(t, count)
	}
	channels, err := s.Scans().Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
}
