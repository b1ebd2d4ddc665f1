package codec

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/infra/storage/memory"
)

const channel = "0x00000000000000000000000000000000000000c1"

func seed(t *testing.T, ranges []domain.Range, blocks ...uint64) *memory.MemoryStorage {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	msgs := make([]domain.Message, 0, len(blocks))
	for _, b := range blocks {
		tx := fmt.Sprintf("0x%064x", b)
		msgs = append(msgs, domain.Message{
			ID:          domain.MessageID(tx, 0),
			Channel:     channel,
			BlockNumber: b,
			TxHash:      tx,
			Sender:      "0x00000000000000000000000000000000000000aa",
			DisplayName: "alice",
			Content:     fmt.Sprintf("hello %d", b),
			Timestamp:   time.Unix(int64(1700000000+b), 0).UTC(),
		})
	}
	_, err := store.Messages().Upsert(ctx, channel, msgs)
	require.NoError(t, err)
	require.NoError(t, store.Scans().Save(ctx, &domain.ScanMeta{
		Channel:     channel,
		Ranges:      ranges,
		LastUpdated: time.Now().UTC(),
	}))
	return store
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := seed(t, []domain.Range{{Start: 10, End: 20}}, 11, 12, 15, 18, 20)

	data, err := New(src, channelstate.NewRegistry()).Export(ctx, []string{channel}, false)
	require.NoError(t, err)
	assert.False(t, IsCompressed(data))

	dst := memory.NewMemoryStorage()
	res, err := New(dst, channelstate.NewRegistry()).Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 5, res.MessagesAdded)
	assert.Equal(t, 1, res.RangesTouched)

	meta, err := dst.Scans().Get(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 10, End: 20}}, meta.Ranges)

	want, err := src.Messages().All(ctx, channel)
	require.NoError(t, err)
	got, err := dst.Messages().All(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestImport_Idempotent(t *testing.T) {
	ctx := context.Background()
	src := seed(t, []domain.Range{{Start: 10, End: 20}}, 11, 12)
	data, err := New(src, channelstate.NewRegistry()).Export(ctx, nil, true)
	require.NoError(t, err)
	assert.True(t, IsCompressed(data))

	dst := memory.NewMemoryStorage()
	c := New(dst, channelstate.NewRegistry())

	_, err = c.Import(ctx, data)
	require.NoError(t, err)
	res, err := c.Import(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{}, res)

	n, err := dst.Messages().Count(ctx, channel)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestImport_Union(t *testing.T) {
	ctx := context.Background()
	a := seed(t, []domain.Range{{Start: 10, End: 20}}, 15)
	b := seed(t, []domain.Range{{Start: 21, End: 25}, {Start: 40, End: 50}}, 45)

	dataA, err := New(a, channelstate.NewRegistry()).Export(ctx, nil, false)
	require.NoError(t, err)
	dataB, err := New(b, channelstate.NewRegistry()).Export(ctx, nil, false)
	require.NoError(t, err)

	// Importing in either order yields the same state.
	for _, order := range [][][]byte{{dataA, dataB}, {dataB, dataA}} {
		dst := memory.NewMemoryStorage()
		c := New(dst, channelstate.NewRegistry())
		for _, data := range order {
			_, err := c.Import(ctx, data)
			require.NoError(t, err)
		}

		meta, err := dst.Scans().Get(ctx, channel)
		require.NoError(t, err)
		assert.Equal(t, []domain.Range{{Start: 10, End: 25}, {Start: 40, End: 50}}, meta.Ranges)

		n, err := dst.Messages().Count(ctx, channel)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
}

func TestImport_InvalidPackageWritesNothing(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{"version":`},
		{"bad version", `{"version":2,"channels":[]}`},
		{"empty channel", `{"version":1,"channels":[{"channel":"  ","ranges":[[1,2]]}]}`},
		{"inverted range", `{"version":1,"channels":[
			{"channel":"0xaa","ranges":[[1,2]],"messages":[{"id":"0x01","block_number":1}]},
			{"channel":"0xbb","ranges":[[9,3]]}]}`},
		{"missing id", `{"version":1,"channels":[{"channel":"0xaa","ranges":[[1,2]],"messages":[{"block_number":1}]}]}`},
		{"foreign message", `{"version":1,"channels":[{"channel":"0xaa","ranges":[[1,2]],"messages":[{"id":"0x01","channel":"0xbb"}]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := memory.NewMemoryStorage()
			_, err := New(dst, channelstate.NewRegistry()).Import(ctx, []byte(tt.data))
			require.ErrorIs(t, err, ErrImportFormat)

			channels, err := dst.Scans().Channels(ctx)
			require.NoError(t, err)
			assert.Empty(t, channels)
			n, err := dst.Messages().Count(ctx, "0xaa")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestDecode_RejectsOversizedPackage(t *testing.T) {
	limit := MaxDecodedSize
	MaxDecodedSize = 64 << 10
	t.Cleanup(func() { MaxDecodedSize = limit })

	bomb, err := compress(bytes.Repeat([]byte{' '}, 1<<20))
	require.NoError(t, err)
	require.Less(t, len(bomb), 4<<10)

	_, err = Decode(bomb)
	require.ErrorIs(t, err, ErrImportFormat)
}

func TestImport_NormalizesChannel(t *testing.T) {
	ctx := context.Background()
	dst := memory.NewMemoryStorage()

	data := `{"version":1,"channels":[{"channel":"0xAbC","ranges":[[5,6],[7,9]],"messages":[{"id":"0x01","block_number":5}]}]}`
	res, err := New(dst, channelstate.NewRegistry()).Import(ctx, []byte(data))
	require.NoError(t, err)
	assert.Equal(t, 2, res.RangesTouched)

	meta, err := dst.Scans().Get(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 5, End: 9}}, meta.Ranges)

	msgs, err := dst.Messages().All(ctx, "0xabc")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xabc", msgs[0].Channel)
}
