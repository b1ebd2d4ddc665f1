package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/config"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/decode/decodetest"
	"github.com/vietddude/logsync/internal/indexing/syncer"
	"github.com/vietddude/logsync/internal/infra/storage/memory"
)

const globalAddr = "0x00000000000000000000000000000000000000f1"

// fakeSource implements chain.LogSource
type fakeSource struct {
	mu   sync.Mutex
	head uint64
	logs []domain.RawLog
	gate chan struct{}
	// failFor makes GetLogs fail for one address, before the gate.
	failFor string
}

func (f *fakeSource) GetLatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) GetLogs(ctx context.Context, address, topic string, from, to uint64) ([]domain.RawLog, error) {
	f.mu.Lock()
	gate := f.gate
	fail := f.failFor != "" && strings.EqualFold(address, f.failFor)
	f.mu.Unlock()
	if fail {
		return nil, errors.New("connection reset")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RawLog
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(`
chain:
  global_channel: "0x00000000000000000000000000000000000000F1"
  providers: [{url: "http://unused"}]
sync:
  chunk_size: 100
  inter_chunk_delay: 1ms
  head_cache_ttl: 1ns
channels:
  - address: "0x00000000000000000000000000000000000000F1"
    lower_bound: 100
`))
	require.NoError(t, err)
	// Unbounded lookback keeps every chunk in the tip phase.
	cfg.Sync.MaxLookback = 0
	return cfg
}

func newTestEngine(t *testing.T, source *fakeSource) *Engine {
	t.Helper()
	return NewEngineFromSource(testConfig(t), source, memory.NewMemoryStorage())
}

func globalLogs(blocks ...uint64) []domain.RawLog {
	out := make([]domain.RawLog, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, decodetest.GlobalLog(b, 0, "alice", "hello", 1700000000+b))
	}
	return out
}

func TestEngine_SynchronizeAndStatus(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{head: 450, logs: globalLogs(50, 120, 300, 449)}
	e := newTestEngine(t, source)

	res, err := e.Synchronize(ctx, globalAddr, domain.TipAndBackfill(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, 3, res.MessagesAdded, "block 50 is below the lower bound")

	gaps, err := e.Gaps(ctx, globalAddr)
	require.NoError(t, err)
	assert.Empty(t, gaps)

	statuses, err := e.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	s := statuses[0]
	assert.Equal(t, globalAddr, s.Channel)
	assert.Equal(t, domain.ChannelKindGlobal, s.Kind)
	assert.Equal(t, []domain.Range{{Start: 100, End: 450}}, s.Ranges)
	assert.Equal(t, uint64(450), s.Tip)
	assert.Equal(t, 3, s.Messages)
	assert.Equal(t, domain.SyncStateIdle, s.State)
	assert.Contains(t, s.LastRun, "done")

	msgs, err := e.GetMessages(ctx, globalAddr, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(300), msgs[0].BlockNumber)
	assert.Equal(t, uint64(449), msgs[1].BlockNumber)
}

func TestEngine_GapsBoundedByLowerBound(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{head: 400}
	e := newTestEngine(t, source)

	res, err := e.FillGap(ctx, globalAddr, 200, 299)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)

	gaps, err := e.Gaps(ctx, globalAddr)
	require.NoError(t, err)
	assert.Equal(t, []domain.Range{{Start: 300, End: 400}, {Start: 100, End: 199}}, gaps)
}

func TestEngine_PurgeRefusedWhileRunning(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{head: 300, logs: globalLogs(150), gate: make(chan struct{})}
	e := newTestEngine(t, source)

	run, err := e.Start(ctx, globalAddr, domain.TipAndBackfill())
	require.NoError(t, err)

	err = e.PurgeChannel(ctx, globalAddr)
	assert.ErrorIs(t, err, channelstate.ErrAlreadyRunning)
	assert.ErrorIs(t, e.PurgeAll(ctx), channelstate.ErrAlreadyRunning)

	close(source.gate)
	res := run.Wait()
	require.Equal(t, domain.SyncStateDone, res.State)

	require.NoError(t, e.PurgeChannel(ctx, globalAddr))

	meta, err := e.GetScanMeta(ctx, globalAddr)
	require.NoError(t, err)
	assert.Empty(t, meta.Ranges)
	n, err := e.store.Messages().Count(ctx, globalAddr)
	require.NoError(t, err)
	assert.Zero(t, n)

	state, last := e.State(globalAddr)
	assert.Equal(t, domain.SyncStateIdle, state)
	assert.Nil(t, last, "purge tears down the channel state")
}

func TestEngine_PurgeAll(t *testing.T) {
	ctx := context.Background()
	other := "0x00000000000000000000000000000000000000b2"
	source := &fakeSource{head: 200}
	e := newTestEngine(t, source)

	_, err := e.FillGap(ctx, globalAddr, 100, 150)
	require.NoError(t, err)
	_, err = e.FillGap(ctx, other, 0, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{globalAddr, other}, e.Channels())

	// Messages persisted without a range save, as after a crash mid-commit.
	orphan := "0x00000000000000000000000000000000000000b3"
	_, err = e.store.Messages().Upsert(ctx, orphan, []domain.Message{{
		ID:          domain.MessageID("0xdead", 0),
		Channel:     orphan,
		BlockNumber: 7,
	}})
	require.NoError(t, err)

	require.NoError(t, e.PurgeAll(ctx))

	channels, err := e.store.Scans().Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, channels)
	for _, ch := range []string{globalAddr, other, orphan} {
		n, err := e.store.Messages().Count(ctx, ch)
		require.NoError(t, err)
		assert.Zero(t, n, "messages left for %s", ch)
	}
	assert.Equal(t, []string{globalAddr}, e.Channels(), "configured channels stay listed")
}

// fakeQueue implements GapQueue
type fakeQueue struct {
	mu     sync.Mutex
	pushed map[string][]domain.Range
}

func (q *fakeQueue) PushRange(ctx context.Context, channel string, r domain.Range) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushed == nil {
		q.pushed = map[string][]domain.Range{}
	}
	q.pushed[channel] = append(q.pushed[channel], r)
	return nil
}

func TestEngine_QueueGapFill(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, &fakeSource{head: 10})

	assert.ErrorIs(t, e.QueueGapFill(ctx, globalAddr, 1, 2), ErrNoQueue)

	q := &fakeQueue{}
	e.SetGapQueue(q)
	require.NoError(t, e.QueueGapFill(ctx, "0x00000000000000000000000000000000000000F1", 5, 9))
	assert.ErrorIs(t, e.QueueGapFill(ctx, globalAddr, 9, 5), syncer.ErrInvalidRange)
	assert.Equal(t, []domain.Range{{Start: 5, End: 9}}, q.pushed[globalAddr])
}

func TestEngine_ExportImport(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{head: 300, logs: globalLogs(120, 250)}
	src := newTestEngine(t, source)
	_, err := src.Synchronize(ctx, globalAddr, domain.TipAndBackfill(), nil)
	require.NoError(t, err)

	data, err := src.ExportPackage(ctx, nil, true)
	require.NoError(t, err)

	dst := newTestEngine(t, &fakeSource{head: 300})
	res, err := dst.ImportPackage(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 2, res.MessagesAdded)

	gaps, err := dst.Gaps(ctx, globalAddr)
	require.NoError(t, err)
	assert.Empty(t, gaps)
}

func TestEngine_StartProgress(t *testing.T) {
	source := &fakeSource{head: 399, logs: globalLogs(150, 250, 350)}
	e := newTestEngine(t, source)

	run, err := e.Start(context.Background(), globalAddr, domain.TipAndBackfill())
	require.NoError(t, err)

	var chunks int
	for range run.Progress() {
		chunks++
	}
	select {
	case <-run.Done():
	case <-time.After(time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, 3, chunks)
	assert.Equal(t, 3, run.Wait().MessagesAdded)
}
