package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
	"github.com/vietddude/logsync/internal/indexing/decode"
	"github.com/vietddude/logsync/internal/indexing/decode/decodetest"
	"github.com/vietddude/logsync/internal/indexing/fetch"
	"github.com/vietddude/logsync/internal/indexing/throttle"
	"github.com/vietddude/logsync/internal/infra/storage"
	"github.com/vietddude/logsync/internal/infra/storage/memory"
)

const (
	globalAddr = "0x00000000000000000000000000000000000000f1"
	channel    = globalAddr
)

func mergeForTest(ranges []domain.Range) []domain.Range {
	return interval.MergeAll(nil, ranges)
}

// fakeSource serves logs from memory.
type fakeSource struct {
	mu    sync.Mutex
	head  uint64
	logs  []domain.RawLog
	err   error
	gate  chan struct{}
	calls []domain.Range
}

func (f *fakeSource) GetLatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) GetLogs(ctx context.Context, address, topic string, from, to uint64) ([]domain.RawLog, error) {
	f.mu.Lock()
	gate := f.gate
	f.calls = append(f.calls, domain.Range{Start: from, End: to})
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.RawLog
	for _, l := range f.logs {
		if l.BlockNumber >= from && l.BlockNumber <= to && l.Topics[0] == topic {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) setHead(h uint64) {
	f.mu.Lock()
	f.head = h
	f.mu.Unlock()
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// logsEvery emits one global log every step blocks in [from, to].
func logsEvery(from, to, step uint64) []domain.RawLog {
	var out []domain.RawLog
	for b := from; b <= to; b += step {
		out = append(out, decodetest.GlobalLog(b, 0, "alice", "hi", b))
	}
	return out
}

type harness struct {
	source   *fakeSource
	store    storage.Store
	registry *channelstate.Registry
	driver   *Driver
}

func newHarness(t *testing.T, source *fakeSource, chunkSize, lookback, lower uint64, store storage.Store) *harness {
	t.Helper()
	if store == nil {
		store = memory.NewMemoryStorage()
	}
	registry := channelstate.NewRegistry()
	resolve := NewResolver(globalAddr, []domain.Channel{{Address: globalAddr, LowerBound: lower}})
	driver := New(
		Config{ChunkSize: chunkSize, MaxLookback: lookback, ChunkTimeout: time.Second},
		source,
		throttle.NewHeadCache(source, 0),
		store,
		registry,
		resolve,
	)
	return &harness{source: source, store: store, registry: registry, driver: driver}
}

func (h *harness) seed(t *testing.T, ranges ...domain.Range) {
	t.Helper()
	require.NoError(t, h.store.Scans().Save(context.Background(), &domain.ScanMeta{Channel: channel, Ranges: ranges}))
}

func (h *harness) ranges(t *testing.T) []domain.Range {
	t.Helper()
	meta, err := h.store.Scans().Get(context.Background(), channel)
	require.NoError(t, err)
	return meta.Ranges
}

func (h *harness) count(t *testing.T) int {
	t.Helper()
	n, err := h.store.Messages().Count(context.Background(), channel)
	require.NoError(t, err)
	return n
}

func TestSynchronize_FullCrawlPriorityOrder(t *testing.T) {
	source := &fakeSource{head: 1000, logs: logsEvery(0, 1000, 10)}
	h := newHarness(t, source, 200, 0, 0, nil)
	h.seed(t, rg(500, 600))

	var steps []Step
	res, err := h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), func(p Progress) {
		steps = append(steps, Step{Phase: p.Phase, Range: p.Range})
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, []Step{
		{PhaseTip, rg(601, 800)},
		{PhaseTip, rg(801, 1000)},
		{PhaseBackfill, rg(300, 499)},
		{PhaseBackfill, rg(100, 299)},
		{PhaseBackfill, rg(0, 99)},
	}, steps)
	assert.Equal(t, []domain.Range{rg(0, 1000)}, h.ranges(t))
	assert.Equal(t, uint64(1000), res.Tip)
	assert.Equal(t, 5, res.RangesCommitted)
	// 101 logs total, 11 of them inside the seeded range were never fetched.
	assert.Equal(t, 90, res.MessagesAdded)
	assert.Equal(t, 90, h.count(t))
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, channelstate.StateIdle, h.registry.Get(channel).Current())
}

func TestSynchronize_TipMovesDuringCrawl(t *testing.T) {
	source := &fakeSource{head: 500, logs: logsEvery(0, 600, 25)}
	h := newHarness(t, source, 100, 0, 0, nil)

	var once sync.Once
	res, err := h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), func(p Progress) {
		once.Do(func() { source.setHead(520) })
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, uint64(520), res.Tip)
	assert.Equal(t, uint64(520), res.Head)
	assert.Equal(t, []domain.Range{rg(0, 520)}, h.ranges(t))
}

func TestSynchronize_DecodeResilience(t *testing.T) {
	source := &fakeSource{head: 20, logs: []domain.RawLog{
		decodetest.GlobalLog(11, 0, "a", "first", 1),
		decodetest.Malformed(decode.GlobalSchema(), 12, 0),
		decodetest.GlobalLog(13, 0, "c", "third", 3),
	}}
	h := newHarness(t, source, 100, 0, 10, nil)

	res, err := h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, 2, res.MessagesAdded)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, []domain.Range{rg(10, 20)}, h.ranges(t))

	msgs, err := h.store.Messages().All(context.Background(), channel)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
}

// failingScans fails the first n saves, simulating a crash after the
// messages were persisted.
type failingScans struct {
	storage.ScanRepository
	remaining *atomic.Int32
}

func (f failingScans) Save(ctx context.Context, meta *domain.ScanMeta) error {
	if f.remaining.Add(-1) >= 0 {
		return errors.New("disk full")
	}
	return f.ScanRepository.Save(ctx, meta)
}

type failingStore struct {
	storage.Store
	remaining atomic.Int32
}

func (s *failingStore) Scans() storage.ScanRepository {
	return failingScans{ScanRepository: s.Store.Scans(), remaining: &s.remaining}
}

func TestSynchronize_CrashBetweenPersistAndSave(t *testing.T) {
	store := &failingStore{Store: memory.NewMemoryStorage()}
	store.remaining.Store(1)

	source := &fakeSource{head: 99, logs: logsEvery(0, 99, 10)}
	h := newHarness(t, source, 100, 0, 0, store)

	res, err := h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.SyncStateFailed, res.State)

	// Messages landed, the range did not: it is still a gap.
	assert.Equal(t, 10, h.count(t))
	assert.Empty(t, h.ranges(t))
	assert.Equal(t, []domain.Range{rg(0, 99)}, interval.Gaps(h.ranges(t), 0, 99))

	res, err = h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, 0, res.MessagesAdded)
	assert.Equal(t, 10, h.count(t))
	assert.Equal(t, []domain.Range{rg(0, 99)}, h.ranges(t))
}

func TestSynchronize_CancellationSafety(t *testing.T) {
	source := &fakeSource{head: 1000, logs: logsEvery(0, 1000, 50)}
	h := newHarness(t, source, 100, 0, 0, nil)
	h.seed(t, rg(900, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chunks := 0
	res, err := h.driver.Synchronize(ctx, channel, domain.TipAndBackfill(), func(p Progress) {
		assert.Equal(t, PhaseBackfill, p.Phase)
		chunks++
		if chunks == 3 {
			cancel()
		}
	})
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStateAborted, res.State)
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 3, res.RangesCommitted)

	ranges := h.ranges(t)
	assert.Equal(t, []domain.Range{rg(600, 1000)}, ranges)
	assert.Equal(t, []domain.Range{rg(0, 599)}, interval.Gaps(ranges, 0, 1000))

	outcome, ok := h.registry.Get(channel).LastOutcome()
	require.True(t, ok)
	assert.Equal(t, channelstate.StateAborted, outcome.State)
}

func TestSynchronize_TransportFailure(t *testing.T) {
	source := &fakeSource{head: 100, err: errors.New("connection refused")}
	h := newHarness(t, source, 100, 0, 0, nil)

	res, err := h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, fetch.ErrTransport)
	assert.Equal(t, domain.SyncStateFailed, res.State)
	assert.Empty(t, h.ranges(t))

	// The channel is released; a retry succeeds once the source recovers.
	source.setErr(nil)
	res, err = h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)
}

func TestSynchronize_SingleFlight(t *testing.T) {
	gate := make(chan struct{})
	source := &fakeSource{head: 100, logs: logsEvery(0, 100, 10), gate: gate}
	h := newHarness(t, source, 1000, 0, 0, nil)

	run, err := h.driver.Start(context.Background(), channel, domain.TipAndBackfill())
	require.NoError(t, err)

	_, err = h.driver.Synchronize(context.Background(), channel, domain.TipAndBackfill(), nil)
	assert.ErrorIs(t, err, channelstate.ErrAlreadyRunning)

	_, err = h.driver.FillGap(context.Background(), channel, 0, 10)
	assert.ErrorIs(t, err, channelstate.ErrAlreadyRunning)

	_, err = h.driver.TailOnce(context.Background(), channel)
	assert.ErrorIs(t, err, channelstate.ErrAlreadyRunning)

	close(gate)
	res := run.Wait()
	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, run.ID, res.RunID)

	_, err = h.driver.TailOnce(context.Background(), channel)
	assert.NoError(t, err)
}

func TestStart_ProgressAndCancel(t *testing.T) {
	source := &fakeSource{head: 1000, logs: logsEvery(0, 1000, 100)}
	h := newHarness(t, source, 100, 0, 0, nil)
	h.driver.cfg.InterChunkDelay = 20 * time.Millisecond

	run, err := h.driver.Start(context.Background(), channel, domain.TipAndBackfill())
	require.NoError(t, err)

	var events []Progress
	for p := range run.Progress() {
		events = append(events, p)
		if len(events) == 2 {
			run.Cancel()
		}
	}
	res := run.Wait()

	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, run.ID, events[0].RunID)
	assert.Equal(t, rg(0, 99), events[0].Range)
	assert.Equal(t, domain.SyncStateAborted, res.State)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, len(events), res.RangesCommitted)
}

func TestFillGap(t *testing.T) {
	source := &fakeSource{head: 600, logs: logsEvery(0, 600, 20)}
	h := newHarness(t, source, 100, 0, 0, nil)
	h.seed(t, rg(0, 100), rg(500, 600))

	var got []domain.Range
	res, err := h.driver.Synchronize(context.Background(), channel, domain.TargetedGap(101, 499), func(p Progress) {
		assert.Equal(t, PhaseFill, p.Phase)
		got = append(got, p.Range)
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, []domain.Range{rg(400, 499), rg(300, 399), rg(200, 299), rg(101, 199)}, got)
	assert.Equal(t, []domain.Range{rg(0, 600)}, h.ranges(t))

	// Everything is covered now; nothing is fetched again.
	res, err = h.driver.FillGap(context.Background(), channel, 0, 600)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RangesCommitted)
}

func TestFillGap_InvalidRange(t *testing.T) {
	h := newHarness(t, &fakeSource{head: 10}, 100, 0, 0, nil)
	_, err := h.driver.FillGap(context.Background(), channel, 10, 5)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestTailOnce(t *testing.T) {
	source := &fakeSource{head: 250, logs: logsEvery(0, 250, 5)}
	h := newHarness(t, source, 100, 0, 0, nil)
	h.seed(t, rg(0, 100))

	res, err := h.driver.TailOnce(context.Background(), channel)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStateDone, res.State)
	assert.Equal(t, 2, res.RangesCommitted)
	assert.Equal(t, uint64(250), res.Tip)
	assert.Equal(t, []domain.Range{rg(0, 250)}, h.ranges(t))

	// At the head, a tail pass is a no-op.
	res, err = h.driver.TailOnce(context.Background(), channel)
	require.NoError(t, err)
	assert.Equal(t, 0, res.RangesCommitted)
}

func TestResolver(t *testing.T) {
	resolve := NewResolver("0xGLOBAL", []domain.Channel{{Address: "0xSECTOR", LowerBound: 42}})

	global := resolve("0xglobal")
	assert.Equal(t, domain.ChannelKindGlobal, global.Kind)

	sector := resolve(" 0xSector ")
	assert.Equal(t, domain.ChannelKindScoped, sector.Kind)
	assert.Equal(t, uint64(42), sector.LowerBound)
	assert.Equal(t, "0xsector", sector.Address)

	other := resolve("0xother")
	assert.Equal(t, uint64(0), other.LowerBound)
}
