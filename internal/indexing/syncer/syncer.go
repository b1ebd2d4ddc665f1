// Package syncer drives the synchronization of channels from a remote log
// source into the local message cache.
//
// A crawl repeatedly asks the scan state for the next chunk (tip first, then
// the newest internal gap, then history down to the lower bound), fetches and
// decodes it, and commits it: messages are upserted before the chunk's range
// is merged into the scan state. A crash between the two leaves the range as
// a gap; re-scanning it is harmless because upserts are idempotent.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
	"github.com/vietddude/logsync/internal/indexing/fetch"
	"github.com/vietddude/logsync/internal/indexing/metrics"
	"github.com/vietddude/logsync/internal/indexing/throttle"
	"github.com/vietddude/logsync/internal/infra/chain"
	"github.com/vietddude/logsync/internal/infra/storage"
)

const (
	DefaultChunkSize   uint64 = 5000
	DefaultMaxLookback uint64 = 50000
)

// Config holds the driver's chunking and pacing settings.
type Config struct {
	ChunkSize       uint64
	MaxLookback     uint64
	InterChunkDelay time.Duration
	ChunkTimeout    time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       DefaultChunkSize,
		MaxLookback:     DefaultMaxLookback,
		InterChunkDelay: 250 * time.Millisecond,
		ChunkTimeout:    fetch.DefaultChunkTimeout,
	}
}

// Driver synchronizes channels. It is safe for concurrent use; operations on
// the same channel are single-flight.
type Driver struct {
	cfg      Config
	source   chain.LogSource
	head     *throttle.HeadCache
	store    storage.Store
	registry *channelstate.Registry
	resolve  Resolver
}

// New creates a driver.
func New(
	cfg Config,
	source chain.LogSource,
	head *throttle.HeadCache,
	store storage.Store,
	registry *channelstate.Registry,
	resolve Resolver,
) *Driver {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = fetch.DefaultChunkTimeout
	}
	if head == nil {
		head = throttle.NewHeadCache(source, 0)
	}
	if resolve == nil {
		resolve = NewResolver("", nil)
	}
	return &Driver{
		cfg:      cfg,
		source:   source,
		head:     head,
		store:    store,
		registry: registry,
		resolve:  resolve,
	}
}

// Config returns the driver's settings.
func (d *Driver) Config() Config {
	return d.cfg
}

// Resolve returns the resolved channel for an address.
func (d *Driver) Resolve(address string) domain.Channel {
	return d.resolve(address)
}

// Head returns the current chain head through the head cache.
func (d *Driver) Head(ctx context.Context) (uint64, error) {
	return d.head.GetLatestBlock(ctx)
}

// execution is one operation holding a channel's in-flight guard.
type execution struct {
	id       string
	channel  domain.Channel
	mode     domain.SyncMode
	state    *channelstate.State
	op       *channelstate.Operation
	fetcher  *fetch.ChunkFetcher
	pacer    *throttle.Pacer
	logger   *slog.Logger
	progress func(Progress)
	result   *Result
}

func (d *Driver) begin(address string, name string, mode domain.SyncMode) (*execution, error) {
	ch := d.resolve(address)
	st, op, err := d.registry.Begin(ch.Key(), name)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	return &execution{
		id:      id,
		channel: ch,
		mode:    mode,
		state:   st,
		op:      op,
		fetcher: fetch.NewChunkFetcher(d.source, ch, d.cfg.ChunkTimeout),
		pacer:   throttle.NewPacer(d.cfg.InterChunkDelay),
		logger: slog.Default().With(
			"component", "syncer",
			"channel", ch.Key(),
			"run_id", id,
		),
		result: &Result{
			RunID:     id,
			Channel:   ch.Key(),
			Mode:      mode,
			StartedAt: op.StartedAt(),
		},
	}, nil
}

// Synchronize runs one operation to completion. Cancellation is reported as
// an aborted Result with Err == ErrCancelled and a nil error; a failure
// returns the cause as error as well. ErrAlreadyRunning is returned without a
// Result when the channel is busy.
func (d *Driver) Synchronize(
	ctx context.Context,
	channel string,
	mode domain.SyncMode,
	onProgress func(Progress),
) (*Result, error) {
	if err := validateMode(mode); err != nil {
		return nil, err
	}
	ex, err := d.begin(channel, string(mode.Kind), mode)
	if err != nil {
		return nil, err
	}
	ex.progress = onProgress

	res := d.execute(ctx, ex)
	if res.State == domain.SyncStateFailed {
		return res, res.Err
	}
	return res, nil
}

// Start begins an operation in the background and returns its handle.
// ErrAlreadyRunning is returned synchronously when the channel is busy.
func (d *Driver) Start(ctx context.Context, channel string, mode domain.SyncMode) (*Run, error) {
	if err := validateMode(mode); err != nil {
		return nil, err
	}
	ex, err := d.begin(channel, string(mode.Kind), mode)
	if err != nil {
		return nil, err
	}

	return Spawn(ctx, ex.id, ex.channel.Key(), func(ctx context.Context, emit func(Progress)) *Result {
		ex.progress = emit
		return d.execute(ctx, ex)
	}), nil
}

// FillGap synchronizes exactly [start, end], newest chunk first, skipping
// chunks that are already covered.
func (d *Driver) FillGap(ctx context.Context, channel string, start, end uint64) (*Result, error) {
	return d.Synchronize(ctx, channel, domain.TargetedGap(start, end), nil)
}

// TailOnce scans [tip+1, head] once, bounded by the max lookback. It
// returns ErrAlreadyRunning when another operation holds the channel.
func (d *Driver) TailOnce(ctx context.Context, channel string) (*Result, error) {
	ex, err := d.begin(channel, "tail", domain.TipAndBackfill())
	if err != nil {
		return nil, err
	}

	err = d.tail(ctx, ex)
	res := d.finish(ex, err)
	if res.State == domain.SyncStateFailed {
		return res, res.Err
	}
	return res, nil
}

func validateMode(mode domain.SyncMode) error {
	switch mode.Kind {
	case domain.SyncModeTipAndBackfill:
		return nil
	case domain.SyncModeTargetedGap:
		if mode.Range.Start > mode.Range.End {
			return fmt.Errorf("%w: %d > %d", ErrInvalidRange, mode.Range.Start, mode.Range.End)
		}
		return nil
	default:
		return fmt.Errorf("unknown sync mode %q", mode.Kind)
	}
}

func (d *Driver) execute(ctx context.Context, ex *execution) *Result {
	ex.logger.Info("Synchronization started", "mode", ex.mode.String())

	var err error
	if ex.mode.Kind == domain.SyncModeTargetedGap {
		err = d.fill(ctx, ex, ex.mode.Range)
	} else {
		err = d.crawl(ctx, ex)
	}
	return d.finish(ex, err)
}

func (d *Driver) finish(ex *execution, err error) *Result {
	res := ex.result
	switch {
	case err == nil:
		res.State = domain.SyncStateDone
	case errors.Is(err, ErrCancelled):
		res.State = domain.SyncStateAborted
		res.Err = ErrCancelled
	default:
		res.State = domain.SyncStateFailed
		res.Err = err
	}

	if meta, merr := d.store.Scans().Get(context.Background(), ex.channel.Key()); merr == nil {
		if tip, ok := interval.Tip(meta.Ranges); ok {
			res.Tip = tip
		}
	}
	if head, ok := d.head.Peek(); ok && head > res.Head {
		res.Head = head
	}
	res.FinishedAt = time.Now()

	if ferr := ex.op.Finish(res.State, res.Err); ferr != nil {
		ex.logger.Error("Failed to finish operation", "error", ferr)
	}
	metrics.SyncRuns.WithLabelValues(ex.channel.Key(), string(res.State)).Inc()

	attrs := []any{
		"state", res.State,
		"added", res.MessagesAdded,
		"chunks", res.RangesCommitted,
		"dropped", res.Dropped,
		"tip", res.Tip,
		"head", res.Head,
		"duration", res.FinishedAt.Sub(res.StartedAt).String(),
	}
	switch res.State {
	case domain.SyncStateFailed:
		if errors.Is(res.Err, interval.ErrInvariantViolation) {
			ex.logger.Error("Scan state invariant violated", append(attrs, "error", res.Err)...)
		} else {
			ex.logger.Error("Synchronization failed", append(attrs, "error", res.Err)...)
		}
	case domain.SyncStateAborted:
		ex.logger.Info("Synchronization aborted", attrs...)
	default:
		ex.logger.Info("Synchronization finished", attrs...)
	}
	return res
}

// crawl runs tip, gap and backfill chunks until nothing is left.
func (d *Driver) crawl(ctx context.Context, ex *execution) error {
	plan := Plan{
		Lower:       ex.channel.LowerBound,
		ChunkSize:   d.cfg.ChunkSize,
		MaxLookback: d.cfg.MaxLookback,
	}

	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		head, err := d.head.GetLatestBlock(ctx)
		if err != nil {
			if isCancel(ctx, err) {
				return ErrCancelled
			}
			return fmt.Errorf("%w: chain head: %v", fetch.ErrTransport, err)
		}
		ex.result.Head = head

		meta, err := d.store.Scans().Get(ctx, ex.channel.Key())
		if err != nil {
			if isCancel(ctx, err) {
				return ErrCancelled
			}
			return fmt.Errorf("load scan state: %w", err)
		}

		step, ok := plan.Next(meta.Ranges, head)
		if !ok {
			return nil
		}
		if err := d.runChunk(ctx, ex, step, head); err != nil {
			return err
		}
	}
}

// fill commits every uncovered chunk of r, newest first.
func (d *Driver) fill(ctx context.Context, ex *execution, r domain.Range) error {
	if head, ok := d.head.Peek(); ok {
		ex.result.Head = head
	}

	for _, chunk := range r.SplitBackward(d.cfg.ChunkSize) {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		meta, err := d.store.Scans().Get(ctx, ex.channel.Key())
		if err != nil {
			if isCancel(ctx, err) {
				return ErrCancelled
			}
			return fmt.Errorf("load scan state: %w", err)
		}
		if interval.Covered(meta.Ranges, chunk) {
			continue
		}

		if err := d.runChunk(ctx, ex, Step{Phase: PhaseFill, Range: chunk}, ex.result.Head); err != nil {
			return err
		}
	}
	return nil
}

// tail commits [tip+1, head] in ascending chunks.
func (d *Driver) tail(ctx context.Context, ex *execution) error {
	head, err := d.head.GetLatestBlock(ctx)
	if err != nil {
		if isCancel(ctx, err) {
			return ErrCancelled
		}
		return fmt.Errorf("%w: chain head: %v", fetch.ErrTransport, err)
	}
	ex.result.Head = head

	meta, err := d.store.Scans().Get(ctx, ex.channel.Key())
	if err != nil {
		return fmt.Errorf("load scan state: %w", err)
	}

	start := ex.channel.LowerBound
	if tip, ok := interval.Tip(meta.Ranges); ok {
		start = max(start, tip+1)
	}
	if d.cfg.MaxLookback > 0 && head > d.cfg.MaxLookback {
		start = max(start, head-d.cfg.MaxLookback)
	}
	if start > head {
		return nil
	}

	for _, chunk := range (domain.Range{Start: start, End: head}).Split(d.cfg.ChunkSize) {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		if err := d.runChunk(ctx, ex, Step{Phase: PhaseTip, Range: chunk}, head); err != nil {
			return err
		}
	}
	return nil
}

// runChunk paces, fetches and commits one chunk.
func (d *Driver) runChunk(ctx context.Context, ex *execution, step Step, head uint64) error {
	if err := ex.pacer.Wait(ctx); err != nil {
		return ErrCancelled
	}

	started := time.Now()
	chunk, err := ex.fetcher.Fetch(ctx, step.Range)
	if err != nil {
		if isCancel(ctx, err) {
			return ErrCancelled
		}
		return err
	}

	added, tip, err := d.commit(ctx, ex, chunk)
	if err != nil {
		return err
	}

	key := ex.channel.Key()
	ex.result.MessagesAdded += added
	ex.result.RangesCommitted++
	ex.result.Dropped += chunk.Dropped
	ex.result.Tip = tip
	ex.state.RecordChunk(step.Range, added, chunk.Dropped)

	metrics.ChunksCommitted.WithLabelValues(key, string(step.Phase)).Inc()
	metrics.MessagesAdded.WithLabelValues(key).Add(float64(added))
	metrics.ChunkDuration.WithLabelValues(key).Observe(time.Since(started).Seconds())

	ex.logger.Info("Chunk committed",
		"phase", step.Phase,
		"range", step.Range.String(),
		"added", added,
		"dropped", chunk.Dropped,
		"tip", tip,
		"head", head,
	)

	if ex.progress != nil {
		ex.progress(Progress{
			RunID:   ex.id,
			Channel: key,
			Phase:   step.Phase,
			Range:   step.Range,
			Added:   added,
			Dropped: chunk.Dropped,
			Tip:     tip,
			Head:    head,
		})
	}
	return nil
}

// commit persists the messages, then merges the range into the scan state,
// under the channel's commit lock. A fetched chunk is committed even if the
// caller cancels meanwhile.
func (d *Driver) commit(ctx context.Context, ex *execution, chunk *fetch.ChunkResult) (int, uint64, error) {
	ctx = context.WithoutCancel(ctx)
	key := ex.channel.Key()

	var (
		added int
		tip   uint64
	)
	err := ex.state.Commit(func() error {
		n, err := d.store.Messages().Upsert(ctx, key, chunk.Messages)
		if err != nil {
			return fmt.Errorf("persist messages %s: %w", chunk.Range, err)
		}
		added = n

		meta, err := d.store.Scans().Get(ctx, key)
		if err != nil {
			return fmt.Errorf("load scan state: %w", err)
		}
		merged := interval.Merge(meta.Ranges, chunk.Range)
		if err := interval.Validate(merged); err != nil {
			return err
		}
		meta.Channel = key
		meta.Ranges = merged
		meta.LastUpdated = time.Now().UTC()
		if err := d.store.Scans().Save(ctx, meta); err != nil {
			return fmt.Errorf("save scan state %s: %w", chunk.Range, err)
		}

		tip, _ = interval.Tip(merged)
		d.observe(ex.channel, merged)
		return nil
	})
	return added, tip, err
}

// observe updates the per-channel scan gauges.
func (d *Driver) observe(ch domain.Channel, ranges []domain.Range) {
	tip, ok := interval.Tip(ranges)
	if !ok {
		return
	}
	var missing uint64
	for _, gap := range interval.Gaps(ranges, ch.LowerBound, tip) {
		missing += gap.Size()
	}
	metrics.ScanTip.WithLabelValues(ch.Key()).Set(float64(tip))
	metrics.GapBlocks.WithLabelValues(ch.Key()).Set(float64(missing))
}
