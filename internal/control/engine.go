// Package control wires the synchronization engine and the daemon.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
	"github.com/vietddude/logsync/internal/indexing/codec"
	"github.com/vietddude/logsync/internal/indexing/metrics"
	"github.com/vietddude/logsync/internal/indexing/syncer"
	"github.com/vietddude/logsync/internal/infra/storage"
)

// ErrNoQueue is returned by QueueGapFill when no gap queue is configured.
var ErrNoQueue = errors.New("gap queue not configured")

// GapQueue accepts gap fill requests for other workers.
type GapQueue interface {
	PushRange(ctx context.Context, channel string, r domain.Range) error
}

// ChannelStatus is a point-in-time view of one channel.
type ChannelStatus struct {
	Channel      string             `json:"channel"`
	Kind         domain.ChannelKind `json:"kind"`
	LowerBound   uint64             `json:"lower_bound"`
	Ranges       []domain.Range     `json:"ranges"`
	Tip          uint64             `json:"tip"`
	Head         uint64             `json:"head"`
	Gaps         []domain.Range     `json:"gaps"`
	GapBlocks    uint64             `json:"gap_blocks"`
	Messages     int                `json:"messages"`
	State        domain.SyncState   `json:"state"`
	BlocksPerSec float64            `json:"blocks_per_sec,omitempty"`
	LastRun      string             `json:"last_run,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	LastUpdated  time.Time          `json:"last_updated"`
}

// Engine is the entry point for callers: CLI, HTTP API and the daemon.
type Engine struct {
	driver   *syncer.Driver
	store    storage.Store
	registry *channelstate.Registry
	codec    *codec.Codec
	queue    GapQueue
	channels []string
	log      *slog.Logger
}

// NewEngine creates an engine. channels are the configured channel
// addresses; others are accepted on demand.
func NewEngine(driver *syncer.Driver, store storage.Store, registry *channelstate.Registry, channels []string) *Engine {
	keys := make([]string, 0, len(channels))
	for _, ch := range channels {
		keys = append(keys, domain.NormalizeChannel(ch))
	}
	return &Engine{
		driver:   driver,
		store:    store,
		registry: registry,
		codec:    codec.New(store, registry),
		channels: keys,
		log:      slog.Default().With("component", "engine"),
	}
}

// SetGapQueue enables QueueGapFill.
func (e *Engine) SetGapQueue(q GapQueue) {
	e.queue = q
}

// Driver returns the underlying driver.
func (e *Engine) Driver() *syncer.Driver {
	return e.driver
}

// Synchronize runs one operation on channel to completion.
func (e *Engine) Synchronize(ctx context.Context, channel string, mode domain.SyncMode, onProgress func(syncer.Progress)) (*syncer.Result, error) {
	return e.driver.Synchronize(ctx, channel, mode, onProgress)
}

// Start begins an operation in the background.
func (e *Engine) Start(ctx context.Context, channel string, mode domain.SyncMode) (*syncer.Run, error) {
	return e.driver.Start(ctx, channel, mode)
}

// FillGap synchronizes exactly [start, end].
func (e *Engine) FillGap(ctx context.Context, channel string, start, end uint64) (*syncer.Result, error) {
	return e.driver.FillGap(ctx, channel, start, end)
}

// TailOnce scans from the tip to the head once.
func (e *Engine) TailOnce(ctx context.Context, channel string) (*syncer.Result, error) {
	return e.driver.TailOnce(ctx, channel)
}

// Head returns the cached chain head.
func (e *Engine) Head(ctx context.Context) (uint64, error) {
	return e.driver.Head(ctx)
}

// GetScanMeta returns the scanned ranges of a channel.
func (e *Engine) GetScanMeta(ctx context.Context, channel string) (*domain.ScanMeta, error) {
	return e.store.Scans().Get(ctx, domain.NormalizeChannel(channel))
}

// Gaps returns the unscanned ranges of [lowerBound, head], most recent first.
func (e *Engine) Gaps(ctx context.Context, channel string) ([]domain.Range, error) {
	meta, err := e.GetScanMeta(ctx, channel)
	if err != nil {
		return nil, err
	}
	head, err := e.driver.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain head: %w", err)
	}
	return interval.Gaps(meta.Ranges, e.driver.Resolve(channel).LowerBound, head), nil
}

// GetMessages returns up to limit most recent messages in ascending order.
func (e *Engine) GetMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error) {
	return e.store.Messages().Query(ctx, domain.NormalizeChannel(channel), limit)
}

// ExportPackage encodes the given channels, or every stored channel.
func (e *Engine) ExportPackage(ctx context.Context, channels []string, compress bool) ([]byte, error) {
	return e.codec.Export(ctx, channels, compress)
}

// ImportPackage merges a package into the store.
func (e *Engine) ImportPackage(ctx context.Context, data []byte) (codec.ImportResult, error) {
	return e.codec.Import(ctx, data)
}

// QueueGapFill pushes a fill request to the shared gap queue.
func (e *Engine) QueueGapFill(ctx context.Context, channel string, start, end uint64) error {
	if e.queue == nil {
		return ErrNoQueue
	}
	if start > end {
		return fmt.Errorf("%w: %d > %d", syncer.ErrInvalidRange, start, end)
	}
	return e.queue.PushRange(ctx, domain.NormalizeChannel(channel), domain.Range{Start: start, End: end})
}

// PurgeChannel deletes the cached messages and scan state of a channel and
// tears down its state. It fails with ErrAlreadyRunning while an operation
// holds the channel.
func (e *Engine) PurgeChannel(ctx context.Context, channel string) error {
	key := domain.NormalizeChannel(channel)
	st, op, err := e.registry.Begin(key, "purge")
	if err != nil {
		return err
	}

	err = st.Commit(func() error {
		if err := e.store.Messages().DeleteChannel(ctx, key); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := e.store.Scans().Delete(ctx, key); err != nil {
			return fmt.Errorf("delete scan state: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = op.Finish(channelstate.StateFailed, err)
		return fmt.Errorf("purge %s: %w", key, err)
	}
	_ = op.Finish(channelstate.StateDone, nil)

	if err := e.registry.Remove(key); err != nil {
		e.log.Warn("Channel state kept after purge", "channel", key, "error", err)
	}
	metrics.ScanTip.DeleteLabelValues(key)
	metrics.GapBlocks.DeleteLabelValues(key)

	e.log.Info("Channel purged", "channel", key)
	return nil
}

// PurgeAll clears the whole store, including messages of channels that
// have no scan state, and tears down every channel state. Nothing is deleted
// while any channel is running.
func (e *Engine) PurgeAll(ctx context.Context) error {
	channels, err := e.allChannels(ctx)
	if err != nil {
		return err
	}

	held := make([]*channelstate.State, 0, len(channels))
	ops := make([]*channelstate.Operation, 0, len(channels))
	finish := func(final channelstate.SyncState, cause error) {
		for _, op := range ops {
			_ = op.Finish(final, cause)
		}
	}
	for _, key := range channels {
		st, op, err := e.registry.Begin(key, "purge")
		if err != nil {
			finish(channelstate.StateAborted, err)
			return err
		}
		held = append(held, st)
		ops = append(ops, op)
	}

	err = commitAll(held, func() error {
		if err := e.store.Messages().DeleteAll(ctx); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		if err := e.store.Scans().DeleteAll(ctx); err != nil {
			return fmt.Errorf("delete scan state: %w", err)
		}
		return nil
	})
	if err != nil {
		finish(channelstate.StateFailed, err)
		return fmt.Errorf("purge all: %w", err)
	}
	finish(channelstate.StateDone, nil)

	for _, key := range channels {
		if err := e.registry.Remove(key); err != nil {
			e.log.Warn("Channel state kept after purge", "channel", key, "error", err)
		}
		metrics.ScanTip.DeleteLabelValues(key)
		metrics.GapBlocks.DeleteLabelValues(key)
	}

	e.log.Info("All channels purged", "channels", len(channels))
	return nil
}

// commitAll runs fn while holding the commit lock of every state.
func commitAll(states []*channelstate.State, fn func() error) error {
	if len(states) == 0 {
		return fn()
	}
	return states[0].Commit(func() error {
		return commitAll(states[1:], fn)
	})
}

// Channels returns the configured channels plus any channel used since
// start, sorted.
func (e *Engine) Channels() []string {
	return union(e.channels, e.registry.Channels())
}

func (e *Engine) allChannels(ctx context.Context) ([]string, error) {
	stored, err := e.store.Scans().Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return union(e.Channels(), stored), nil
}

// State returns the lifecycle state and last outcome of a channel.
func (e *Engine) State(channel string) (domain.SyncState, *channelstate.Outcome) {
	st, ok := e.registry.Lookup(channel)
	if !ok {
		return domain.SyncStateIdle, nil
	}
	out, ok := st.LastOutcome()
	if !ok {
		return st.Current(), nil
	}
	return st.Current(), &out
}

// Status returns a view of every known or stored channel. Gaps are omitted
// when the chain head cannot be fetched.
func (e *Engine) Status(ctx context.Context) ([]ChannelStatus, error) {
	channels, err := e.allChannels(ctx)
	if err != nil {
		return nil, err
	}

	head, headErr := e.driver.Head(ctx)
	if headErr != nil {
		e.log.Warn("Chain head unavailable for status", "error", headErr)
	}

	out := make([]ChannelStatus, 0, len(channels))
	for _, key := range channels {
		s, err := e.channelStatus(ctx, key, head, headErr == nil)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (e *Engine) channelStatus(ctx context.Context, key string, head uint64, haveHead bool) (ChannelStatus, error) {
	ch := e.driver.Resolve(key)
	meta, err := e.store.Scans().Get(ctx, key)
	if err != nil {
		return ChannelStatus{}, fmt.Errorf("load scan state %s: %w", key, err)
	}
	count, err := e.store.Messages().Count(ctx, key)
	if err != nil {
		return ChannelStatus{}, fmt.Errorf("count messages %s: %w", key, err)
	}

	s := ChannelStatus{
		Channel:     key,
		Kind:        ch.Kind,
		LowerBound:  ch.LowerBound,
		Ranges:      meta.Ranges,
		Messages:    count,
		LastUpdated: meta.LastUpdated,
	}
	s.Tip, _ = interval.Tip(meta.Ranges)
	if haveHead {
		s.Head = head
		s.Gaps = interval.Gaps(meta.Ranges, ch.LowerBound, head)
		for _, g := range s.Gaps {
			s.GapBlocks += g.Size()
		}
	}

	if st, ok := e.registry.Lookup(key); ok {
		s.BlocksPerSec = st.Metrics().BlocksPerSecond
	}

	var last *channelstate.Outcome
	s.State, last = e.State(key)
	if last != nil {
		s.LastRun = fmt.Sprintf("%s %s", last.Operation, last.State)
		if last.Err != nil {
			s.LastError = last.Err.Error()
		}
	}
	return s, nil
}

func union(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, ch := range list {
			key := domain.NormalizeChannel(ch)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
