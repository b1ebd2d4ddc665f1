// Package rescan drains the shared gap queue of a channel.
package rescan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
	"github.com/vietddude/logsync/internal/indexing/syncer"
)

// Queue is the shared store of requested gap fills.
type Queue interface {
	PushRange(ctx context.Context, channel string, r domain.Range) error
	PopRange(ctx context.Context, channel string) (domain.Range, bool, error)
	Ranges(ctx context.Context, channel string) ([]domain.Range, error)
	ReplaceRanges(ctx context.Context, channel string, ranges []domain.Range) error
	AcquireLock(ctx context.Context, channel string, r domain.Range, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, channel string, r domain.Range) error
}

// Filler fills one range of a channel.
type Filler interface {
	FillGap(ctx context.Context, channel string, start, end uint64) (*syncer.Result, error)
}

// WorkerConfig holds configuration for the rescan worker.
type WorkerConfig struct {
	LockTTL    time.Duration // Lock TTL (default: 5m)
	EmptySleep time.Duration // Sleep when queue empty (default: 10s)
	BusySleep  time.Duration // Sleep when the channel is busy (default: 5s)
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		LockTTL:    5 * time.Minute,
		EmptySleep: 10 * time.Second,
		BusySleep:  5 * time.Second,
	}
}

// Worker fills queued ranges of one channel.
type Worker struct {
	cfg     WorkerConfig
	channel string
	queue   Queue
	filler  Filler
	log     *slog.Logger
}

// NewWorker creates a new rescan worker.
func NewWorker(cfg WorkerConfig, channel string, queue Queue, filler Filler) *Worker {
	def := DefaultConfig()
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}
	if cfg.EmptySleep <= 0 {
		cfg.EmptySleep = def.EmptySleep
	}
	if cfg.BusySleep <= 0 {
		cfg.BusySleep = def.BusySleep
	}
	channel = domain.NormalizeChannel(channel)
	return &Worker{
		cfg:     cfg,
		channel: channel,
		queue:   queue,
		filler:  filler,
		log:     slog.Default().With("component", "rescan", "channel", channel),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rescan worker")

	for {
		if ctx.Err() != nil {
			w.log.Info("Rescan worker stopped")
			return nil
		}

		delay, err := w.Step(ctx)
		if err != nil {
			w.log.Error("Rescan step failed", "error", err)
		}
		if delay > 0 && !sleep(ctx, delay) {
			w.log.Info("Rescan worker stopped")
			return nil
		}
	}
}

// Step coalesces the queue, then pops and fills one range. It returns how
// long the caller should wait before the next step.
func (w *Worker) Step(ctx context.Context) (time.Duration, error) {
	if err := w.mergeQueueRanges(ctx); err != nil {
		w.log.Warn("Failed to merge ranges", "error", err)
	}

	r, found, err := w.queue.PopRange(ctx, w.channel)
	if err != nil {
		return w.cfg.EmptySleep, fmt.Errorf("pop range: %w", err)
	}
	if !found {
		return w.cfg.EmptySleep, nil
	}

	locked, err := w.queue.AcquireLock(ctx, w.channel, r, w.cfg.LockTTL)
	if err != nil {
		w.requeue(ctx, r)
		return w.cfg.EmptySleep, fmt.Errorf("acquire lock %s: %w", r, err)
	}
	if !locked {
		w.log.Debug("Range already locked by another worker", "range", r.String())
		return 0, nil
	}
	defer func() {
		if err := w.queue.ReleaseLock(context.WithoutCancel(ctx), w.channel, r); err != nil {
			w.log.Warn("Failed to release lock", "range", r.String(), "error", err)
		}
	}()

	w.log.Info("Filling queued range", "range", r.String())
	res, err := w.filler.FillGap(ctx, w.channel, r.Start, r.End)
	switch {
	case errors.Is(err, channelstate.ErrAlreadyRunning):
		w.requeue(ctx, r)
		return w.cfg.BusySleep, nil
	case err != nil:
		w.requeue(ctx, r)
		return w.cfg.EmptySleep, fmt.Errorf("fill %s: %w", r, err)
	case res != nil && res.State != domain.SyncStateDone:
		// Aborted mid-range: the unfilled part is picked up on the next pop.
		w.requeue(ctx, r)
		return 0, nil
	}

	w.log.Info("Range completed", "range", r.String(), "added", res.MessagesAdded)
	return 0, nil
}

func (w *Worker) requeue(ctx context.Context, r domain.Range) {
	if err := w.queue.PushRange(context.WithoutCancel(ctx), w.channel, r); err != nil {
		w.log.Error("Failed to re-queue range", "range", r.String(), "error", err)
	}
}

// mergeQueueRanges merges overlapping/adjacent ranges in the queue.
func (w *Worker) mergeQueueRanges(ctx context.Context) error {
	ranges, err := w.queue.Ranges(ctx, w.channel)
	if err != nil {
		return err
	}
	if len(ranges) <= 1 {
		return nil
	}

	merged := interval.MergeAll(nil, ranges)
	if len(merged) == len(ranges) {
		return nil
	}

	w.log.Info("Merging ranges", "before", len(ranges), "after", len(merged))
	return w.queue.ReplaceRanges(ctx, w.channel, merged)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
