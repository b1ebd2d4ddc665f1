// Package tail keeps channels close to the chain head between full crawls.
package tail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/indexing/syncer"
	"github.com/vietddude/logsync/internal/indexing/throttle"
)

// DefaultInterval is the tail polling period.
const DefaultInterval = 15 * time.Second

// Runner performs one tail pass.
type Runner interface {
	TailOnce(ctx context.Context, channel string) (*syncer.Result, error)
}

// Stats counts poller outcomes.
type Stats struct {
	Polls    int64 `json:"polls"`
	Skipped  int64 `json:"skipped"`
	Failures int64 `json:"failures"`
}

// Poller runs a tail pass for one channel on every tick.
type Poller struct {
	channel  string
	runner   Runner
	interval time.Duration
	adaptive *throttle.AdaptiveController
	logger   *slog.Logger

	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once

	polls    atomic.Int64
	skipped  atomic.Int64
	failures atomic.Int64
}

// NewPoller creates a poller. adaptive may be nil for a fixed interval.
func NewPoller(channel string, runner Runner, interval time.Duration, adaptive *throttle.AdaptiveController) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		channel:  channel,
		runner:   runner,
		interval: interval,
		adaptive: adaptive,
		logger:   slog.Default().With("component", "tail", "channel", channel),
		stop:     make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tail poller for %s already running", p.channel)
	}
	defer p.running.Store(false)

	p.logger.Info("Tail poller started", "interval", p.interval)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.stop:
			return nil
		case <-timer.C:
			timer.Reset(p.Poll(ctx))
		}
	}
}

// Stop stops the polling loop.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// Running reports whether the loop is active.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Stats returns a snapshot of the poller's counters.
func (p *Poller) Stats() Stats {
	return Stats{
		Polls:    p.polls.Load(),
		Skipped:  p.skipped.Load(),
		Failures: p.failures.Load(),
	}
}

// Poll performs one tail pass and returns the delay before the next one.
func (p *Poller) Poll(ctx context.Context) time.Duration {
	p.polls.Add(1)

	res, err := p.runner.TailOnce(ctx, p.channel)
	switch {
	case errors.Is(err, channelstate.ErrAlreadyRunning):
		p.skipped.Add(1)
		p.logger.Debug("Tail pass skipped, channel busy")
		return p.interval
	case err != nil:
		p.failures.Add(1)
		p.logger.Warn("Tail pass failed", "error", err)
		return p.interval
	}

	if res.RangesCommitted > 0 {
		p.logger.Debug("Tail pass committed", "chunks", res.RangesCommitted, "added", res.MessagesAdded, "tip", res.Tip)
	}

	if p.adaptive == nil {
		return p.interval
	}
	var lag uint64
	if res.Head > res.Tip {
		lag = res.Head - res.Tip
	}
	return p.adaptive.ComputeInterval(lag)
}
