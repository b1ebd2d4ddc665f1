package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/core/interval"
)

// MonitorConfig holds the status thresholds.
type MonitorConfig struct {
	// DegradedLag is the lag in blocks above which a channel is degraded (default: 100)
	DegradedLag uint64
	// CriticalLag is the lag above which a channel is critical, 0 disables it
	CriticalLag uint64
	// CacheTTL limits how often the report is recomputed (default: 10s)
	CacheTTL time.Duration
}

// Monitor aggregates health status of every channel.
type Monitor struct {
	engine     Engine
	cfg        MonitorConfig
	lastCheck  time.Time
	lastReport map[string]ChannelHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(engine Engine, cfg MonitorConfig) *Monitor {
	if cfg.DegradedLag == 0 {
		cfg.DegradedLag = 100
	}
	return &Monitor{
		engine:     engine,
		cfg:        cfg,
		lastReport: make(map[string]ChannelHealth),
	}
}

// CheckHealth performs a health check for all channels.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ChannelHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.CacheTTL > 0 && time.Since(m.lastCheck) < m.cfg.CacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	head, headErr := m.engine.Head(ctx)

	report := make(map[string]ChannelHealth)
	for _, ch := range m.engine.Channels() {
		report[ch] = m.check(ctx, ch, head, headErr)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// Report returns the per-channel report with the aggregated status.
func (m *Monitor) Report(ctx context.Context) HealthReport {
	channels := m.CheckHealth(ctx)
	return HealthReport{
		SystemStatus: Aggregate(channels),
		Channels:     channels,
	}
}

func (m *Monitor) check(ctx context.Context, ch string, head uint64, headErr error) ChannelHealth {
	h := ChannelHealth{
		Channel: ch,
		Status:  StatusHealthy,
		Head:    head,
	}

	state, outcome := m.engine.State(ch)
	h.State = state
	failed := false
	if outcome != nil {
		if outcome.Err != nil {
			h.LastError = outcome.Err.Error()
		}
		failed = outcome.State == domain.SyncStateFailed
	}

	meta, err := m.engine.GetScanMeta(ctx, ch)
	if err != nil {
		h.Status = StatusDegraded
		h.LastError = err.Error()
		return h
	}
	h.LastUpdated = meta.LastUpdated
	h.Tip, _ = interval.Tip(meta.Ranges)

	holes := false
	if headErr == nil {
		if head > h.Tip {
			h.Lag = head - h.Tip
		}
		if gaps, err := m.engine.Gaps(ctx, ch); err == nil {
			h.Gaps = len(gaps)
			for _, g := range gaps {
				h.GapBlocks += g.Size()
				// The span above the tip is lag, not a hole.
				if g.End < h.Tip {
					holes = true
				}
			}
		}
	}

	switch {
	case failed || (m.cfg.CriticalLag > 0 && h.Lag > m.cfg.CriticalLag):
		h.Status = StatusCritical
	case headErr != nil || h.Lag > m.cfg.DegradedLag || holes:
		h.Status = StatusDegraded
	}
	return h
}

// Aggregate returns the worst status of channels.
func Aggregate(channels map[string]ChannelHealth) SystemStatus {
	status := StatusHealthy
	for _, ch := range channels {
		if ch.Status == StatusCritical {
			return StatusCritical
		}
		if ch.Status == StatusDegraded {
			status = StatusDegraded
		}
	}
	return status
}
