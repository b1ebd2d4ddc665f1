// Package health provides channel health monitoring and the HTTP API.
package health

import (
	"context"
	"time"

	"github.com/vietddude/logsync/internal/core/channelstate"
	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/codec"
	"github.com/vietddude/logsync/internal/indexing/syncer"
)

// SystemStatus represents the overall health state of the system or a channel.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// ChannelHealth contains health details for one channel.
type ChannelHealth struct {
	Channel     string           `json:"channel"`
	Status      SystemStatus     `json:"status"`
	Tip         uint64           `json:"tip"`
	Head        uint64           `json:"head"`
	Lag         uint64           `json:"lag"`
	Gaps        int              `json:"gaps"`
	GapBlocks   uint64           `json:"gap_blocks"`
	State       domain.SyncState `json:"state"`
	LastError   string           `json:"last_error,omitempty"`
	LastUpdated time.Time        `json:"last_updated"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus             `json:"system_status"`
	Channels     map[string]ChannelHealth `json:"channels"`
}

// Engine is the part of the engine the monitor and API use.
type Engine interface {
	Channels() []string
	Head(ctx context.Context) (uint64, error)
	GetScanMeta(ctx context.Context, channel string) (*domain.ScanMeta, error)
	Gaps(ctx context.Context, channel string) ([]domain.Range, error)
	GetMessages(ctx context.Context, channel string, limit int) ([]domain.Message, error)
	Start(ctx context.Context, channel string, mode domain.SyncMode) (*syncer.Run, error)
	ExportPackage(ctx context.Context, channels []string, compress bool) ([]byte, error)
	ImportPackage(ctx context.Context, data []byte) (codec.ImportResult, error)
	PurgeChannel(ctx context.Context, channel string) error
	State(channel string) (domain.SyncState, *channelstate.Outcome)
}
