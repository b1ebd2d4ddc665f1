package chain

import (
	"context"

	"github.com/vietddude/logsync/internal/core/domain"
)

// LogSource is the boundary between the sync engine and the remote chain.
// Implementations must return logs ordered by (block, log index).
type LogSource interface {
	// GetLatestBlock returns the latest block number on the chain
	GetLatestBlock(ctx context.Context) (uint64, error)

	// GetLogs returns every log emitted by address with topic0 == topic
	// in the inclusive block range [from, to]
	GetLogs(ctx context.Context, address, topic string, from, to uint64) ([]domain.RawLog, error)
}
