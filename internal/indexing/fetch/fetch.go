// Package fetch retrieves one bounded chunk of logs and decodes it.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/decode"
	"github.com/vietddude/logsync/internal/indexing/metrics"
	"github.com/vietddude/logsync/internal/infra/chain"
)

// ErrTransport marks a chunk that could not be retrieved from the source.
var ErrTransport = errors.New("transport failure")

// DefaultChunkTimeout bounds a single chunk fetch.
const DefaultChunkTimeout = 30 * time.Second

// ChunkResult is one decoded chunk.
type ChunkResult struct {
	Range    domain.Range
	Messages []domain.Message
	Dropped  int
}

// ChunkFetcher fetches and decodes chunks for one channel.
type ChunkFetcher struct {
	source  chain.LogSource
	channel domain.Channel
	schema  decode.Schema
	timeout time.Duration
	logger  *slog.Logger
}

// NewChunkFetcher resolves the channel's schema once.
func NewChunkFetcher(source chain.LogSource, channel domain.Channel, timeout time.Duration) *ChunkFetcher {
	if timeout <= 0 {
		timeout = DefaultChunkTimeout
	}
	return &ChunkFetcher{
		source:  source,
		channel: channel,
		schema:  decode.SchemaFor(channel),
		timeout: timeout,
		logger:  slog.Default().With("component", "fetch", "channel", channel.Key()),
	}
}

// Schema returns the schema the fetcher decodes with.
func (f *ChunkFetcher) Schema() decode.Schema {
	return f.schema
}

// Fetch retrieves and decodes [r.Start, r.End]. Undecodable entries are
// dropped and counted. The only errors are ErrTransport and cancellation.
func (f *ChunkFetcher) Fetch(ctx context.Context, r domain.Range) (*ChunkResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	logs, err := f.source.GetLogs(fetchCtx, f.channel.Key(), f.schema.TopicHex(), r.Start, r.End)
	if err != nil {
		// Caller cancellation wins over whatever the transport reported.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.Canceled) {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: logs %s: %v", ErrTransport, r, err)
	}

	result := &ChunkResult{Range: r, Messages: make([]domain.Message, 0, len(logs))}
	for _, log := range logs {
		if log.BlockNumber < r.Start || log.BlockNumber > r.End {
			result.Dropped++
			f.logger.Debug("dropping log outside requested range",
				"block", log.BlockNumber, "range", r.String())
			continue
		}
		msg, err := f.schema.Decode(f.channel.Key(), log)
		if err != nil {
			result.Dropped++
			f.logger.Debug("dropping undecodable log",
				"block", log.BlockNumber, "log_index", log.LogIndex, "error", err)
			continue
		}
		result.Messages = append(result.Messages, msg)
	}

	if result.Dropped > 0 {
		metrics.DecodeDropped.WithLabelValues(f.channel.Key()).Add(float64(result.Dropped))
	}
	return result, nil
}
