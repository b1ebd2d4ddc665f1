package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/logsync/internal/core/domain"
)

// RPCClient is the JSON-RPC surface the adapter needs.
type RPCClient interface {
	Call(ctx context.Context, method string, params []any) (any, error)
}

const (
	// DefaultMaxBlockSpan caps a single eth_getLogs request.
	DefaultMaxBlockSpan = 2000
	defaultConcurrency  = 4
)

type EVMAdapter struct {
	client       RPCClient
	maxBlockSpan uint64
	concurrency  int
	log          *slog.Logger
}

func NewEVMAdapter(client RPCClient, maxBlockSpan uint64) *EVMAdapter {
	if maxBlockSpan == 0 {
		maxBlockSpan = DefaultMaxBlockSpan
	}
	return &EVMAdapter{
		client:       client,
		maxBlockSpan: maxBlockSpan,
		concurrency:  defaultConcurrency,
		log:          slog.Default().With("component", "evm"),
	}
}

func (a *EVMAdapter) GetLatestBlock(ctx context.Context) (uint64, error) {
	result, err := a.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	blockHex, ok := result.(string)
	if !ok {
		return 0, fmt.Errorf("invalid block number response")
	}

	return parseHexString(blockHex)
}

// GetLogs fetches the range in sub-requests of at most maxBlockSpan blocks,
// running them concurrently and returning the merged, ordered result.
func (a *EVMAdapter) GetLogs(
	ctx context.Context,
	address, topic string,
	from, to uint64,
) ([]domain.RawLog, error) {
	if from > to {
		return nil, fmt.Errorf("invalid range %d-%d", from, to)
	}

	parts := domain.Range{Start: from, End: to}.Split(a.maxBlockSpan)
	results := make([][]domain.RawLog, len(parts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, part := range parts {
		g.Go(func() error {
			logs, err := a.getLogs(ctx, address, topic, part)
			if err != nil {
				return err
			}
			results[i] = logs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.RawLog
	for _, logs := range results {
		out = append(out, logs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].LogIndex < out[j].LogIndex
	})
	return out, nil
}

func (a *EVMAdapter) getLogs(
	ctx context.Context,
	address, topic string,
	r domain.Range,
) ([]domain.RawLog, error) {
	filter := map[string]any{
		"address":   address,
		"fromBlock": fmt.Sprintf("0x%x", r.Start),
		"toBlock":   fmt.Sprintf("0x%x", r.End),
	}
	if topic != "" {
		filter["topics"] = []any{topic}
	}

	result, err := a.client.Call(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs %s failed: %w", r, err)
	}
	if result == nil {
		return nil, nil
	}

	rawLogs, ok := result.([]any)
	if !ok {
		return nil, fmt.Errorf("invalid eth_getLogs response: %T", result)
	}

	// Unparsable entries are kept, attributed to the start of the request.
	logs := make([]domain.RawLog, 0, len(rawLogs))
	for i, raw := range rawLogs {
		logData, ok := raw.(map[string]any)
		if !ok {
			err := fmt.Errorf("unexpected log entry type %T", raw)
			a.log.Warn("malformed log entry", "range", r.String(), "index", i, "error", err)
			logs = append(logs, domain.RawLog{BlockNumber: r.Start, ParseErr: err})
			continue
		}
		entry, err := parseLog(logData)
		if err != nil {
			a.log.Warn("malformed log entry", "range", r.String(), "index", i, "error", err)
			logs = append(logs, domain.RawLog{BlockNumber: r.Start, ParseErr: err})
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func parseLog(raw map[string]any) (domain.RawLog, error) {
	blockNumber, err := parseHexString(getString(raw["blockNumber"]))
	if err != nil {
		return domain.RawLog{}, fmt.Errorf("blockNumber: %w", err)
	}
	logIndex, err := parseHexString(getString(raw["logIndex"]))
	if err != nil {
		return domain.RawLog{}, fmt.Errorf("logIndex: %w", err)
	}

	var topics []string
	if rawTopics, ok := raw["topics"].([]any); ok {
		topics = make([]string, 0, len(rawTopics))
		for _, t := range rawTopics {
			topics = append(topics, strings.ToLower(getString(t)))
		}
	}

	removed, _ := raw["removed"].(bool)

	return domain.RawLog{
		Address:     strings.ToLower(getString(raw["address"])),
		Topics:      topics,
		Data:        getString(raw["data"]),
		BlockNumber: blockNumber,
		TxHash:      strings.ToLower(getString(raw["transactionHash"])),
		LogIndex:    logIndex,
		Removed:     removed,
	}, nil
}

func parseHexString(hexStr string) (uint64, error) {
	n := new(big.Int)
	if _, ok := n.SetString(strings.TrimPrefix(hexStr, "0x"), 16); !ok {
		return 0, fmt.Errorf("invalid hex: %q", hexStr)
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("hex out of range: %q", hexStr)
	}
	return n.Uint64(), nil
}

func getString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
