package evm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

// MockProvider implements RPCClient for testing
type MockProvider struct {
	mu       sync.Mutex
	calls    []string
	CallFunc func(ctx context.Context, method string, params []any) (any, error)
}

func (m *MockProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	m.mu.Lock()
	m.calls = append(m.calls, method)
	m.mu.Unlock()
	if m.CallFunc != nil {
		return m.CallFunc(ctx, method, params)
	}
	return nil, nil
}

func (m *MockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func TestEVMAdapter_GetLatestBlock(t *testing.T) {
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method == "eth_blockNumber" {
				return "0x12d687", nil // 1234567 in hex
			}
			return nil, nil
		},
	}

	adapter := NewEVMAdapter(mock, 0)
	height, err := adapter.GetLatestBlock(context.Background())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if height != 1234567 {
		t.Errorf("expected height 1234567, got %d", height)
	}
}

func rawLog(block, index uint64) map[string]any {
	return map[string]any{
		"address":         "0xABCDEF0000000000000000000000000000000001",
		"topics":          []any{"0xAA", "0x000000000000000000000000000000000000000000000000000000000000beef"},
		"data":            "0x",
		"blockNumber":     fmt.Sprintf("0x%x", block),
		"transactionHash": fmt.Sprintf("0x%064X", block),
		"logIndex":        fmt.Sprintf("0x%x", index),
		"removed":         false,
	}
}

func TestEVMAdapter_GetLogs(t *testing.T) {
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			if method != "eth_getLogs" {
				return nil, fmt.Errorf("unexpected method %s", method)
			}
			filter := params[0].(map[string]any)
			from, _ := parseHexString(filter["fromBlock"].(string))
			to, _ := parseHexString(filter["toBlock"].(string))

			var logs []any
			// Emit in reverse to check ordering of the merged result.
			for b := to; ; b-- {
				if b%5 == 0 {
					logs = append(logs, rawLog(b, 1), rawLog(b, 0))
				}
				if b == from {
					break
				}
			}
			return logs, nil
		},
	}

	adapter := NewEVMAdapter(mock, 10)
	logs, err := adapter.GetLogs(context.Background(), "0xabc", "0xaa", 0, 29)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := mock.callCount(); got != 3 {
		t.Errorf("expected 3 sub-requests, got %d", got)
	}
	if len(logs) != 12 {
		t.Fatalf("expected 12 logs, got %d", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		prev, cur := logs[i-1], logs[i]
		if cur.BlockNumber < prev.BlockNumber ||
			(cur.BlockNumber == prev.BlockNumber && cur.LogIndex <= prev.LogIndex) {
			t.Fatalf("logs out of order at %d: %+v then %+v", i, prev, cur)
		}
	}
	if logs[0].Address != "0xabcdef0000000000000000000000000000000001" {
		t.Errorf("address not normalized: %s", logs[0].Address)
	}
	if logs[0].Topics[0] != "0xaa" {
		t.Errorf("topic not normalized: %s", logs[0].Topics[0])
	}
}

func TestEVMAdapter_GetLogsKeepsMalformedEntries(t *testing.T) {
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			bad := rawLog(3, 0)
			bad["blockNumber"] = "nope"
			return []any{rawLog(2, 0), bad, "garbage", rawLog(4, 0)}, nil
		},
	}

	logs, err := NewEVMAdapter(mock, 0).GetLogs(context.Background(), "0xabc", "", 0, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 4 {
		t.Fatalf("expected 4 logs, got %d", len(logs))
	}

	var malformed, valid int
	for _, l := range logs {
		if l.ParseErr != nil {
			malformed++
			if l.BlockNumber != 0 {
				t.Errorf("malformed entry attributed to block %d, want 0", l.BlockNumber)
			}
			continue
		}
		valid++
	}
	if malformed != 2 || valid != 2 {
		t.Errorf("expected 2 malformed and 2 valid entries, got %d and %d", malformed, valid)
	}
}

func TestEVMAdapter_GetLogsTransportError(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &MockProvider{
		CallFunc: func(ctx context.Context, method string, params []any) (any, error) {
			return nil, boom
		},
	}

	_, err := NewEVMAdapter(mock, 0).GetLogs(context.Background(), "0xabc", "", 0, 10)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped transport error, got %v", err)
	}
}

func TestEVMAdapter_ParseHexString(t *testing.T) {
	tests := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{"0x0", 0, false},
		{"0x1", 1, false},
		{"0x12d687", 1234567, false},
		{"0xffffffffffffffff", 18446744073709551615, false},
		{"0x10000000000000000", 0, true},
		{"", 0, true},
		{"0xzz", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseHexString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseHexString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("parseHexString(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}
