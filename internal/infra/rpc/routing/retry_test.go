package routing

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/logsync/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionFailover},
		{errors.New("project rate limit exceeded"), ActionFailover},
		{errors.New("quota exceeded"), ActionFailover},
		{errors.New("daily request count exceeded"), ActionFailover},
		{errors.New("403 Forbidden"), ActionFailover},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{&provider.RPCError{Code: -32602, Message: "invalid params"}, ActionFatal},
		{fmt.Errorf("wrapped: %w", context.Canceled), ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, ClassifyError(tt.err), "ClassifyError(%q)", tt.err)
	}
}

type flakyProvider struct {
	provider.Provider
	failures int
	err      error
	calls    int
}

func (f *flakyProvider) Call(ctx context.Context, method string, params []any) (any, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return "ok", nil
}

func TestCallWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffMultiple: 2}

	t.Run("recovers after transient errors", func(t *testing.T) {
		p := &flakyProvider{failures: 2, err: errors.New("connection reset")}
		result, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, cfg)
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		p := &flakyProvider{failures: 10, err: errors.New("connection reset")}
		_, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, cfg)
		require.Error(t, err)
		assert.Equal(t, 3, p.calls)
	})

	t.Run("failover errors return immediately", func(t *testing.T) {
		p := &flakyProvider{failures: 10, err: errors.New("429 too many requests")}
		_, err := CallWithRetry(context.Background(), p, "eth_blockNumber", nil, cfg)
		require.Error(t, err)
		assert.Equal(t, 1, p.calls)
	})
}
