// Package rpc provides a resilient JSON-RPC client for an EVM chain.
//
// This package offers:
//   - Multiple provider support with ordered failover
//   - Per-provider circuit breakers
//   - Retry with exponential backoff for transient errors
//   - Health monitoring
//
// # Quick Start
//
//	import "github.com/vietddude/logsync/internal/infra/rpc"
//
//	client := rpc.NewClient(rpc.DefaultConfig(),
//	    rpc.NewHTTPProvider("primary", primaryURL, 30*time.Second),
//	    rpc.NewHTTPProvider("fallback", fallbackURL, 30*time.Second),
//	)
//
//	result, err := client.Call(ctx, "eth_blockNumber", nil)
//
// # Package Structure
//
//   - provider/ - Provider implementations (HTTPProvider, monitoring)
//   - routing/  - Error classification and retry logic
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/logsync/internal/infra/rpc/provider"
	"github.com/vietddude/logsync/internal/infra/rpc/routing"
)

// =============================================================================
// Re-exported types from provider package
// =============================================================================

// Provider is the core interface for RPC endpoints.
type Provider = provider.Provider

// HTTPProvider implements Provider for JSON-RPC over HTTP.
type HTTPProvider = provider.HTTPProvider

// HealthStatus represents the health state of a provider.
type HealthStatus = provider.HealthStatus

// RPCError is an error object returned by a node.
type RPCError = provider.RPCError

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return provider.NewHTTPProvider(name, endpoint, timeout)
}

// =============================================================================
// Re-exported types from routing package
// =============================================================================

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// DefaultRetryConfig provides sensible retry defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig
