package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vietddude/logsync/internal/infra/rpc/provider"
	"github.com/vietddude/logsync/internal/infra/rpc/routing"
)

// ErrNoProviders is returned when a client has nothing to call.
var ErrNoProviders = errors.New("no rpc providers configured")

// Config tunes retries and circuit breaking.
type Config struct {
	Retry RetryConfig

	// BreakerMaxFailures is the number of consecutive failures that opens
	// a provider's breaker.
	BreakerMaxFailures uint32

	// BreakerOpenTimeout is how long an open breaker rejects calls before
	// letting a probe through.
	BreakerOpenTimeout time.Duration
}

// DefaultConfig returns sensible client defaults.
func DefaultConfig() Config {
	return Config{
		Retry:              routing.DefaultRetryConfig,
		BreakerMaxFailures: 5,
		BreakerOpenTimeout: 30 * time.Second,
	}
}

type entry struct {
	provider provider.Provider
	breaker  *gobreaker.CircuitBreaker
}

// Client is the high-level interface for making RPC calls.
// Providers are tried in order; each sits behind its own circuit breaker.
type Client struct {
	entries []*entry
	retry   RetryConfig
}

// NewClient creates a client over the given providers.
func NewClient(cfg Config, providers ...provider.Provider) *Client {
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = DefaultConfig().BreakerMaxFailures
	}
	if cfg.BreakerOpenTimeout == 0 {
		cfg.BreakerOpenTimeout = DefaultConfig().BreakerOpenTimeout
	}

	c := &Client{retry: cfg.Retry}
	for _, p := range providers {
		maxFailures := cfg.BreakerMaxFailures
		c.entries = append(c.entries, &entry{
			provider: p,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:        p.GetName(),
				MaxRequests: 1,
				Timeout:     cfg.BreakerOpenTimeout,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxFailures
				},
				// Request errors say nothing about the endpoint's health.
				IsSuccessful: func(err error) bool {
					return err == nil || routing.ClassifyError(err) == routing.ActionFatal
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					slog.Warn("RPC circuit breaker state changed",
						"provider", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return c
}

// Call makes an RPC call with retry and failover across providers.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	if len(c.entries) == 0 {
		return nil, ErrNoProviders
	}

	var lastErr error
	for _, e := range c.entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := e.breaker.Execute(func() (interface{}, error) {
			return routing.CallWithRetry(ctx, e.provider, method, params, c.retry)
		})
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			continue
		}
		if routing.ClassifyError(err) == routing.ActionFatal {
			return nil, fmt.Errorf("fatal error from provider %s: %w", e.provider.GetName(), err)
		}
		slog.Debug("RPC provider failed, trying next",
			"provider", e.provider.GetName(), "method", method, "error", err)
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// ProviderStatus is a point-in-time view of one provider.
type ProviderStatus struct {
	Name    string                `json:"name"`
	Breaker string                `json:"breaker"`
	Health  provider.HealthStatus `json:"health"`
}

// Providers returns the status of every provider in call order.
func (c *Client) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, ProviderStatus{
			Name:    e.provider.GetName(),
			Breaker: e.breaker.State().String(),
			Health:  e.provider.GetHealth(),
		})
	}
	return out
}

// Close releases every provider.
func (c *Client) Close() error {
	var errs []error
	for _, e := range c.entries {
		if err := e.provider.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
