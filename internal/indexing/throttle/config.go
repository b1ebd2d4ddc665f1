package throttle

import "time"

// Config holds pacing and head caching settings.
type Config struct {
	// HeadCacheTTL is how long a fetched chain head is reused (default: 2s)
	HeadCacheTTL time.Duration

	// InterChunkDelay is the minimum spacing between chunk fetches (default: 250ms)
	InterChunkDelay time.Duration

	// Adaptive enables lag-based tail polling intervals
	Adaptive bool

	// Interval bounds for adaptive tail polling
	MinInterval time.Duration // Fastest polling rate (default: 1s)
	MaxInterval time.Duration // Slowest polling rate (default: 60s)

	// Lag thresholds in blocks
	LagNormalThreshold uint64 // Below this = base interval (default: 100)
	LagBurstThreshold  uint64 // Above this = max speed (default: 5000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeadCacheTTL:       2 * time.Second,
		InterChunkDelay:    250 * time.Millisecond,
		Adaptive:           true,
		MinInterval:        time.Second,
		MaxInterval:        60 * time.Second,
		LagNormalThreshold: 100,
		LagBurstThreshold:  5000,
	}
}
