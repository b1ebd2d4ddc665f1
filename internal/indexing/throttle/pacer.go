package throttle

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces out chunk fetches to stay under provider rate limits.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer allows one chunk per delay. A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	if delay <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Every(delay), 1)}
}

// Wait blocks until the next chunk may start or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
