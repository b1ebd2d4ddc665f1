package throttle

import "time"

// AdaptiveController computes tail polling intervals from the current lag.
type AdaptiveController struct {
	baseInterval time.Duration
	config       Config

	currentInterval time.Duration
}

// NewAdaptiveController creates a new adaptive controller.
func NewAdaptiveController(baseInterval time.Duration, config Config) *AdaptiveController {
	return &AdaptiveController{
		baseInterval:    baseInterval,
		config:          config,
		currentInterval: baseInterval,
	}
}

// ComputeInterval calculates the next poll interval from the lag in blocks.
//
// Algorithm:
//   - lag == 0: base interval (at chain head, save API calls)
//   - lag < normal: base interval × 0.5 (slightly behind)
//   - lag < burst: min interval × 2 (catching up)
//   - lag ≥ burst: min interval (maximum catchup speed)
func (c *AdaptiveController) ComputeInterval(lag uint64) time.Duration {
	if !c.config.Adaptive {
		return c.baseInterval
	}

	var interval time.Duration
	switch {
	case lag == 0:
		interval = c.baseInterval
	case lag < c.config.LagNormalThreshold:
		interval = c.baseInterval / 2
	case lag < c.config.LagBurstThreshold:
		interval = c.config.MinInterval * 2
	default:
		interval = c.config.MinInterval
	}

	if interval < c.config.MinInterval {
		interval = c.config.MinInterval
	}
	if c.config.MaxInterval > 0 && interval > c.config.MaxInterval {
		interval = c.config.MaxInterval
	}

	c.currentInterval = interval
	return interval
}

// CurrentInterval returns the last computed interval.
func (c *AdaptiveController) CurrentInterval() time.Duration {
	return c.currentInterval
}
