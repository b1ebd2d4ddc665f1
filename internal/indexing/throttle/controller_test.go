package throttle

import (
	"testing"
	"time"
)

func TestComputeInterval(t *testing.T) {
	config := DefaultConfig()
	config.MinInterval = 500 * time.Millisecond
	config.MaxInterval = 60 * time.Second
	config.LagNormalThreshold = 5
	config.LagBurstThreshold = 50

	controller := NewAdaptiveController(12*time.Second, config)

	tests := []struct {
		name     string
		lag      uint64
		expected time.Duration
	}{
		{
			name:     "at chain head (lag=0)",
			lag:      0,
			expected: 12 * time.Second, // base interval
		},
		{
			name:     "slightly behind (lag=3)",
			lag:      3,
			expected: 6 * time.Second, // base / 2
		},
		{
			name:     "catching up (lag=20)",
			lag:      20,
			expected: 1 * time.Second, // min * 2
		},
		{
			name:     "far behind (lag=100)",
			lag:      100,
			expected: 500 * time.Millisecond, // min interval
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := controller.ComputeInterval(tt.lag)
			if result != tt.expected {
				t.Errorf("ComputeInterval(%d) = %v, want %v", tt.lag, result, tt.expected)
			}
		})
	}
}

func TestComputeInterval_Disabled(t *testing.T) {
	config := DefaultConfig()
	config.Adaptive = false

	controller := NewAdaptiveController(15*time.Second, config)
	if got := controller.ComputeInterval(100000); got != 15*time.Second {
		t.Errorf("expected base interval when disabled, got %v", got)
	}
}

func TestComputeInterval_ClampsToMax(t *testing.T) {
	config := DefaultConfig()
	config.MaxInterval = 10 * time.Second

	controller := NewAdaptiveController(time.Minute, config)
	if got := controller.ComputeInterval(0); got != 10*time.Second {
		t.Errorf("expected clamp to 10s, got %v", got)
	}
	if controller.CurrentInterval() != 10*time.Second {
		t.Errorf("CurrentInterval not updated: %v", controller.CurrentInterval())
	}
}
