package channelstate

import (
	"time"
)

// chunkRecord holds timing data for a committed chunk.
type chunkRecord struct {
	Blocks      uint64
	CommittedAt time.Time
}

// Metrics holds channel performance data.
type Metrics struct {
	BlocksPerSecond float64
	ChunksCommitted int
	MessagesAdded   int
	DroppedEntries  int
	StateHistory    []Transition
}

// MetricsCollector tracks channel throughput over time.
type MetricsCollector struct {
	windowSize  int           // number of chunks to track
	chunks      []chunkRecord // ring buffer of chunk records
	transitions []Transition  // recent state changes

	chunksCommitted int
	messagesAdded   int
	dropped         int
}

// RecordChunk records a committed chunk.
func (mc *MetricsCollector) RecordChunk(blocks uint64, added, dropped int, committedAt time.Time) {
	record := chunkRecord{
		Blocks:      blocks,
		CommittedAt: committedAt,
	}

	if len(mc.chunks) >= mc.windowSize {
		// Shift elements left, drop oldest
		copy(mc.chunks, mc.chunks[1:])
		mc.chunks[len(mc.chunks)-1] = record
	} else {
		mc.chunks = append(mc.chunks, record)
	}

	mc.chunksCommitted++
	mc.messagesAdded += added
	mc.dropped += dropped
}

// RecordTransition records a state transition.
func (mc *MetricsCollector) RecordTransition(t Transition) {
	// Keep only last 10 transitions
	if len(mc.transitions) >= 10 {
		copy(mc.transitions, mc.transitions[1:])
		mc.transitions[len(mc.transitions)-1] = t
	} else {
		mc.transitions = append(mc.transitions, t)
	}
}

// GetMetrics returns current metrics.
func (mc *MetricsCollector) GetMetrics() Metrics {
	m := Metrics{
		ChunksCommitted: mc.chunksCommitted,
		MessagesAdded:   mc.messagesAdded,
		DroppedEntries:  mc.dropped,
		StateHistory:    make([]Transition, len(mc.transitions)),
	}
	copy(m.StateHistory, mc.transitions)

	if len(mc.chunks) >= 2 {
		first := mc.chunks[0]
		last := mc.chunks[len(mc.chunks)-1]
		duration := last.CommittedAt.Sub(first.CommittedAt)

		if duration > 0 {
			var blocks uint64
			for _, c := range mc.chunks[1:] {
				blocks += c.Blocks
			}
			m.BlocksPerSecond = float64(blocks) / duration.Seconds()
		}
	}

	return m
}
