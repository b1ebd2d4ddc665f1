// Package channelstate owns the per-channel synchronization state.
//
// # Purpose
//
// Every channel gets one lazily-created State object that lives for the whole
// process (or until the channel is purged):
//   - Lifecycle: idle, running, then done/aborted/failed, then back to idle
//   - In-flight guard: only one crawl or manual fill may run per channel
//   - Commit lock: serializes the persist-then-merge pair of every chunk
//
// # Key Features
//
// State Machine - Only allows valid transitions:
//
//	IDLE → RUNNING → DONE → IDLE     (valid)
//	IDLE → DONE                      (invalid - nothing ran)
//
// Single Flight - Begin fails with ErrAlreadyRunning while another operation
// holds the channel.
//
// # Quick Start
//
//	reg := channelstate.NewRegistry()
//
//	st := reg.Get("0xabc...")
//	op, err := st.Begin("crawl")
//	if errors.Is(err, channelstate.ErrAlreadyRunning) {
//	    return err
//	}
//	defer op.Finish(channelstate.StateDone, nil)
//
//	// Commit one chunk
//	err = st.Commit(func() error {
//	    // upsert messages, then merge and save ranges
//	    return nil
//	})
//
// # Package Structure
//
//   - state.go    - State machine definitions and valid transitions
//   - registry.go - Registry and per-channel State with the guards
//   - metrics.go  - Throughput and transition history
package channelstate

import "github.com/vietddude/logsync/internal/core/domain"

// SyncState is an alias for domain.SyncState.
type SyncState = domain.SyncState

// State constants re-exported for convenience.
const (
	StateIdle    = domain.SyncStateIdle
	StateRunning = domain.SyncStateRunning
	StateDone    = domain.SyncStateDone
	StateAborted = domain.SyncStateAborted
	StateFailed  = domain.SyncStateFailed
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states: make(map[string]*State),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		chunks:      make([]chunkRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
