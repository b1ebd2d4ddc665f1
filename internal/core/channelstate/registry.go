package channelstate

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
)

// ErrAlreadyRunning is returned when a channel already has an operation in flight.
var ErrAlreadyRunning = errors.New("operation already running on channel")

// errRemoved is returned by a State that was torn down by Remove. Callers
// holding a stale State resolve the channel again.
var errRemoved = errors.New("channel state removed")

// Registry holds the lazily-created State of every channel.
type Registry struct {
	mu            sync.RWMutex
	states        map[string]*State
	stateCallback func(channel string, t Transition)
}

// Get returns the state of a channel, creating it on first access.
func (r *Registry) Get(channel string) *State {
	key := domain.NormalizeChannel(channel)

	r.mu.RLock()
	st, ok := r.states[key]
	r.mu.RUnlock()
	if ok {
		return st
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[key]; ok {
		return st
	}
	st = &State{
		channel: key,
		state:   StateIdle,
		metrics: NewMetricsCollector(100),
		notify:  r.notify,
	}
	r.states[key] = st
	return st
}

// Lookup returns the state of a channel without creating it.
func (r *Registry) Lookup(channel string) (*State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.states[domain.NormalizeChannel(channel)]
	return st, ok
}

// Channels returns the keys of every known channel, sorted.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.states))
	for k := range r.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Remove tears down a channel's state. It waits for an in-flight commit and
// fails while an operation is running. Callers that still hold the removed
// State get errRemoved from it and must go through the registry again.
func (r *Registry) Remove(channel string) error {
	key := domain.NormalizeChannel(channel)

	st, ok := r.Lookup(key)
	if !ok {
		return nil
	}

	st.commitMu.Lock()
	defer st.commitMu.Unlock()

	st.mu.Lock()
	if st.state == StateRunning {
		st.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, key)
	}
	st.removed = true
	st.mu.Unlock()

	r.mu.Lock()
	if r.states[key] == st {
		delete(r.states, key)
	}
	r.mu.Unlock()
	return nil
}

// Begin starts an operation on the channel's current State.
func (r *Registry) Begin(channel, name string) (*State, *Operation, error) {
	for {
		st := r.Get(channel)
		op, err := st.Begin(name)
		if errors.Is(err, errRemoved) {
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		return st, op, nil
	}
}

// Commit runs fn under the commit lock of the channel's current State.
func (r *Registry) Commit(channel string, fn func() error) error {
	for {
		err := r.Get(channel).Commit(fn)
		if !errors.Is(err, errRemoved) {
			return err
		}
	}
}

// SetStateChangeCallback registers callback for state changes.
func (r *Registry) SetStateChangeCallback(fn func(channel string, t Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stateCallback = fn
}

func (r *Registry) notify(channel string, t Transition) {
	r.mu.RLock()
	fn := r.stateCallback
	r.mu.RUnlock()
	if fn != nil {
		fn(channel, t)
	}
}

// Outcome is the result of the last finished operation on a channel.
type Outcome struct {
	Operation string
	State     SyncState
	Err       error
	At        time.Time
}

// State is the per-channel synchronization state.
type State struct {
	channel string
	notify  func(string, Transition)

	// commitMu serializes persist-then-merge commits.
	commitMu sync.Mutex
	// removed is written under both commitMu and mu.
	removed bool

	mu      sync.Mutex
	state   SyncState
	current *Operation
	last    *Outcome
	metrics *MetricsCollector
}

// Channel returns the channel key.
func (s *State) Channel() string {
	return s.channel
}

// Current returns the current lifecycle state.
func (s *State) Current() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether an operation holds the channel.
func (s *State) Running() bool {
	return s.Current() == StateRunning
}

// LastOutcome returns the outcome of the last finished operation, if any.
func (s *State) LastOutcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Outcome{}, false
	}
	return *s.last, true
}

// Begin marks the channel as running. Only one operation may run at a time.
func (s *State) Begin(name string) (*Operation, error) {
	s.mu.Lock()
	if s.removed {
		s.mu.Unlock()
		return nil, errRemoved
	}
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadyRunning, s.channel, name)
	}
	t := NewTransition(s.state, StateRunning, name)
	s.state = StateRunning
	op := &Operation{state: s, name: name, startedAt: t.Timestamp}
	s.current = op
	s.metrics.RecordTransition(t)
	s.mu.Unlock()

	s.fire(t)
	return op, nil
}

// Commit runs fn while holding the channel's commit lock.
func (s *State) Commit(fn func() error) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.removed {
		return errRemoved
	}
	return fn()
}

// RecordChunk records a committed chunk for throughput metrics.
func (s *State) RecordChunk(r domain.Range, added, dropped int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.RecordChunk(r.Size(), added, dropped, time.Now())
}

// Metrics returns a snapshot of the channel's metrics.
func (s *State) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics.GetMetrics()
}

func (s *State) transition(to SyncState, reason string) (Transition, error) {
	if !CanTransition(s.state, to) {
		return Transition{}, fmt.Errorf(
			"%w: cannot transition from %s to %s",
			ErrInvalidTransition,
			s.state,
			to,
		)
	}
	t := NewTransition(s.state, to, reason)
	s.state = to
	s.metrics.RecordTransition(t)
	return t, nil
}

func (s *State) fire(transitions ...Transition) {
	if s.notify == nil {
		return
	}
	for _, t := range transitions {
		s.notify(s.channel, t)
	}
}

// Operation is the in-flight guard returned by Begin.
type Operation struct {
	state     *State
	name      string
	startedAt time.Time
	once      sync.Once
}

// Name returns the operation name passed to Begin.
func (op *Operation) Name() string {
	return op.name
}

// StartedAt returns when the operation began.
func (op *Operation) StartedAt() time.Time {
	return op.startedAt
}

// Finish records the terminal state and releases the channel back to idle.
// Calls after the first are no-ops.
func (op *Operation) Finish(final SyncState, cause error) error {
	var err error
	op.once.Do(func() {
		s := op.state
		reason := op.name
		if cause != nil {
			reason = fmt.Sprintf("%s: %v", op.name, cause)
		}

		s.mu.Lock()
		terminal, terr := s.transition(final, reason)
		if terr != nil {
			// Unknown terminal state; still release the channel.
			err = terr
			terminal, _ = s.transition(StateFailed, reason)
		}
		idle, _ := s.transition(StateIdle, op.name)
		s.current = nil
		s.last = &Outcome{
			Operation: op.name,
			State:     terminal.To,
			Err:       cause,
			At:        terminal.Timestamp,
		}
		s.mu.Unlock()

		s.fire(terminal, idle)
	})
	return err
}
