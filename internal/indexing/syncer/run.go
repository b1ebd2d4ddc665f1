package syncer

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
)

// Progress is emitted after every committed chunk.
type Progress struct {
	RunID   string       `json:"run_id"`
	Channel string       `json:"channel"`
	Phase   Phase        `json:"phase"`
	Range   domain.Range `json:"range"`
	Added   int          `json:"added"`
	Dropped int          `json:"dropped"`
	Tip     uint64       `json:"tip"`
	Head    uint64       `json:"head"`
}

// Result summarizes a finished operation.
type Result struct {
	RunID           string           `json:"run_id"`
	Channel         string           `json:"channel"`
	Mode            domain.SyncMode  `json:"mode"`
	State           domain.SyncState `json:"state"`
	MessagesAdded   int              `json:"messages_added"`
	RangesCommitted int              `json:"ranges_committed"`
	Dropped         int              `json:"dropped"`
	Tip             uint64           `json:"tip"`
	Head            uint64           `json:"head"`
	Err             error            `json:"-"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
}

// Error returns the failure message, if any.
func (r *Result) Error() string {
	if r == nil || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

const progressBuffer = 64

// Run is a handle to an operation started in the background.
type Run struct {
	ID      string
	Channel string

	progress chan Progress
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.Mutex
	result *Result
}

func newRun(id, channel string, cancel context.CancelFunc) *Run {
	return &Run{
		ID:       id,
		Channel:  channel,
		progress: make(chan Progress, progressBuffer),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Spawn runs fn in the background under a cancellable child of ctx and
// returns its handle. fn reports committed chunks through emit.
func Spawn(ctx context.Context, id, channel string, fn func(ctx context.Context, emit func(Progress)) *Result) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(id, channel, cancel)
	go func() {
		run.finish(fn(runCtx, run.emit))
	}()
	return run
}

// Progress streams chunk events. It is closed when the run finishes.
// Events are dropped if the reader falls behind by more than the buffer.
func (r *Run) Progress() <-chan Progress {
	return r.progress
}

// Cancel requests the run to stop after the current chunk.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes and returns its result.
func (r *Run) Wait() *Result {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Run) emit(p Progress) {
	select {
	case r.progress <- p:
	default:
	}
}

func (r *Run) finish(res *Result) {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	close(r.progress)
	close(r.done)
	r.cancel()
}
