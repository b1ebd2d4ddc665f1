package health

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/logsync/internal/core/domain"
	"github.com/vietddude/logsync/internal/indexing/syncer"
)

const (
	runRetention = time.Hour
	maxRuns      = 100
)

var errRunNotFound = errors.New("run not found")

// trackedRun follows a background run started through the API.
type trackedRun struct {
	run     *syncer.Run
	mode    domain.SyncMode
	started time.Time

	mu     sync.Mutex
	chunks int
	last   *syncer.Progress
}

type runView struct {
	RunID    string           `json:"run_id"`
	Channel  string           `json:"channel"`
	Mode     string           `json:"mode"`
	State    domain.SyncState `json:"state"`
	Chunks   int              `json:"chunks"`
	Progress *syncer.Progress `json:"progress,omitempty"`
	Result   *syncer.Result   `json:"result,omitempty"`
	Error    string           `json:"error,omitempty"`
}

func (t *trackedRun) follow() {
	for p := range t.run.Progress() {
		t.mu.Lock()
		t.chunks++
		t.last = &p
		t.mu.Unlock()
	}
}

func (t *trackedRun) finished() (*syncer.Result, bool) {
	select {
	case <-t.run.Done():
		return t.run.Wait(), true
	default:
		return nil, false
	}
}

func (t *trackedRun) view() runView {
	t.mu.Lock()
	v := runView{
		RunID:    t.run.ID,
		Channel:  t.run.Channel,
		Mode:     t.mode.String(),
		State:    domain.SyncStateRunning,
		Chunks:   t.chunks,
		Progress: t.last,
	}
	t.mu.Unlock()

	if res, ok := t.finished(); ok && res != nil {
		v.State = res.State
		v.Result = res
		v.Error = res.Error()
	}
	return v
}

// runTable keeps API-started runs by ID. Finished runs are pruned after
// runRetention, or oldest first once more than maxRuns are held.
type runTable struct {
	mu   sync.Mutex
	runs map[string]*trackedRun
}

func newRunTable() *runTable {
	return &runTable{runs: make(map[string]*trackedRun)}
}

func (rt *runTable) add(run *syncer.Run, mode domain.SyncMode) *trackedRun {
	t := &trackedRun{run: run, mode: mode, started: time.Now()}
	go t.follow()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.runs[run.ID] = t
	rt.pruneLocked(t.started)
	return t
}

func (rt *runTable) get(id string) (*trackedRun, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	t, ok := rt.runs[id]
	if !ok {
		return nil, errRunNotFound
	}
	return t, nil
}

func (rt *runTable) list() []runView {
	rt.mu.Lock()
	tracked := make([]*trackedRun, 0, len(rt.runs))
	for _, t := range rt.runs {
		tracked = append(tracked, t)
	}
	rt.mu.Unlock()

	sort.Slice(tracked, func(i, j int) bool { return tracked[i].started.Before(tracked[j].started) })
	out := make([]runView, 0, len(tracked))
	for _, t := range tracked {
		out = append(out, t.view())
	}
	return out
}

func (rt *runTable) pruneLocked(now time.Time) {
	var done []*trackedRun
	for id, t := range rt.runs {
		res, ok := t.finished()
		if !ok {
			continue
		}
		if res != nil && !res.FinishedAt.IsZero() && now.Sub(res.FinishedAt) > runRetention {
			delete(rt.runs, id)
			continue
		}
		done = append(done, t)
	}

	excess := len(rt.runs) - maxRuns
	if excess <= 0 {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].started.Before(done[j].started) })
	for _, t := range done {
		if excess == 0 {
			break
		}
		delete(rt.runs, t.run.ID)
		excess--
	}
}
