package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

// run is the in-memory state of one registered execution.
type run struct {
	id     string
	planID string

	op       sync.Mutex // serializes Start, Pause, Resume and Cancel
	mu       sync.Mutex
	exec     execution.Context
	order    map[string]int     // task id -> topological position
	cancel   context.CancelFunc // cancels the current worker
	worker   chan struct{}      // closed when the current worker exits
	sampler  *health.Sampler
	done     chan struct{} // closed once the run leaves the registry
	stalled  chan struct{} // closed when the final status could not be saved
	stallErr error
}

func newRun(exec execution.Context) *run {
	return &run{
		id:      exec.ID,
		planID:  exec.PlanID,
		exec:    exec,
		done:    make(chan struct{}),
		stalled: make(chan struct{}),
	}
}

// stall records that the run could not reach its final status.
func (r *run) stall(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stallErr != nil {
		return
	}
	r.stallErr = err
	close(r.stalled)
}

func (r *run) status() execution.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Status
}

func (r *run) snapshot() execution.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Clone()
}

// registry maps execution ids and plan ids to active runs. A plan has at
// most one registered run; registration for a plan is serialized by a
// per-plan lock.
type registry struct {
	mu     sync.RWMutex
	byExec map[string]*run
	byPlan map[string]string
	plans  *scheduler.KeyedLocks
}

func newRegistry() *registry {
	return &registry{
		byExec: make(map[string]*run),
		byPlan: make(map[string]string),
		plans:  scheduler.NewKeyedLocks(),
	}
}

// claim runs fn while holding the plan's lock, after checking that the plan
// has no registered run. fn returns the run to register.
func (g *registry) claim(planID string, fn func() (*run, error)) (*run, error) {
	g.plans.Lock(planID)
	defer g.plans.Unlock(planID)

	g.mu.RLock()
	active, busy := g.byPlan[planID]
	g.mu.RUnlock()
	if busy {
		return nil, fmt.Errorf("plan %s (execution %s): %w", planID, active, ErrAlreadyRunning)
	}

	r, err := fn()
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.byExec[r.id] = r
	g.byPlan[planID] = r.id
	g.mu.Unlock()
	return r, nil
}

func (g *registry) get(executionID string) *run {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.byExec[executionID]
}

// remove unregisters a run and closes its done channel. Idempotent.
func (g *registry) remove(r *run) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.byExec[r.id] != r {
		return
	}
	delete(g.byExec, r.id)
	if g.byPlan[r.planID] == r.id {
		delete(g.byPlan, r.planID)
	}
	close(r.done)
}

// runs returns every registered run ordered by execution id.
func (g *registry) runs() []*run {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*run, 0, len(g.byExec))
	for _, r := range g.byExec {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
