// Package orchestrator runs executions: it turns a plan into a task graph,
// dispatches ready tasks to executors with retries and publishes every state
// change as a bridge event.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/executor"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/persistence"
	"github.com/aristath/autopilot/internal/plan"
	"github.com/aristath/autopilot/internal/scheduler"
)

// DefaultHealthInterval is how often a running execution is sampled.
const DefaultHealthInterval = 30 * time.Second

// GraphBuilder expands work items into a validated task set.
type GraphBuilder interface {
	Build(executionID string, items []plan.WorkItem) ([]scheduler.AgentTask, scheduler.Validation)
}

// HealthChecker evaluates an execution's tasks.
type HealthChecker interface {
	Check(ctx context.Context, executionID string) (health.Snapshot, error)
}

// Store persists executions and their tasks.
type Store interface {
	SaveExecution(ctx context.Context, e execution.Context) error
	GetExecution(ctx context.Context, id string) (execution.Context, error)
	ListExecutions(ctx context.Context, planID string) ([]execution.Context, error)
	SaveTasks(ctx context.Context, tasks []scheduler.AgentTask) error
	UpdateTask(ctx context.Context, t scheduler.AgentTask) error
	GetTask(ctx context.Context, taskID string) (scheduler.AgentTask, error)
	Tasks(ctx context.Context, executionID string) ([]scheduler.AgentTask, error)
}

// Broadcaster receives every event the engine emits. Publish must not block.
type Broadcaster interface {
	Publish(event events.BridgeEvent)
}

// Config wires an Engine. Store and Plans are required.
type Config struct {
	Store       Store
	Plans       plan.Source
	Executor    executor.Executor // default executor.Noop
	Builder     GraphBuilder      // default scheduler.NewBuilder(Retry.MaxRetries)
	Health      HealthChecker     // default health.Monitor over Store
	Broadcaster Broadcaster       // default discards events

	Retry          RetryConfig   // zero value disables retries
	HealthInterval time.Duration // default 30s
	HealthHistory  int           // snapshots kept per execution by the default monitor
	Parallelism    int           // tasks dispatched at once per execution (default 1)
	Logger         *slog.Logger
}

// Engine owns every registered execution of a process.
type Engine struct {
	store       Store
	plans       plan.Source
	exec        executor.Executor
	builder     GraphBuilder
	health      HealthChecker
	bus         Broadcaster
	retry       RetryConfig
	interval    time.Duration
	parallelism int
	logger      *slog.Logger

	reg         *registry
	resources   *scheduler.KeyedLocks
	now         func() time.Time
	saveBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type discard struct{}

func (discard) Publish(events.BridgeEvent) {}

// NewEngine creates an Engine from cfg, filling in defaults.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if cfg.Plans == nil {
		return nil, errors.New("orchestrator: plan source is required")
	}

	logger := logging.OrDiscard(cfg.Logger)
	if cfg.Executor == nil {
		cfg.Executor = executor.Noop{}
	}
	if cfg.Builder == nil {
		cfg.Builder = scheduler.NewBuilder(cfg.Retry.MaxRetries)
	}
	if cfg.Health == nil {
		hc := health.Config{HistorySize: cfg.HealthHistory, Logger: logger}
		if a, ok := cfg.Store.(health.Archiver); ok {
			hc.Archiver = a
		}
		cfg.Health = health.NewMonitor(cfg.Store, hc)
	}
	if cfg.Broadcaster == nil {
		cfg.Broadcaster = discard{}
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = DefaultHealthInterval
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:       cfg.Store,
		plans:       cfg.Plans,
		exec:        cfg.Executor,
		builder:     cfg.Builder,
		health:      cfg.Health,
		bus:         cfg.Broadcaster,
		retry:       cfg.Retry,
		interval:    cfg.HealthInterval,
		parallelism: cfg.Parallelism,
		logger:      logger,
		reg:         newRegistry(),
		resources:   scheduler.NewKeyedLocks(),
		now:         time.Now,
		saveBackOff: defaultSaveBackOff,
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Close stops every worker and waits for them to exit. Executions keep the
// status they had; their in-flight tasks return to pending.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// Initialize registers a new pending execution for planID. A plan has at
// most one registered execution at a time.
func (e *Engine) Initialize(ctx context.Context, planID string) (execution.Context, error) {
	if planID == "" {
		return execution.Context{}, errors.New("initialize: plan id is required")
	}
	if _, err := e.plans.WorkItems(ctx, planID); err != nil {
		return execution.Context{}, fmt.Errorf("initialize plan %s: %w", planID, err)
	}

	r, err := e.reg.claim(planID, func() (*run, error) {
		exec := execution.Context{
			ID:     uuid.NewString(),
			PlanID: planID,
			Status: execution.StatusPending,
		}
		if err := e.store.SaveExecution(ctx, exec); err != nil {
			return nil, fmt.Errorf("persist execution: %w", err)
		}
		return newRun(exec), nil
	})
	if err != nil {
		return execution.Context{}, fmt.Errorf("initialize plan %s: %w", planID, err)
	}

	exec := r.snapshot()
	e.logger.Info("execution initialized", "execution", exec.ID, "plan", planID)
	return exec, nil
}

// Start builds the task graph of an initialized execution and launches its
// worker. An invalid graph fails the execution and returns an
// *InvalidGraphError; no task is dispatched.
func (e *Engine) Start(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	r.op.Lock()
	defer r.op.Unlock()

	started := e.now()
	exec, err := e.update(ctx, r, transition(execution.StatusRunning, func(c *execution.Context) {
		c.StartedAt = &started
	}, execution.StatusPending))
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	e.emit(events.ExecutionStarted, events.State{Execution: &exec}, nil, "")

	bg := context.WithoutCancel(ctx)
	items, err := e.plans.WorkItems(ctx, exec.PlanID)
	if err != nil {
		err = fmt.Errorf("load plan %s: %w", exec.PlanID, err)
		e.finish(bg, r, execution.StatusFailed, err.Error())
		return fmt.Errorf("start %s: %w", executionID, err)
	}

	tasks, v := e.builder.Build(executionID, items)
	if !v.Valid {
		gerr := &InvalidGraphError{ExecutionID: executionID, Issues: v.Issues}
		e.logger.Warn("rejected invalid task graph", "execution", executionID, "issues", v.Issues)
		e.finish(bg, r, execution.StatusFailed, gerr.Error())
		return gerr
	}

	order, err := scheduler.TopologicalOrder(tasks)
	if err != nil {
		e.finish(bg, r, execution.StatusFailed, err.Error())
		return fmt.Errorf("start %s: %w", executionID, err)
	}
	if err := e.store.SaveTasks(ctx, tasks); err != nil {
		err = fmt.Errorf("persist tasks: %w", err)
		e.finish(bg, r, execution.StatusFailed, err.Error())
		return fmt.Errorf("start %s: %w", executionID, err)
	}

	positions := make(map[string]int, len(order))
	for i, id := range order {
		positions[id] = i
	}
	r.mu.Lock()
	r.order = positions
	r.mu.Unlock()

	if _, err := e.update(bg, r, func(c *execution.Context) error {
		c.TotalTasks = len(tasks)
		return nil
	}); err != nil {
		e.logger.Error("failed to persist task total", "execution", executionID, "error", err)
	}

	e.logger.Info("execution started", "execution", executionID, "plan", exec.PlanID, "tasks", len(tasks))
	e.launch(r)
	return nil
}

// Pause stops dispatching. The in-flight task is interrupted and returns to
// pending without consuming a retry.
func (e *Engine) Pause(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	r.op.Lock()
	defer r.op.Unlock()

	if _, err := e.update(ctx, r, transition(execution.StatusPaused, nil, execution.StatusRunning)); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	if err := e.halt(ctx, r); err != nil {
		return fmt.Errorf("pause %s: %w", executionID, err)
	}

	e.logger.Info("execution paused", "execution", executionID)
	e.emit(events.ExecutionPaused, e.state(ctx, r), nil, "")
	return nil
}

// Resume restarts a paused execution.
func (e *Engine) Resume(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	r.op.Lock()
	defer r.op.Unlock()

	if st := r.status(); st != execution.StatusPaused {
		return fmt.Errorf("resume: execution %s is %s: %w", executionID, st, ErrInvalidTransition)
	}
	if err := e.waitWorker(ctx, r); err != nil {
		return fmt.Errorf("resume %s: %w", executionID, err)
	}
	if _, err := e.update(ctx, r, transition(execution.StatusRunning, nil, execution.StatusPaused)); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	tasks, err := e.store.Tasks(ctx, executionID)
	if err != nil {
		return fmt.Errorf("resume %s: %w", executionID, err)
	}
	for _, t := range tasks {
		if t.Status != scheduler.TaskAssigned && t.Status != scheduler.TaskInProgress {
			continue
		}
		t.Status = scheduler.TaskPending
		t.AssignedAt = nil
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return fmt.Errorf("resume %s: reset task %s: %w", executionID, t.ID, err)
		}
	}

	e.logger.Info("execution resumed", "execution", executionID)
	e.emit(events.ExecutionResumed, e.state(ctx, r), nil, "")
	e.launch(r)
	return nil
}

// Cancel ends an execution. Its context is cancelled so running executors
// can return, every non-terminal task becomes skipped and the run is
// unregistered. When ctx expires before the worker exits, the remaining
// bookkeeping finishes in the background.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	r, err := e.lookup(ctx, executionID)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	r.op.Lock()
	defer r.op.Unlock()

	now := e.now()
	if _, err := e.update(ctx, r, transition(execution.StatusCancelled, func(c *execution.Context) {
		c.CompletedAt = &now
	})); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}

	bg := context.WithoutCancel(ctx)
	if err := e.halt(ctx, r); err != nil {
		r.mu.Lock()
		worker := r.worker
		r.mu.Unlock()
		go func() {
			<-worker
			e.settleCancelled(bg, r)
		}()
		return fmt.Errorf("cancel %s: %w", executionID, err)
	}
	e.settleCancelled(bg, r)
	return nil
}

// Cleanup unregisters an execution, cancelling it first when it has not
// ended, and drops its in-memory health history. The persisted record stays.
func (e *Engine) Cleanup(ctx context.Context, executionID string) error {
	r := e.reg.get(executionID)
	if r == nil {
		if _, err := e.store.GetExecution(ctx, executionID); err != nil {
			if errors.Is(err, persistence.ErrNotFound) {
				return fmt.Errorf("cleanup %s: %w", executionID, ErrNotInitialized)
			}
			return fmt.Errorf("cleanup %s: %w", executionID, err)
		}
		e.forget(executionID)
		return nil
	}

	if !r.status().Terminal() {
		if err := e.Cancel(ctx, executionID); err != nil && !errors.Is(err, ErrInvalidTransition) {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	e.reg.remove(r)
	e.forget(executionID)
	return nil
}

// Wait blocks until the execution leaves the registry and returns its final
// record. When the final status could not be saved it returns the last saved
// record with an error wrapping ErrNotPersisted.
func (e *Engine) Wait(ctx context.Context, executionID string) (execution.Context, error) {
	if r := e.reg.get(executionID); r != nil {
		r.mu.Lock()
		stalled := r.stalled
		r.mu.Unlock()

		select {
		case <-r.done:
			return r.snapshot(), nil
		case <-stalled:
			select {
			case <-r.done:
				return r.snapshot(), nil
			default:
			}
			r.mu.Lock()
			err := r.stallErr
			r.mu.Unlock()
			if err == nil {
				// Relaunched since; report the current record.
				return r.snapshot(), fmt.Errorf("wait %s: %w", executionID, ErrNotPersisted)
			}
			return r.snapshot(), fmt.Errorf("wait %s: %w", executionID, err)
		case <-ctx.Done():
			return execution.Context{}, ctx.Err()
		}
	}
	exec, err := e.store.GetExecution(ctx, executionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return execution.Context{}, fmt.Errorf("wait %s: %w", executionID, ErrNotInitialized)
	}
	return exec, err
}

// GetStatus returns the execution, its tasks, latest health and metrics.
// Unregistered executions are served from the store.
func (e *Engine) GetStatus(ctx context.Context, executionID string) (events.State, error) {
	var st events.State
	if r := e.reg.get(executionID); r != nil {
		st = e.state(ctx, r)
	} else {
		exec, err := e.stored(ctx, executionID)
		if err != nil {
			return events.State{}, fmt.Errorf("status: %w", err)
		}
		tasks, err := e.store.Tasks(ctx, executionID)
		if err != nil {
			return events.State{}, fmt.Errorf("status %s: %w", executionID, err)
		}
		st = events.State{Execution: &exec, Tasks: tasks, Health: exec.Health}
	}

	m := execution.ComputeMetrics(executionID, st.Tasks, scoreOf(st.Execution.Health))
	st.Metrics = &m
	return st, nil
}

// GetMetrics computes the execution's current metrics.
func (e *Engine) GetMetrics(ctx context.Context, executionID string) (execution.Metrics, error) {
	var exec execution.Context
	if r := e.reg.get(executionID); r != nil {
		exec = r.snapshot()
	} else {
		var err error
		if exec, err = e.stored(ctx, executionID); err != nil {
			return execution.Metrics{}, fmt.Errorf("metrics: %w", err)
		}
	}

	tasks, err := e.store.Tasks(ctx, executionID)
	if err != nil {
		return execution.Metrics{}, fmt.Errorf("metrics %s: %w", executionID, err)
	}
	return execution.ComputeMetrics(executionID, tasks, scoreOf(exec.Health)), nil
}

// Executions returns every persisted execution of a plan.
func (e *Engine) Executions(ctx context.Context, planID string) ([]execution.Context, error) {
	list, err := e.store.ListExecutions(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list executions of %s: %w", planID, err)
	}
	return list, nil
}

// Active returns the registered executions ordered by id.
func (e *Engine) Active() []execution.Context {
	runs := e.reg.runs()
	out := make([]execution.Context, len(runs))
	for i, r := range runs {
		out[i] = r.snapshot()
	}
	return out
}

// lookup finds a registered run. An execution that only exists in the store
// has ended and accepts no further operation.
func (e *Engine) lookup(ctx context.Context, executionID string) (*run, error) {
	if r := e.reg.get(executionID); r != nil {
		return r, nil
	}
	exec, err := e.stored(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("execution %s is %s: %w", executionID, exec.Status, ErrInvalidTransition)
}

func (e *Engine) stored(ctx context.Context, executionID string) (execution.Context, error) {
	exec, err := e.store.GetExecution(ctx, executionID)
	if errors.Is(err, persistence.ErrNotFound) {
		return execution.Context{}, fmt.Errorf("execution %s: %w", executionID, ErrNotInitialized)
	}
	if err != nil {
		return execution.Context{}, fmt.Errorf("load execution %s: %w", executionID, err)
	}
	return exec, nil
}

// update applies fn to a copy of the execution record, persists the copy
// and only then commits it to memory. fn may refuse by returning an error.
func (e *Engine) update(ctx context.Context, r *run, fn func(*execution.Context) error) (execution.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.exec.Clone()
	if err := fn(&next); err != nil {
		return execution.Context{}, err
	}
	if err := e.store.SaveExecution(ctx, next); err != nil {
		return next, fmt.Errorf("persist execution %s: %w", next.ID, err)
	}
	r.exec = next
	return next.Clone(), nil
}

// transition moves the record to next when the lifecycle allows it and, if
// from is given, the current status is one of from.
func transition(next execution.Status, mutate func(*execution.Context), from ...execution.Status) func(*execution.Context) error {
	return func(c *execution.Context) error {
		allowed := c.Status.CanTransition(next)
		if allowed && len(from) > 0 {
			allowed = false
			for _, s := range from {
				if c.Status == s {
					allowed = true
				}
			}
		}
		if !allowed {
			return fmt.Errorf("execution %s: %s -> %s: %w", c.ID, c.Status, next, ErrInvalidTransition)
		}
		c.Status = next
		if mutate != nil {
			mutate(c)
		}
		return nil
	}
}

func (e *Engine) forget(executionID string) {
	if m, ok := e.health.(interface{ History() *health.History }); ok {
		m.History().Forget(executionID)
	}
}

func scoreOf(s *health.Snapshot) *float64 {
	if s == nil {
		return nil
	}
	score := s.Score
	return &score
}
