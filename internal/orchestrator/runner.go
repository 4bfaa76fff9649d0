package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/health"
	"github.com/aristath/autopilot/internal/scheduler"
)

var errNotRunning = errors.New("execution is not running")

// finalSaveRetries bounds the extra attempts at saving a terminal status.
const finalSaveRetries = 4

func defaultSaveBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

// launch starts the run's worker and health sampler. The caller holds r.op.
func (e *Engine) launch(r *run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.exec.Status != execution.StatusRunning || e.ctx.Err() != nil {
		return
	}

	if r.stallErr != nil {
		r.stallErr = nil
		r.stalled = make(chan struct{})
	}

	ctx, cancel := context.WithCancel(e.ctx)
	worker := make(chan struct{})
	r.cancel = cancel
	r.worker = worker
	r.sampler = health.StartSampler(ctx, e.interval, func(ctx context.Context) {
		e.sampleHealth(ctx, r)
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(worker)
		defer cancel()
		e.processQueue(ctx, r)
	}()
}

// halt stops the sampler, cancels the worker and waits for it to exit.
func (e *Engine) halt(ctx context.Context, r *run) error {
	r.mu.Lock()
	sampler, cancel := r.sampler, r.cancel
	r.sampler, r.cancel = nil, nil
	r.mu.Unlock()

	sampler.Stop()
	if cancel != nil {
		cancel()
	}
	return e.waitWorker(ctx, r)
}

func (e *Engine) waitWorker(ctx context.Context, r *run) error {
	r.mu.Lock()
	worker := r.worker
	r.mu.Unlock()

	if worker == nil {
		return nil
	}
	select {
	case <-worker:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for worker: %w", ctx.Err())
	}
}

// processQueue is the single worker loop of an execution. Each pass skips
// tasks that can no longer run and dispatches every ready task; passes
// repeat until nothing is left to dispatch.
func (e *Engine) processQueue(ctx context.Context, r *run) {
	logger := e.logger.With("execution", r.id)
	bg := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}

		tasks, err := e.store.Tasks(ctx, r.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.finish(bg, r, execution.StatusFailed, fmt.Sprintf("read tasks: %v", err))
			return
		}

		skipped, err := e.skipBlocked(bg, r, tasks)
		if err != nil {
			e.finish(bg, r, execution.StatusFailed, err.Error())
			return
		}
		if skipped > 0 {
			continue
		}

		ready := e.prioritize(r, scheduler.Ready(tasks))
		if len(ready) == 0 {
			if allTerminal(tasks) {
				e.finish(bg, r, execution.StatusCompleted, "")
			} else {
				e.finish(bg, r, execution.StatusFailed, "no task can make progress")
			}
			return
		}

		if err := e.dispatchAll(ctx, r, ready); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("dispatch failed", "error", err)
			e.finish(bg, r, execution.StatusFailed, err.Error())
			return
		}
	}
}

// prioritize orders ready tasks high priority first, then by topological
// position.
func (e *Engine) prioritize(r *run, ready []scheduler.AgentTask) []scheduler.AgentTask {
	r.mu.Lock()
	order := r.order
	r.mu.Unlock()

	sort.SliceStable(ready, func(i, j int) bool {
		pi, pj := ready[i].Priority.Rank(), ready[j].Priority.Rank()
		if pi != pj {
			return pi > pj
		}
		return order[ready[i].ID] < order[ready[j].ID]
	})
	return ready
}

// skipBlocked marks pending tasks behind a failed or skipped dependency as
// skipped and returns how many it marked.
func (e *Engine) skipBlocked(ctx context.Context, r *run, tasks []scheduler.AgentTask) (int, error) {
	blocked := scheduler.Blocked(tasks)
	if len(blocked) == 0 {
		return 0, nil
	}

	status := make(map[string]scheduler.TaskStatus, len(tasks))
	for _, t := range tasks {
		status[t.ID] = t.Status
	}

	n := 0
	for _, t := range tasks {
		dep, ok := blocked[t.ID]
		if !ok {
			continue
		}
		t.Status = scheduler.TaskSkipped
		t.Error = fmt.Sprintf("dependency %s ended %s", dep, status[dep])
		if err := e.store.UpdateTask(ctx, t); err != nil {
			return n, fmt.Errorf("skip task %s: %w", t.ID, err)
		}
		n++

		e.logger.Info("task skipped", "execution", r.id, "task", t.ID, "dependency", dep)
		task := t
		e.emit(events.TaskProgress, e.state(ctx, r), &task, "skipped: "+t.Error)
	}
	return n, nil
}

// dispatchAll runs one pass's ready set, one task at a time or through a
// bounded group when parallelism allows.
func (e *Engine) dispatchAll(ctx context.Context, r *run, ready []scheduler.AgentTask) error {
	if e.parallelism <= 1 {
		for _, t := range ready {
			if err := e.dispatch(ctx, r, t.ID); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for _, t := range ready {
		id := t.ID
		g.Go(func() error {
			return e.dispatch(ctx, r, id)
		})
	}
	return g.Wait()
}

// dispatch drives one task from pending to a terminal status. It returns an
// error only when the run was interrupted or a state change could not be
// persisted; task failures are recorded on the task.
func (e *Engine) dispatch(ctx context.Context, r *run, taskID string) error {
	logger := e.logger.With("execution", r.id, "task", taskID)
	bg := context.WithoutCancel(ctx)

	task, err := e.store.GetTask(bg, taskID)
	if err != nil {
		return fmt.Errorf("reload task %s: %w", taskID, err)
	}
	if task.Status != scheduler.TaskPending {
		logger.Debug("task no longer pending, not dispatching", "status", task.Status)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	e.resources.LockAll(task.Resources)
	defer e.resources.UnlockAll(task.Resources)

	assigned := e.now()
	task.Status = scheduler.TaskAssigned
	task.AssignedAt = &assigned
	if err := e.store.UpdateTask(bg, task); err != nil {
		return fmt.Errorf("assign task %s: %w", taskID, err)
	}
	e.emitTask(bg, events.TaskAssigned, r, task, "")

	task.Status = scheduler.TaskInProgress
	if err := e.store.UpdateTask(bg, task); err != nil {
		return fmt.Errorf("start task %s: %w", taskID, err)
	}
	e.emitTask(bg, events.TaskProgress, r, task, "")

	remaining := task.MaxRetries - task.RetryCount
	result, err := executeWithRetry(ctx, e.exec, func() scheduler.AgentTask { return task.Clone() }, remaining, e.retry,
		func(err error, wait time.Duration) {
			task.RetryCount++
			task.Error = err.Error()
			if uerr := e.store.UpdateTask(bg, task); uerr != nil {
				logger.Warn("failed to persist retry", "error", uerr)
			}
			logger.Warn("task attempt failed, retrying", "attempt", task.RetryCount, "wait", wait, "error", err)
			e.emitTask(bg, events.TaskProgress, r, task, err.Error())
		})

	if err != nil && ctx.Err() != nil {
		return e.interrupt(bg, r, task)
	}

	done := e.now()
	task.CompletedAt = &done
	if err != nil {
		task.Status = scheduler.TaskFailed
		task.Error = err.Error()
	} else {
		task.Status = scheduler.TaskCompleted
		task.Result = result
		task.Error = ""
	}
	if uerr := e.store.UpdateTask(bg, task); uerr != nil {
		return fmt.Errorf("record task %s: %w", taskID, uerr)
	}

	if _, uerr := e.update(bg, r, func(c *execution.Context) error {
		if err != nil {
			c.FailedTasks++
		} else {
			c.CompletedTasks++
		}
		return nil
	}); uerr != nil {
		logger.Warn("failed to persist task counters", "error", uerr)
	}

	if err != nil {
		logger.Warn("task failed", "retries", task.RetryCount, "error", err)
		e.emitTask(bg, events.TaskFailed, r, task, err.Error())
	} else {
		logger.Info("task completed", "retries", task.RetryCount)
		e.emitTask(bg, events.TaskCompleted, r, task, "")
	}
	e.emitMetrics(bg, r)
	return nil
}

// interrupt returns a task whose attempt was cut short to pending. The
// interrupted attempt does not count against its retries.
func (e *Engine) interrupt(ctx context.Context, r *run, task scheduler.AgentTask) error {
	task.Status = scheduler.TaskPending
	task.AssignedAt = nil
	if err := e.store.UpdateTask(ctx, task); err != nil {
		e.logger.Warn("failed to revert interrupted task", "execution", r.id, "task", task.ID, "error", err)
	}
	e.logger.Info("task interrupted", "execution", r.id, "task", task.ID)
	return fmt.Errorf("task %s interrupted: %w", task.ID, context.Canceled)
}

// finish moves the run to a terminal status, records the final tally and
// health, emits the closing event and unregisters the run. It does nothing
// when another operation already moved the run on.
func (e *Engine) finish(ctx context.Context, r *run, status execution.Status, reason string) {
	logger := e.logger.With("execution", r.id)

	tasks, terr := e.store.Tasks(ctx, r.id)
	if terr != nil {
		logger.Warn("failed to read tasks for final tally", "error", terr)
	}
	snap, herr := e.health.Check(ctx, r.id)
	if herr != nil {
		logger.Warn("final health check failed", "error", herr)
	}

	now := e.now()
	exec, err := e.saveFinal(ctx, r, transition(status, func(c *execution.Context) {
		c.CompletedAt = &now
		if terr == nil {
			c.Tally(tasks)
		}
		if herr == nil {
			c.Health = &snap
		}
	}))
	if errors.Is(err, ErrInvalidTransition) {
		logger.Debug("execution already moved on", "target", status, "error", err)
		return
	}

	r.mu.Lock()
	sampler := r.sampler
	r.sampler = nil
	r.mu.Unlock()
	sampler.Stop()

	if err != nil {
		// Memory keeps the last saved status; the run stays registered so it
		// can be cancelled or cleaned up once the store recovers.
		logger.Error("failed to persist final execution state", "status", status, "error", err)
		last := r.snapshot()
		e.emit(events.Error, events.State{Execution: &last, Tasks: tasks}, nil, err.Error())
		r.stall(fmt.Errorf("%s: %w: %w", status, ErrNotPersisted, err))
		return
	}

	st := events.State{Execution: &exec, Health: exec.Health}
	if terr == nil {
		st.Tasks = tasks
	}
	if status == execution.StatusCompleted {
		logger.Info("execution completed", "completed", exec.CompletedTasks, "failed", exec.FailedTasks)
		e.emit(events.ExecutionCompleted, st, nil, "")
	} else {
		logger.Warn("execution failed", "reason", reason)
		e.emit(events.Error, st, nil, reason)
	}
	e.reg.remove(r)
}

// saveFinal applies a terminal transition, retrying the save with a bounded
// backoff. A refused transition is returned at once.
func (e *Engine) saveFinal(ctx context.Context, r *run, fn func(*execution.Context) error) (execution.Context, error) {
	var exec execution.Context
	operation := func() error {
		var err error
		exec, err = e.update(ctx, r, fn)
		if errors.Is(err, ErrInvalidTransition) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		e.logger.Warn("retrying final status save", "execution", r.id, "wait", wait, "error", err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(e.saveBackOff(), finalSaveRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return execution.Context{}, err
	}
	return exec, nil
}

// settleCancelled skips every task that has not ended, records the final
// tally and unregisters the run.
func (e *Engine) settleCancelled(ctx context.Context, r *run) {
	logger := e.logger.With("execution", r.id)

	tasks, err := e.store.Tasks(ctx, r.id)
	if err != nil {
		logger.Warn("failed to read tasks after cancel", "error", err)
	}
	for i := range tasks {
		if tasks[i].Status.Terminal() {
			continue
		}
		tasks[i].Status = scheduler.TaskSkipped
		tasks[i].AssignedAt = nil
		tasks[i].Error = "execution cancelled"
		if err := e.store.UpdateTask(ctx, tasks[i]); err != nil {
			logger.Warn("failed to skip task", "task", tasks[i].ID, "error", err)
		}
	}

	exec, err := e.update(ctx, r, func(c *execution.Context) error {
		if tasks != nil {
			c.Tally(tasks)
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to persist cancelled execution", "error", err)
		exec = r.snapshot()
	}

	logger.Info("execution cancelled", "completed", exec.CompletedTasks, "failed", exec.FailedTasks)
	e.emit(events.ExecutionCancelled, events.State{Execution: &exec, Tasks: tasks, Health: exec.Health}, nil, "")
	e.reg.remove(r)
}

// sampleHealth records a health snapshot on a running execution.
func (e *Engine) sampleHealth(ctx context.Context, r *run) {
	snap, err := e.health.Check(ctx, r.id)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("health check failed", "execution", r.id, "error", err)
		}
		return
	}

	exec, err := e.update(context.WithoutCancel(ctx), r, func(c *execution.Context) error {
		if c.Status != execution.StatusRunning {
			return errNotRunning
		}
		c.Health = &snap
		return nil
	})
	if err != nil {
		if !errors.Is(err, errNotRunning) {
			e.logger.Warn("failed to persist health snapshot", "execution", r.id, "error", err)
		}
		return
	}
	e.emit(events.HealthUpdate, events.State{Execution: &exec, Health: &snap}, nil, "")
}

// state is the full view of a registered run: record, tasks and health.
func (e *Engine) state(ctx context.Context, r *run) events.State {
	exec := r.snapshot()
	st := events.State{Execution: &exec, Health: exec.Health}
	tasks, err := e.store.Tasks(context.WithoutCancel(ctx), r.id)
	if err != nil {
		e.logger.Warn("failed to read tasks", "execution", r.id, "error", err)
		return st
	}
	st.Tasks = tasks
	return st
}

func (e *Engine) emitTask(ctx context.Context, typ events.BridgeEventType, r *run, task scheduler.AgentTask, msg string) {
	t := task.Clone()
	e.emit(typ, e.state(ctx, r), &t, msg)
}

func (e *Engine) emitMetrics(ctx context.Context, r *run) {
	st := e.state(ctx, r)
	m := execution.ComputeMetrics(r.id, st.Tasks, scoreOf(st.Health))
	st.Metrics = &m
	e.emit(events.MetricsUpdate, st, nil, "")
}

func (e *Engine) emit(typ events.BridgeEventType, st events.State, task *scheduler.AgentTask, msg string) {
	var id string
	if st.Execution != nil {
		id = st.Execution.ID
	}
	ev := events.New(typ, id, st)
	ev.Task = task
	ev.Message = msg
	e.bus.Publish(ev)
}

func allTerminal(tasks []scheduler.AgentTask) bool {
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}
