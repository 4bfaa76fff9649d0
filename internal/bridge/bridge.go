// Package bridge keeps a merged view of remote executions and fans their
// events out to local listeners.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/autopilot/internal/control"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/execution"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/scheduler"
)

// DefaultPollInterval is the status poll period of a link.
const DefaultPollInterval = 10 * time.Second

var errNoControl = errors.New("bridge has no control surface")

// Listener receives events. It runs in the goroutine that delivered the
// event and must not block for long.
type Listener = func(events.BridgeEvent)

// Config wires a Bridge. Every field is optional; a bridge without
// transports or control surface only caches and fans out what it is given.
type Config struct {
	Control      control.Surface // poll target and control operations
	Duplex       Transport       // preferred link
	Push         Transport       // fallback once the duplex link ends
	PollInterval time.Duration   // default 10s; negative disables polling
	Reconnect    ReconnectConfig
	Logger       *slog.Logger
}

type listener struct {
	typ events.BridgeEventType // empty matches every type
	fn  Listener
}

type link struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Bridge merges execution state from its links and delivers events to
// listeners registered per execution.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.RWMutex
	states    map[string]events.State
	listeners map[string]map[int]listener
	links     map[string]*link
	nextID    int
	closed    bool
}

// New creates a Bridge.
func New(cfg Config) *Bridge {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Bridge{
		cfg:       cfg,
		logger:    logging.OrDiscard(cfg.Logger),
		states:    make(map[string]events.State),
		listeners: make(map[string]map[int]listener),
		links:     make(map[string]*link),
	}
}

// Subscribe registers fn for every event of an execution and connects the
// execution's link. The returned function unregisters fn.
func (b *Bridge) Subscribe(executionID string, fn Listener) func() {
	return b.On(executionID, "", fn)
}

// On registers fn for one event type of an execution. An empty type matches
// every event. The returned function unregisters fn.
func (b *Bridge) On(executionID string, typ events.BridgeEventType, fn Listener) func() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.nextID++
	id := b.nextID
	if b.listeners[executionID] == nil {
		b.listeners[executionID] = make(map[int]listener)
	}
	b.listeners[executionID][id] = listener{typ: typ, fn: fn}
	b.mu.Unlock()

	b.Connect(executionID)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[executionID], id)
			if len(b.listeners[executionID]) == 0 {
				delete(b.listeners, executionID)
			}
		})
	}
}

// Connect starts the execution's link if it is not running yet.
func (b *Bridge) Connect(executionID string) {
	if b.cfg.Duplex == nil && b.cfg.Push == nil && (b.cfg.Control == nil || b.cfg.PollInterval < 0) {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.links[executionID] != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &link{cancel: cancel, done: make(chan struct{})}
	b.links[executionID] = l

	go func() {
		defer close(l.done)
		b.runLink(ctx, executionID)
	}()
}

// State returns a copy of the cached state of an execution.
func (b *Bridge) State(executionID string) (events.State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st, ok := b.states[executionID]
	if !ok {
		return events.State{}, false
	}
	return st.Clone(), true
}

// Merge applies a partial state to the cache and returns the result.
func (b *Bridge) Merge(executionID string, patch events.State) events.State {
	b.mu.Lock()
	defer b.mu.Unlock()

	merged := b.states[executionID].Merge(patch.Clone())
	b.states[executionID] = merged
	return merged.Clone()
}

// Broadcast delivers an event to the listeners of its execution, in the
// caller's goroutine. Delivery is best effort: a panicking listener is
// logged and skipped. Events are not replayed to later listeners.
func (b *Bridge) Broadcast(ev events.BridgeEvent) {
	b.mu.RLock()
	var targets []Listener
	for _, l := range b.listeners[ev.ExecutionID] {
		if l.typ == "" || l.typ == ev.Type {
			targets = append(targets, l.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		b.deliver(fn, ev)
	}
}

func (b *Bridge) deliver(fn Listener, ev events.BridgeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge listener panicked", "execution", ev.ExecutionID, "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}

// receive merges an incoming event into the cache and broadcasts it.
func (b *Bridge) receive(ev events.BridgeEvent) {
	patch := ev.Data
	if ev.Task != nil && patch.Tasks == nil {
		patch.Tasks = b.upsertTask(ev.ExecutionID, *ev.Task)
	}
	b.Merge(ev.ExecutionID, patch)
	b.Broadcast(ev)
}

// upsertTask returns the cached task list with task replaced or appended.
func (b *Bridge) upsertTask(executionID string, task scheduler.AgentTask) []scheduler.AgentTask {
	b.mu.RLock()
	tasks := scheduler.CloneTasks(b.states[executionID].Tasks)
	b.mu.RUnlock()

	for i := range tasks {
		if tasks[i].ID == task.ID {
			tasks[i] = task.Clone()
			return tasks
		}
	}
	return append(tasks, task.Clone())
}

// Pause optimistically marks the execution paused and asks the control
// surface to pause it.
func (b *Bridge) Pause(ctx context.Context, executionID string) error {
	if b.cfg.Control == nil {
		return errNoControl
	}
	return b.control(ctx, executionID, execution.StatusPaused, events.ExecutionPaused, "pause", b.cfg.Control.Pause)
}

// Resume optimistically marks the execution running and asks the control
// surface to resume it.
func (b *Bridge) Resume(ctx context.Context, executionID string) error {
	if b.cfg.Control == nil {
		return errNoControl
	}
	return b.control(ctx, executionID, execution.StatusRunning, events.ExecutionResumed, "resume", b.cfg.Control.Resume)
}

// Cancel optimistically marks the execution cancelled and asks the control
// surface to cancel it.
func (b *Bridge) Cancel(ctx context.Context, executionID string) error {
	if b.cfg.Control == nil {
		return errNoControl
	}
	return b.control(ctx, executionID, execution.StatusCancelled, events.ExecutionCancelled, "cancel", b.cfg.Control.Cancel)
}

func (b *Bridge) control(ctx context.Context, executionID string, status execution.Status, typ events.BridgeEventType, op string, call func(context.Context, string) error) error {
	var patch events.State
	if cached, ok := b.State(executionID); ok && cached.Execution != nil {
		exec := cached.Execution.Clone()
		exec.Status = status
		patch.Execution = &exec
	}
	b.Broadcast(events.New(typ, executionID, b.Merge(executionID, patch)))

	err := call(ctx, executionID)
	if err == nil {
		return nil
	}

	b.logger.Warn("control request failed", "execution", executionID, "op", op, "error", err)
	ev := events.New(events.Error, executionID, events.State{})
	ev.Message = err.Error()
	b.Broadcast(ev)
	b.refresh(ctx, executionID)
	return fmt.Errorf("%s %s: %w", op, executionID, err)
}

// refresh replaces the cached state with the control surface's view.
func (b *Bridge) refresh(ctx context.Context, executionID string) {
	st, err := b.cfg.Control.GetStatus(ctx, executionID)
	if err != nil {
		b.logger.Debug("status poll failed", "execution", executionID, "error", err)
		return
	}
	merged := b.Merge(executionID, st)
	b.Broadcast(events.New(events.MetricsUpdate, executionID, merged))
}

// Disconnect tears down the execution's link and drops its cached state and
// listeners. The link has stopped before the state is dropped, so no late
// poll or transport message can bring it back.
func (b *Bridge) Disconnect(executionID string) {
	b.mu.RLock()
	l := b.links[executionID]
	b.mu.RUnlock()

	if l != nil {
		l.cancel()
		<-l.done
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.links[executionID] == l {
		delete(b.links, executionID)
	}
	delete(b.states, executionID)
	delete(b.listeners, executionID)
}

// Close disconnects every execution. The bridge accepts no new listeners
// afterwards.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	ids := make([]string, 0, len(b.links))
	for id := range b.links {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.Disconnect(id)
	}
}

// runLink runs the streaming chain and the status poll side by side until
// ctx ends.
func (b *Bridge) runLink(ctx context.Context, executionID string) {
	var g errgroup.Group
	g.Go(func() error {
		b.stream(ctx, executionID)
		return nil
	})
	if b.cfg.Control != nil && b.cfg.PollInterval > 0 {
		g.Go(func() error {
			b.poll(ctx, executionID)
			return nil
		})
	}
	_ = g.Wait()
}

// stream prefers the duplex transport and falls back to the push transport
// with reconnects once the duplex link ends.
func (b *Bridge) stream(ctx context.Context, executionID string) {
	logger := b.logger.With("execution", executionID)

	if b.cfg.Duplex != nil {
		err := b.cfg.Duplex.Run(ctx, executionID, b.receive)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("duplex link ended, falling back to push", "error", err)
	}
	if b.cfg.Push == nil {
		return
	}

	operation := func() error {
		err := b.cfg.Push.Run(ctx, executionID, b.receive)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err == nil {
			err = errors.New("push link closed")
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("push link lost, reconnecting", "wait", wait, "error", err)
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b.cfg.Reconnect.backOff(), ctx), notify); err != nil && ctx.Err() == nil {
		logger.Error("push link gave up", "error", err)
	}
}

// poll merges the control surface's status view at a low frequency, once
// immediately and then every PollInterval.
func (b *Bridge) poll(ctx context.Context, executionID string) {
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		b.refresh(ctx, executionID)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
