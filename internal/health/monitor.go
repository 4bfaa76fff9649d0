package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/scheduler"
)

// DefaultHistorySize bounds the in-memory snapshot log per execution.
const DefaultHistorySize = 100

// TaskReader loads the current task list of an execution.
type TaskReader interface {
	Tasks(ctx context.Context, executionID string) ([]scheduler.AgentTask, error)
}

// Archiver persists snapshots. Archive failures never fail a check.
type Archiver interface {
	SaveHealthSnapshot(ctx context.Context, s Snapshot) error
}

// Config configures a Monitor.
type Config struct {
	HistorySize int          // per-execution bound (default 100)
	Archiver    Archiver     // optional durable sink
	Logger      *slog.Logger // optional
}

// Monitor evaluates executions and keeps their recent history.
type Monitor struct {
	reader   TaskReader
	archiver Archiver
	history  *History
	logger   *slog.Logger
	now      func() time.Time
}

// NewMonitor creates a Monitor reading tasks through reader.
func NewMonitor(reader TaskReader, cfg Config) *Monitor {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Monitor{
		reader:   reader,
		archiver: cfg.Archiver,
		history:  NewHistory(cfg.HistorySize),
		logger:   logging.OrDiscard(cfg.Logger),
		now:      time.Now,
	}
}

// Check evaluates the execution's current tasks, records the snapshot in
// history and hands it to the archiver.
func (m *Monitor) Check(ctx context.Context, executionID string) (Snapshot, error) {
	tasks, err := m.reader.Tasks(ctx, executionID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read tasks for health check: %w", err)
	}

	s := Evaluate(tasks, m.now())
	s.ExecutionID = executionID
	m.history.Append(s)

	if m.archiver != nil {
		if err := m.archiver.SaveHealthSnapshot(ctx, s); err != nil {
			m.logger.Warn("failed to archive health snapshot", "execution", executionID, "error", err)
		}
	}
	return s, nil
}

// History returns the monitor's snapshot log.
func (m *Monitor) History() *History {
	return m.history
}

// History is a bounded, per-execution log of snapshots, oldest first.
type History struct {
	mu    sync.RWMutex
	limit int
	logs  map[string][]Snapshot
}

// NewHistory creates a log keeping at most limit snapshots per execution.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistorySize
	}
	return &History{limit: limit, logs: make(map[string][]Snapshot)}
}

// Append records s under its execution id, evicting the oldest entry when full.
func (h *History) Append(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	log := append(h.logs[s.ExecutionID], s)
	if len(log) > h.limit {
		log = append([]Snapshot(nil), log[len(log)-h.limit:]...)
	}
	h.logs[s.ExecutionID] = log
}

// Latest returns the most recent snapshot of an execution.
func (h *History) Latest(executionID string) (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	log := h.logs[executionID]
	if len(log) == 0 {
		return Snapshot{}, false
	}
	return log[len(log)-1], true
}

// Since returns snapshots of an execution taken at or after t.
func (h *History) Since(executionID string, t time.Time) []Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Snapshot
	for _, s := range h.logs[executionID] {
		if !s.Timestamp.Before(t) {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of snapshots kept for an execution.
func (h *History) Len(executionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.logs[executionID])
}

// Forget drops an execution's log.
func (h *History) Forget(executionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.logs, executionID)
}

// Sampler calls a function on a fixed interval until stopped.
type Sampler struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartSampler runs fn every interval in its own goroutine. The sampler
// ends when ctx is cancelled or Stop is called.
func StartSampler(ctx context.Context, interval time.Duration, fn func(context.Context)) *Sampler {
	ctx, cancel := context.WithCancel(ctx)
	s := &Sampler{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
	return s
}

// Stop halts sampling and waits for an in-flight call to return.
// Safe to call more than once and on a nil Sampler.
func (s *Sampler) Stop() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
	<-s.done
}
