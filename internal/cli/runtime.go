package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aristath/autopilot/internal/backend"
	"github.com/aristath/autopilot/internal/config"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/executor"
	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/orchestrator"
	"github.com/aristath/autopilot/internal/persistence"
	"github.com/aristath/autopilot/internal/plan"
	"github.com/aristath/autopilot/internal/scheduler"
)

// runtime is an in-process engine with its store, bus and subprocesses.
type runtime struct {
	engine *orchestrator.Engine
	bus    *events.Bus
	store  *persistence.SQLiteStore
	procs  *backend.ProcessManager
	logger *slog.Logger
}

// newRuntime wires an engine from cfg, logging through the logger carried by
// ctx. plans overrides the configured plan directory when non-nil.
func newRuntime(ctx context.Context, cfg *config.Config, plans plan.Source) (*runtime, error) {
	logger := logging.FromContext(ctx)

	var (
		store *persistence.SQLiteStore
		err   error
	)
	if cfg.Storage.Path == "" {
		store, err = persistence.NewMemoryStore(ctx)
	} else {
		store, err = persistence.NewSQLiteStore(ctx, cfg.Storage.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	store.SetSnapshotLimit(cfg.Health.HistorySize)

	if plans == nil {
		plans = plan.DirSource{Dir: cfg.Plans.Dir}
	}

	procs := backend.NewProcessManager()
	exec, err := buildExecutor(cfg, procs, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	bus := events.NewBus()
	engine, err := orchestrator.NewEngine(orchestrator.Config{
		Store:       store,
		Plans:       plans,
		Executor:    exec,
		Broadcaster: bus,
		Retry: orchestrator.RetryConfig{
			Enabled:    cfg.Retry.Enabled,
			MaxRetries: cfg.Retry.MaxRetries,
			BaseDelay:  cfg.Retry.BaseDelay.Std(),
		},
		HealthInterval: cfg.Health.Interval.Std(),
		HealthHistory:  cfg.Health.HistorySize,
		Parallelism:    cfg.Dispatch.Parallelism,
		Logger:         logger,
	})
	if err != nil {
		bus.Close()
		store.Close()
		return nil, err
	}

	return &runtime{engine: engine, bus: bus, store: store, procs: procs, logger: logger}, nil
}

// buildExecutor maps every role to its configured executor and guards the
// result with per-role circuit breakers.
func buildExecutor(cfg *config.Config, procs *backend.ProcessManager, sessions executor.SessionStore, logger *slog.Logger) (executor.Executor, error) {
	agents := executor.NewBackend(executor.BackendConfig{
		Roles:     cfg.Backends(),
		Processes: procs,
		Sessions:  sessions,
		Logger:    logger,
	})

	byRole := make(map[scheduler.Role]executor.Executor, len(scheduler.Roles))
	for _, role := range scheduler.Roles {
		rc, ok := cfg.Roles[string(role)]
		if !ok || rc.Executor == config.ExecutorNoop {
			byRole[role] = executor.Noop{}
			continue
		}
		byRole[role] = agents
	}

	set, err := executor.NewSet(byRole)
	if err != nil {
		return nil, err
	}
	return executor.NewGuard(set, executor.BreakerConfig{
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout.Std(),
		HalfOpenRequests:    cfg.Breaker.HalfOpenRequests,
	}, logger), nil
}

// Close stops the engine, then kills any agent subprocess still running.
func (r *runtime) Close() {
	if err := r.procs.KillAll(); err != nil {
		r.logger.Warn("killing subprocesses", "error", err)
	}
	r.engine.Close()
	r.bus.Close()
	if err := r.store.Close(); err != nil {
		r.logger.Warn("closing store", "error", err)
	}
}
