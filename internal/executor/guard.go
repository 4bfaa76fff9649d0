package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/autopilot/internal/logging"
	"github.com/aristath/autopilot/internal/scheduler"
)

// BreakerConfig tunes the per-role circuit breakers.
type BreakerConfig struct {
	ConsecutiveFailures uint32        // failures that open the breaker (default 5)
	OpenTimeout         time.Duration // time spent open before probing (default 30s)
	HalfOpenRequests    uint32        // trial requests allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		ConsecutiveFailures: 5,
		OpenTimeout:         30 * time.Second,
		HalfOpenRequests:    3,
	}
}

// Guard wraps an executor with one circuit breaker per role. While a
// role's breaker is open its tasks fail immediately with a permanent error.
type Guard struct {
	inner  Executor
	cfg    BreakerConfig
	logger *slog.Logger

	mu       sync.Mutex
	breakers map[scheduler.Role]*gobreaker.CircuitBreaker
}

// NewGuard wraps inner.
func NewGuard(inner Executor, cfg BreakerConfig, logger *slog.Logger) *Guard {
	def := DefaultBreakerConfig()
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	return &Guard{
		inner:    inner,
		cfg:      cfg,
		logger:   logging.OrDiscard(logger),
		breakers: make(map[scheduler.Role]*gobreaker.CircuitBreaker),
	}
}

// Execute runs the task through its role's breaker.
func (g *Guard) Execute(ctx context.Context, task scheduler.AgentTask) (Result, error) {
	out, err := g.breaker(task.Role).Execute(func() (interface{}, error) {
		return g.inner.Execute(ctx, task)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, Permanent(err)
		}
		return nil, err
	}
	res, _ := out.(Result)
	return res, nil
}

// State reports the breaker state of a role.
func (g *Guard) State(role scheduler.Role) gobreaker.State {
	return g.breaker(role).State()
}

func (g *Guard) breaker(role scheduler.Role) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[role]; ok {
		return cb
	}

	threshold := g.cfg.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(role),
		MaxRequests: g.cfg.HalfOpenRequests,
		Interval:    0, // never clear counts while closed
		Timeout:     g.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			g.logger.Warn("circuit breaker state changed", "role", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation by pause or cancel says nothing about executor health
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	g.breakers[role] = cb
	return cb
}
