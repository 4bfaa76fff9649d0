package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/autopilot/internal/events"
)

// Transport delivers the events of one execution to handle until ctx ends
// or the link fails. A nil return with ctx still live means the remote end
// closed the link.
type Transport interface {
	Run(ctx context.Context, executionID string, handle func(events.BridgeEvent)) error
}

// ReconnectMode selects the push transport's reconnect delay policy.
type ReconnectMode string

const (
	ReconnectExponential ReconnectMode = "exponential"
	ReconnectFixed       ReconnectMode = "fixed"
)

// ReconnectConfig configures push transport reconnects.
type ReconnectConfig struct {
	Mode    ReconnectMode
	Initial time.Duration // first delay, and every delay in fixed mode (default 500ms)
	Max     time.Duration // exponential ceiling (default 30s)
}

func (c ReconnectConfig) backOff() backoff.BackOff {
	if c.Initial <= 0 {
		c.Initial = 500 * time.Millisecond
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Mode == ReconnectFixed {
		return backoff.NewConstantBackOff(c.Initial)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.Initial
	eb.MaxInterval = c.Max
	eb.MaxElapsedTime = 0 // reconnect until the link is torn down
	return eb
}

// BusTransport feeds a bridge from an in-process event bus.
type BusTransport struct {
	Bus    *events.Bus
	Buffer int // subscription buffer (default events.DefaultBufferSize)
}

// Run implements Transport.
func (t BusTransport) Run(ctx context.Context, executionID string, handle func(events.BridgeEvent)) error {
	size := t.Buffer
	if size <= 0 {
		size = events.DefaultBufferSize
	}
	ch := t.Bus.Subscribe(executionID, size)
	defer t.Bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return errors.New("event bus closed")
			}
			handle(ev)
		}
	}
}
