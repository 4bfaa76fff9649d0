package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/aristath/autopilot/internal/bridge"
	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/logging"
)

// DefaultConnectTimeout bounds the socket.io handshake.
const DefaultConnectTimeout = 15 * time.Second

// ErrClosed is returned by Run when the server ends the session.
var ErrClosed = errors.New("socket.io session closed")

// Client is a bridge.Transport reading the relay of a remote server.
type Client struct {
	url            *url.URL
	polling        bool
	connectTimeout time.Duration
	logger         *slog.Logger
}

var _ bridge.Transport = (*Client)(nil)

// NewDuplex returns a transport speaking socket.io over WebSocket. baseURL is
// the server's address, e.g. http://127.0.0.1:7420.
func NewDuplex(baseURL string, logger *slog.Logger) (*Client, error) {
	return newClient(baseURL, false, logger)
}

// NewPush returns a transport restricted to HTTP long-polling. The server
// pushes events; nothing is sent back but the subscription.
func NewPush(baseURL string, logger *slog.Logger) (*Client, error) {
	return newClient(baseURL, true, logger)
}

func newClient(baseURL string, polling bool, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse relay url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("relay url %q needs a scheme and host", baseURL)
	}
	kind := "duplex"
	if polling {
		kind = "push"
	}
	return &Client{
		url:            u,
		polling:        polling,
		connectTimeout: DefaultConnectTimeout,
		logger:         logging.OrDiscard(logger).With("transport", kind, "url", u.Host),
	}, nil
}

// Run implements bridge.Transport. It connects, subscribes to executionID
// and hands every relayed event to handle until ctx ends or the session
// drops.
func (c *Client) Run(ctx context.Context, executionID string, handle func(events.BridgeEvent)) error {
	io, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer io.Disconnect()

	logger := c.logger.With("sid", io.Id(), "execution", executionID)
	closed := make(chan string, 1)

	io.On(types.EventName(EventName), func(args ...any) {
		if len(args) == 0 {
			return
		}
		ev, err := decodeEvent(args[0])
		if err != nil {
			logger.Warn("dropping malformed event", "error", err)
			return
		}
		if ev.ExecutionID != executionID {
			return
		}
		handle(ev)
	})
	io.Once(types.EventName("disconnect"), func(args ...any) {
		reason := "unknown"
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		select {
		case closed <- reason:
		default:
		}
	})

	io.Emit(subscribeEvent, executionID)
	logger.Debug("subscribed")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case reason := <-closed:
		return fmt.Errorf("%w: %s", ErrClosed, reason)
	}
}

func (c *Client) connect(ctx context.Context) (*socket.Socket, error) {
	opts := socket.DefaultOptions()
	opts.SetPath(Path)
	opts.SetReconnection(false)
	if c.polling {
		opts.SetTransports(types.NewSet(transports.Polling))
	} else {
		opts.SetTransports(types.NewSet(transports.WebSocket))
	}

	base := fmt.Sprintf("%s://%s", c.url.Scheme, c.url.Host)
	io := socket.NewManager(base, opts).Socket("/", opts)

	connected := make(chan error, 1)
	report := func(err error) {
		select {
		case connected <- err:
		default:
		}
	}
	io.Once(types.EventName("connect"), func(...any) {
		report(nil)
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		report(err)
	})
	io.Connect()

	select {
	case err := <-connected:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connect: %w", err)
		}
		return io, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, ctx.Err()
	case <-time.After(c.connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("socket.io connect: timed out after %s", c.connectTimeout)
	}
}

// decodeEvent accepts the relay's JSON string and, for other servers, raw
// bytes or an already-decoded object.
func decodeEvent(payload any) (events.BridgeEvent, error) {
	var raw []byte
	switch v := payload.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return events.BridgeEvent{}, err
		}
		raw = b
	}

	var ev events.BridgeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return events.BridgeEvent{}, err
	}
	if ev.ExecutionID == "" {
		return events.BridgeEvent{}, errors.New("event without execution id")
	}
	return ev, nil
}
