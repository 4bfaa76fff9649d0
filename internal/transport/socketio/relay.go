// Package socketio relays bridge events over socket.io: a server that
// forwards the event bus to per-execution rooms and client transports that
// feed a bridge from it.
package socketio

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	sio "github.com/zishang520/socket.io/v2/socket"

	"github.com/aristath/autopilot/internal/events"
	"github.com/aristath/autopilot/internal/logging"
)

const (
	// Path is where the relay is mounted.
	Path = "/socket.io/"

	// EventName carries one JSON-encoded bridge event.
	EventName = "bridge-event"

	subscribeEvent   = "subscribe"
	unsubscribeEvent = "unsubscribe"
)

// Relay forwards every event published on a bus to the socket.io room of
// its execution. Clients join a room by emitting "subscribe" with the
// execution id.
type Relay struct {
	bus    *events.Bus
	io     *sio.Server
	logger *slog.Logger
}

// NewRelay creates a relay reading from bus.
func NewRelay(bus *events.Bus, logger *slog.Logger) *Relay {
	r := &Relay{
		bus:    bus,
		io:     sio.NewServer(nil, nil),
		logger: logging.OrDiscard(logger).With("component", "relay"),
	}
	r.io.On("connection", func(clients ...any) {
		client := clients[0].(*sio.Socket)
		r.logger.Debug("client connected", "sid", client.Id())

		client.On(subscribeEvent, func(args ...any) {
			if id, ok := executionID(args); ok {
				client.Join(sio.Room(id))
				r.logger.Debug("client subscribed", "sid", client.Id(), "execution", id)
			}
		})
		client.On(unsubscribeEvent, func(args ...any) {
			if id, ok := executionID(args); ok {
				client.Leave(sio.Room(id))
			}
		})
	})
	return r
}

func executionID(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	id, ok := args[0].(string)
	return id, ok && id != ""
}

// Handler serves the socket.io protocol. Mount it at Path.
func (r *Relay) Handler() http.Handler {
	return r.io.ServeHandler(nil)
}

// Run forwards bus events until ctx ends or the bus closes, then closes the
// socket.io server.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.bus.SubscribeAll(events.DefaultBufferSize)
	defer r.bus.Unsubscribe(sub)
	defer r.io.Close(nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			r.forward(ev)
		}
	}
}

func (r *Relay) forward(ev events.BridgeEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("encode bridge event", "execution", ev.ExecutionID, "type", ev.Type, "error", err)
		return
	}
	r.io.To(sio.Room(ev.ExecutionID)).Emit(EventName, string(data))
}
