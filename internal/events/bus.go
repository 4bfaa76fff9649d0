package events

import (
	"sync"
)

// DefaultBufferSize is used when a subscriber asks for a non-positive buffer.
const DefaultBufferSize = 256

// Bus is a channel-based pub-sub bus for bridge events, keyed by execution id.
// SubscribeAll receives events for every execution.
type Bus struct {
	mu      sync.RWMutex
	subs    map[string][]chan BridgeEvent // execution id -> subscriber channels
	allSubs []chan BridgeEvent            // channels subscribed to all executions
	closed  bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan BridgeEvent)}
}

// Subscribe returns a channel receiving events of one execution.
func (b *Bus) Subscribe(executionID string, bufSize int) <-chan BridgeEvent {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subs[executionID] = append(b.subs[executionID], ch)
	return ch
}

// SubscribeAll returns a channel receiving events of every execution.
func (b *Bus) SubscribeAll(bufSize int) <-chan BridgeEvent {
	ch := newChan(bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.allSubs = append(b.allSubs, ch)
	return ch
}

// Unsubscribe removes and closes a channel returned by Subscribe or
// SubscribeAll. Unknown channels are ignored.
func (b *Bus) Unsubscribe(sub <-chan BridgeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for id, chans := range b.subs {
		for i, ch := range chans {
			if ch == sub {
				b.subs[id] = append(chans[:i:i], chans[i+1:]...)
				if len(b.subs[id]) == 0 {
					delete(b.subs, id)
				}
				close(ch)
				return
			}
		}
	}
	for i, ch := range b.allSubs {
		if ch == sub {
			b.allSubs = append(b.allSubs[:i:i], b.allSubs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Publish delivers an event to its execution's subscribers and to every
// SubscribeAll channel. Never blocks: a full channel drops the event.
func (b *Bus) Publish(event BridgeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs[event.ExecutionID] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes the bus and every subscriber channel. Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
}

func newChan(bufSize int) chan BridgeEvent {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return make(chan BridgeEvent, bufSize)
}
