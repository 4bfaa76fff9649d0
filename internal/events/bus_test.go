package events

import (
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan BridgeEvent) BridgeEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	return BridgeEvent{}
}

// TestPublishSubscribe verifies delivery to the execution's subscribers only.
func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	mine := bus.Subscribe("exec-1", 10)
	other := bus.Subscribe("exec-2", 10)

	bus.Publish(New(TaskAssigned, "exec-1", State{}))

	if ev := recv(t, mine); ev.Type != TaskAssigned || ev.ExecutionID != "exec-1" {
		t.Errorf("unexpected event %+v", ev)
	}
	select {
	case ev := <-other:
		t.Errorf("exec-2 subscriber received %+v", ev)
	default:
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	all := bus.SubscribeAll(10)
	bus.Publish(New(ExecutionStarted, "a", State{}))
	bus.Publish(New(ExecutionStarted, "b", State{}))

	if recv(t, all).ExecutionID != "a" || recv(t, all).ExecutionID != "b" {
		t.Error("SubscribeAll did not receive events in publish order")
	}
}

// TestNonBlockingSend verifies that publishing doesn't block when channels are full.
func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("exec-1", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(New(TaskProgress, "exec-1", State{}))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full channel")
	}
	if len(ch) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(ch))
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe("exec-1", 10)
	all := bus.SubscribeAll(10)
	bus.Unsubscribe(ch)
	bus.Unsubscribe(all)

	if _, ok := <-ch; ok {
		t.Error("unsubscribed channel not closed")
	}
	if _, ok := <-all; ok {
		t.Error("unsubscribed all-channel not closed")
	}

	// Publishing afterwards must not panic on the closed channels
	bus.Publish(New(TaskProgress, "exec-1", State{}))
	bus.Unsubscribe(ch)
}

// TestCloseIdempotent verifies Close closes subscribers and can be repeated.
func TestCloseIdempotent(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe("exec-1", 10)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("channel still open after Close")
	}
	if _, ok := <-bus.Subscribe("exec-1", 1); ok {
		t.Error("Subscribe after Close returned an open channel")
	}
	bus.Publish(New(Error, "exec-1", State{}))
}
