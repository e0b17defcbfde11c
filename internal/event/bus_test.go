package event

import (
	"sync"
	"testing"
	"time"
)

func TestSubscribePublishSync(t *testing.T) {
	Reset()

	var received []Event
	unsub := Subscribe(SessionCreated, func(e Event) {
		received = append(received, e)
	})
	defer unsub()

	PublishSync(Event{
		Type: SessionCreated,
		Data: SessionCreatedData{SessionID: "s-1", InitialMessage: "Hi!"},
	})

	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	data, ok := received[0].Data.(SessionCreatedData)
	if !ok {
		t.Fatalf("expected SessionCreatedData, got %T", received[0].Data)
	}
	if data.SessionID != "s-1" {
		t.Errorf("expected sessionID s-1, got %s", data.SessionID)
	}
}

func TestSubscribeDoesNotReceiveOtherTypes(t *testing.T) {
	Reset()

	var count int
	unsub := Subscribe(SessionClosed, func(e Event) { count++ })
	defer unsub()

	PublishSync(Event{Type: SessionCreated, Data: SessionCreatedData{SessionID: "s-1"}})
	PublishSync(Event{Type: MessageSent, Data: MessageSentData{SessionID: "s-1", SequenceID: 7}})

	if count != 0 {
		t.Errorf("expected 0 events, got %d", count)
	}
}

func TestSubscribeAll(t *testing.T) {
	Reset()

	var mu sync.Mutex
	var types []EventType
	unsub := SubscribeAll(func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})
	defer unsub()

	PublishSync(Event{Type: SessionCreated})
	PublishSync(Event{Type: StreamCompleted})
	PublishSync(Event{Type: SessionClosed})

	mu.Lock()
	defer mu.Unlock()
	if len(types) != 3 {
		t.Fatalf("expected 3 events, got %d", len(types))
	}
}

func TestUnsubscribe(t *testing.T) {
	Reset()

	var count int
	unsub := Subscribe(SessionCreated, func(e Event) { count++ })

	PublishSync(Event{Type: SessionCreated})
	unsub()
	PublishSync(Event{Type: SessionCreated})

	if count != 1 {
		t.Errorf("expected 1 event after unsubscribe, got %d", count)
	}
}

func TestPublishAsync(t *testing.T) {
	Reset()

	done := make(chan Event, 1)
	unsub := Subscribe(StreamFailed, func(e Event) {
		done <- e
	})
	defer unsub()

	Publish(Event{Type: StreamFailed, Data: StreamFailedData{SessionID: "s-2", Reason: "upstream closed"}})

	select {
	case e := <-done:
		if e.Type != StreamFailed {
			t.Errorf("expected StreamFailed, got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async event")
	}
}

func TestClosedBusDropsEvents(t *testing.T) {
	bus := NewBus()

	var count int
	bus.Subscribe(SessionCreated, func(e Event) { count++ })

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	bus.PublishSync(Event{Type: SessionCreated})
	if count != 0 {
		t.Errorf("expected no events after close, got %d", count)
	}

	// Subscribing after close is a no-op.
	unsub := bus.Subscribe(SessionCreated, func(e Event) { count++ })
	unsub()
}
