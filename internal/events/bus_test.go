package events

import "testing"

func TestBusRoutesByType(t *testing.T) {
	bus := NewBus()

	var roomEvents, allEvents []Event
	unsubscribe := bus.On(EventRoomState, func(e Event) {
		roomEvents = append(roomEvents, e)
	})
	bus.OnAll(func(e Event) {
		allEvents = append(allEvents, e)
	})

	bus.Emit(Event{Type: EventRoomState, Data: "a"})
	bus.Emit(Event{Type: EventTopology, Data: "b"})

	if len(roomEvents) != 1 || roomEvents[0].Data != "a" {
		t.Fatalf("unexpected room events: %+v", roomEvents)
	}
	if len(allEvents) != 2 {
		t.Fatalf("expected the catch-all handler to see both events, got %d", len(allEvents))
	}

	unsubscribe()
	bus.Emit(Event{Type: EventRoomState, Data: "c"})
	if len(roomEvents) != 1 {
		t.Fatalf("unsubscribed handler still called")
	}
	if len(allEvents) != 3 {
		t.Fatalf("expected the catch-all handler to keep receiving, got %d", len(allEvents))
	}
}

func TestBusRecoversHandlerPanic(t *testing.T) {
	bus := NewBus()

	bus.On(EventCommand, func(Event) {
		panic("boom")
	})
	var called bool
	bus.OnAll(func(Event) {
		called = true
	})

	bus.Emit(Event{Type: EventCommand})
	if !called {
		t.Fatalf("handler after a panicking one was not called")
	}
}
