package monitoring

import (
	"testing"
)

func TestEventBusSequenceAndSince(t *testing.T) {
	bus := NewEventBus(3)

	for i := 0; i < 5; i++ {
		bus.Publish(Event{Type: EventCommand, HostID: "h1"})
	}

	all := bus.Since(0)
	if len(all) != 3 {
		t.Fatalf("kept %d events, want 3", len(all))
	}
	if all[0].Seq != 3 || all[2].Seq != 5 {
		t.Fatalf("seqs = %d..%d", all[0].Seq, all[2].Seq)
	}
	if all[0].Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}

	if got := bus.Since(4); len(got) != 1 || got[0].Seq != 5 {
		t.Fatalf("Since(4) = %+v", got)
	}
	if got := bus.Since(5); len(got) != 0 {
		t.Fatalf("Since(latest) = %+v", got)
	}
}

func TestEventBusTypeFilter(t *testing.T) {
	bus := NewEventBus(10)
	sub := bus.Subscribe(4, EventTransition)
	defer sub.Close()

	bus.Publish(Event{Type: EventResult})
	bus.Publish(Event{Type: EventTransition, HostID: "h1"})

	got := drain(sub)
	if len(got) != 1 || got[0].Type != EventTransition {
		t.Fatalf("received %+v", got)
	}
}

func TestEventBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewEventBus(10)
	var hooked int
	bus.OnDrop(func() { hooked++ })

	slow := bus.Subscribe(1)
	fast := bus.Subscribe(10)

	for i := 0; i < 3; i++ {
		bus.Publish(Event{Type: EventCommand})
	}

	if n := len(drain(slow)); n != 1 {
		t.Fatalf("slow subscriber got %d events", n)
	}
	if n := len(drain(fast)); n != 3 {
		t.Fatalf("fast subscriber got %d events", n)
	}
	if bus.Dropped() != 2 || hooked != 2 {
		t.Fatalf("dropped = %d, hook = %d", bus.Dropped(), hooked)
	}
}

func TestQueuedSubscriptionNeverDrops(t *testing.T) {
	bus := NewEventBus(10)
	sub := bus.SubscribeQueued(EventTransition)

	// Nobody reads while these are published.
	for i := 0; i < 200; i++ {
		bus.Publish(Event{Type: EventTransition, HostID: "h1"})
		bus.Publish(Event{Type: EventResult, HostID: "h1"})
	}
	if bus.Dropped() != 0 {
		t.Fatalf("dropped = %d", bus.Dropped())
	}

	var last int64
	for i := 0; i < 200; i++ {
		ev := nextEvent(t, sub)
		if ev.Type != EventTransition || ev.Seq <= last {
			t.Fatalf("event %d = %+v after seq %d", i, ev, last)
		}
		last = ev.Seq
	}

	sub.Close()
	sub.Close()
	for range sub.C {
	}
	if bus.Subscribers() != 0 {
		t.Fatal("subscriber still registered")
	}
}

func TestSubscriptionClose(t *testing.T) {
	bus := NewEventBus(10)
	sub := bus.Subscribe(0)
	if bus.Subscribers() != 1 {
		t.Fatal("subscriber not registered")
	}

	sub.Close()
	sub.Close()

	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed")
	}
	if bus.Subscribers() != 0 {
		t.Fatal("subscriber not removed")
	}

	bus.Publish(Event{Type: EventResult})
}
