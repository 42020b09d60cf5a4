package monitoring

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType classifies messages published by the engine.
type EventType string

const (
	EventCommand    EventType = "command"
	EventResult     EventType = "result"
	EventTransition EventType = "transition"
)

// Event is a sequenced payload delivered to subscribers.
type Event struct {
	Seq        int64             `json:"seq"`
	Timestamp  time.Time         `json:"timestamp"`
	Type       EventType         `json:"type"`
	HostID     string            `json:"host_id"`
	Command    string            `json:"command,omitempty"`
	Result     *CheckResult      `json:"result,omitempty"`
	Transition *StatusTransition `json:"transition,omitempty"`
}

// Subscription receives events on C until Close is called.
type Subscription struct {
	C <-chan Event

	id    int
	ch    chan Event
	types map[EventType]bool
	bus   *EventBus

	// Queued subscriptions only.
	qmu     sync.Mutex
	pending []Event
	wake    chan struct{}
	done    chan struct{}
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || s.types[t]
}

// Close detaches the subscription and closes C. Safe to call twice.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

func (s *Subscription) queued() bool {
	return s.done != nil
}

func (s *Subscription) enqueue(event Event) {
	s.qmu.Lock()
	s.pending = append(s.pending, event)
	s.qmu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump moves queued events onto C in publish order.
func (s *Subscription) pump() {
	defer close(s.ch)
	for {
		s.qmu.Lock()
		batch := s.pending
		s.pending = nil
		s.qmu.Unlock()

		for _, event := range batch {
			select {
			case s.ch <- event:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// EventBus keeps a bounded history of recent events and fans new ones out to
// subscribers. Delivery never blocks the publisher: a subscriber whose buffer
// is full misses the event, unless it subscribed with SubscribeQueued.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	nextSubID int
	maxEvents int
	events    []Event
	subs      map[int]*Subscription

	dropped atomic.Int64
	onDrop  func()
}

// NewEventBus creates a bus remembering at most maxEvents events.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]*Subscription),
	}
}

// Publish assigns sequence and timestamp, records the event and delivers it.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, sub := range b.subs {
		if !sub.wants(event.Type) {
			continue
		}
		if sub.queued() {
			sub.enqueue(event)
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop()
			}
		}
	}

	return event
}

// Subscribe registers a subscriber for the given types (all types when none given).
func (b *EventBus) Subscribe(buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, bus: b, types: typeSet(types)}

	b.register(sub)
	return sub
}

// SubscribeQueued registers a subscriber that never misses an event: events
// wait in an unbounded queue until the reader takes them from C.
func (b *EventBus) SubscribeQueued(types ...EventType) *Subscription {
	ch := make(chan Event)
	sub := &Subscription{
		C:     ch,
		ch:    ch,
		bus:   b,
		types: typeSet(types),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	b.register(sub)
	go sub.pump()
	return sub
}

func typeSet(types []EventType) map[EventType]bool {
	if len(types) == 0 {
		return nil
	}
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}

func (b *EventBus) register(sub *Subscription) {
	b.mu.Lock()
	b.nextSubID++
	sub.id = b.nextSubID
	b.subs[sub.id] = sub
	b.mu.Unlock()
}

func (b *EventBus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		if sub.queued() {
			close(sub.done)
		} else {
			close(sub.ch)
		}
	}
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// OnDrop installs a hook called for every skipped delivery.
func (b *EventBus) OnDrop(fn func()) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Dropped reports how many deliveries were skipped because a subscriber lagged.
func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
