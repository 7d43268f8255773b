package engine

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DaniloDobras/ois/logger"
)

type EventType int

type SubscriberID int

type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

type subscriber struct {
	id     SubscriberID
	fn     func(Event)
	filter map[EventType]struct{}
}

func (s subscriber) wants(t EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// EventBus fans events out to in-process subscribers. Handlers run
// synchronously on the emitting goroutine; anything slow belongs on the
// worker pool.
type EventBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      SubscriberID
	log         *zap.Logger
}

func NewEventBus(log *zap.Logger) *EventBus {
	return &EventBus{log: logger.OrNop(log)}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn func(Event)) SubscriberID {
	return eb.add(subscriber{fn: fn})
}

// SubscribeTypes registers fn for the listed types only.
func (eb *EventBus) SubscribeTypes(fn func(Event), types ...EventType) SubscriberID {
	filter := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		filter[t] = struct{}{}
	}
	return eb.add(subscriber{fn: fn, filter: filter})
}

func (eb *EventBus) add(s subscriber) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	s.id = eb.nextID
	eb.subscribers = append(eb.subscribers, s)
	return s.id
}

func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers = slices.DeleteFunc(eb.subscribers, func(s subscriber) bool { return s.id == id })
}

// Emit delivers evt to every matching subscriber. A panicking handler is
// logged and does not stop delivery to the rest.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	subs := slices.Clone(eb.subscribers)
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			eb.deliver(s, evt)
		}
	}
}

func (eb *EventBus) deliver(s subscriber, evt Event) {
	defer func() {
		if p := recover(); p != nil {
			eb.log.Error("event handler panic",
				zap.Stringer("event", evt.Type),
				zap.Int("subscriber", int(s.id)),
				zap.Any("panic", p),
			)
		}
	}()
	s.fn(evt)
}
