// Package dispatch fans realtime and connection events out to listeners.
//
// Events are a closed set of concrete types implementing Event. Listeners
// register under a Topic; per-match topics are parameterized by match ID and
// AllOf(kind) receives every event of a kind. Emit is synchronous and a
// panicking listener never prevents the others from running.
package dispatch

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Handler receives an emitted event.
type Handler func(Event)

// ListenerID identifies one registration, used to remove it.
type ListenerID uint64

// Metrics receives dispatch counters. Implemented by metrics.Recorder.
type Metrics interface {
	EventEmitted(kind string)
	ListenerPanicked(kind string)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// Dispatcher is a typed publish/subscribe hub. Safe for concurrent use.
type Dispatcher struct {
	logger  *slog.Logger
	metrics Metrics

	mu        sync.RWMutex
	nextID    ListenerID
	listeners map[Topic]map[ListenerID]Handler
}

// New creates an empty Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:    slog.Default(),
		listeners: make(map[Topic]map[ListenerID]Handler),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// On registers fn under topic and returns its registration ID.
func (d *Dispatcher) On(topic Topic, fn Handler) ListenerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID

	set, ok := d.listeners[topic]
	if !ok {
		set = make(map[ListenerID]Handler)
		d.listeners[topic] = set
	}
	set[id] = fn
	return id
}

// Off removes a registration. Returns false if it was not registered.
func (d *Dispatcher) Off(topic Topic, id ListenerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.listeners[topic]
	if !ok {
		return false
	}
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(d.listeners, topic)
	}
	return true
}

// Listen registers a handler for one concrete event type. Events on topic of
// any other type are ignored.
func Listen[E Event](d *Dispatcher, topic Topic, fn func(E)) ListenerID {
	return d.On(topic, func(ev Event) {
		if e, ok := ev.(E); ok {
			fn(e)
		}
	})
}

// Emit invokes every listener registered for the event's topic, and for
// AllOf its kind when the topic is match-scoped. Returns the number of
// listeners that ran without panicking.
func (d *Dispatcher) Emit(ev Event) int {
	topic := ev.Topic()
	handlers := d.snapshot(topic)

	if d.metrics != nil {
		d.metrics.EventEmitted(string(topic.Kind))
	}

	ok := 0
	for _, h := range handlers {
		if d.invoke(topic, h, ev) {
			ok++
		}
	}
	return ok
}

// ListenerCount returns how many listeners are registered under topic.
func (d *Dispatcher) ListenerCount(topic Topic) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[topic])
}

// snapshot copies the handlers for topic, ordered by registration.
func (d *Dispatcher) snapshot(topic Topic) []Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()

	type entry struct {
		id ListenerID
		fn Handler
	}
	var entries []entry
	collect := func(t Topic) {
		for id, fn := range d.listeners[t] {
			entries = append(entries, entry{id, fn})
		}
	}
	collect(topic)
	if topic.MatchID != 0 {
		collect(AllOf(topic.Kind))
	}

	slices.SortFunc(entries, func(a, b entry) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})

	out := make([]Handler, len(entries))
	for i, e := range entries {
		out[i] = e.fn
	}
	return out
}

func (d *Dispatcher) invoke(topic Topic, h Handler, ev Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			d.logger.Error("event listener panicked",
				"topic", topic.String(),
				"panic", fmt.Sprint(r),
			)
			if d.metrics != nil {
				d.metrics.ListenerPanicked(string(topic.Kind))
			}
		}
	}()
	h(ev)
	return true
}
