package events

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
)

// Event is anything that can be dispatched. Name is the legacy hook name used
// by the broadcast bridge.
type Event interface {
	Name() string
}

// Stoppable events can short-circuit lower-priority listeners.
type Stoppable interface {
	IsPropagationStopped() bool
}

// Propagation is embedded by events that support StopPropagation.
type Propagation struct {
	stopped bool
}

func (p *Propagation) StopPropagation()           { p.stopped = true }
func (p *Propagation) IsPropagationStopped() bool { return p.stopped }

// Broadcaster forwards dispatched events to legacy, name-based subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, name string, payload any) error
}

type listener struct {
	priority int
	seq      int
	call     func(context.Context, Event) error
}

// Dispatcher is a typed, priority-ordered event bus. Listeners run
// synchronously in the dispatching goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[reflect.Type][]listener
	seq       int
	bridge    Broadcaster
	log       *slog.Logger
}

func NewDispatcher(log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{listeners: make(map[reflect.Type][]listener), log: log}
}

// SetBroadcaster enables the legacy bridge. Nil disables it.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.mu.Lock()
	d.bridge = b
	d.mu.Unlock()
}

// Listen subscribes fn to events of type E. Higher priority runs first;
// equal priorities run in registration order.
func Listen[E Event](d *Dispatcher, priority int, fn func(context.Context, E) error) {
	t := reflect.TypeOf((*E)(nil)).Elem()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.listeners[t] = append(d.listeners[t], listener{
		priority: priority,
		seq:      d.seq,
		call: func(ctx context.Context, e Event) error {
			return fn(ctx, e.(E))
		},
	})
	sort.SliceStable(d.listeners[t], func(i, j int) bool {
		a, b := d.listeners[t][i], d.listeners[t][j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})
}

// HasListeners reports whether anything subscribed to e's type.
func (d *Dispatcher) HasListeners(e Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[reflect.TypeOf(e)]) > 0
}

// Dispatch runs every listener for e's type and returns e. A failing or
// panicking listener is logged and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) Event {
	d.mu.RLock()
	ls := append([]listener(nil), d.listeners[reflect.TypeOf(e)]...)
	bridge := d.bridge
	d.mu.RUnlock()

	stoppable, canStop := e.(Stoppable)
	for _, l := range ls {
		if err := d.invoke(ctx, l, e); err != nil {
			d.log.Error("event listener failed", "event", e.Name(), "priority", l.priority, "err", err)
		}
		if canStop && stoppable.IsPropagationStopped() {
			break
		}
	}

	if bridge != nil {
		if err := bridge.Broadcast(ctx, e.Name(), e); err != nil {
			d.log.Warn("event broadcast failed", "event", e.Name(), "err", err)
		}
	}
	return e
}

func (d *Dispatcher) invoke(ctx context.Context, l listener, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return l.call(ctx, e)
}
