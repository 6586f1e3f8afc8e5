// Package bus is the in-process publish/subscribe fabric.
//
// Emit delivers events to subscribers inline, in registration order, on the
// publisher's goroutine. Subscriber panics are caught and logged, never
// re-raised. Long-running consumers (HTTP pushes, dashboards) should use
// OnAsync, which gives each subscriber a bounded queue with a drop-oldest
// policy so they can never block the publisher.
package bus

import (
	"log/slog"
	"sync"
)

// Wildcard subscribes to every event name.
const Wildcard = "*"

// Handler receives the event name and its payload.
type Handler func(event string, data any)

type subscriber struct {
	seq     uint64
	handler Handler
}

// Bus is a process-local event bus. The handler list is mutated under a
// lock; Emit takes a snapshot of subscribers to iterate, so handlers may
// subscribe or unsubscribe during delivery.
type Bus struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[string][]*subscriber
	nextSeq uint64
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With("component", "bus"),
		subs:   make(map[string][]*subscriber),
	}
}

// On registers a handler for the named event (or Wildcard for all events).
// The returned function unsubscribes; calling it more than once is safe.
func (b *Bus) On(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{seq: b.nextSeq, handler: h}
	b.nextSeq++
	b.subs[name] = append(b.subs[name], sub)

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(name, sub) })
	}
}

// OnAsync registers a handler that runs on its own goroutine behind a
// bounded queue. When the queue is full the oldest event is dropped, so a
// slow subscriber never blocks Emit. The returned function unsubscribes
// and stops the goroutine.
func (b *Bus) OnAsync(name string, buffer int, h Handler) func() {
	if buffer <= 0 {
		buffer = 64
	}
	type envelope struct {
		event string
		data  any
	}
	ch := make(chan envelope, buffer)
	done := make(chan struct{})

	go func() {
		for env := range ch {
			b.invoke(h, env.event, env.data)
		}
		close(done)
	}()

	unsub := b.On(name, func(event string, data any) {
		env := envelope{event: event, data: data}
		select {
		case ch <- env:
		default:
			// Queue full: drop the oldest so the latest always lands.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- env:
			default:
			}
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			close(ch)
			<-done
		})
	}
}

// Emit delivers the event synchronously to all named subscribers, then all
// wildcard subscribers, each group in registration order. There is no
// ordering guarantee across events of different names.
func (b *Bus) Emit(event string, data any) {
	b.mu.Lock()
	snapshot := make([]*subscriber, 0, len(b.subs[event])+len(b.subs[Wildcard]))
	snapshot = append(snapshot, b.subs[event]...)
	if event != Wildcard {
		snapshot = append(snapshot, b.subs[Wildcard]...)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		b.invoke(sub.handler, event, data)
	}
}

func (b *Bus) invoke(h Handler, event string, data any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic", "event", event, "panic", r)
		}
	}()
	h(event, data)
}

func (b *Bus) remove(name string, target *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[name]
	for i, sub := range list {
		if sub == target {
			b.subs[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[name]) == 0 {
		delete(b.subs, name)
	}
}
