// Package hub provides an in-process publish/subscribe fan-out with bounded,
// independent subscriber queues.
//
// Publish never blocks: if a subscriber's buffer is full the event is dropped
// for that subscriber only. Subscribers see only events published after they
// subscribe; there is no history.
package hub

import (
	"sync"
	"sync/atomic"
)

// DefaultBuffer is the per-subscriber queue length used when New is given a
// non-positive size.
const DefaultBuffer = 64

// Hub fans out events of type T to all active subscribers.
type Hub[T any] struct {
	buffer int

	mu          sync.RWMutex
	subscribers map[*Subscription[T]]struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
	onDrop    func()
}

// New creates a hub whose subscribers each get a queue of buffer events.
func New[T any](buffer int) *Hub[T] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub[T]{
		buffer:      buffer,
		subscribers: make(map[*Subscription[T]]struct{}),
	}
}

// OnDrop registers a callback invoked once per dropped delivery. It must not
// block. Call before the hub is shared.
func (h *Hub[T]) OnDrop(fn func()) {
	h.onDrop = fn
}

// Subscription is one subscriber's view of the hub.
type Subscription[T any] struct {
	hub  *Hub[T]
	ch   chan T
	once sync.Once
}

// C returns the receive side of the subscriber queue. It is closed by Close.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close removes the subscription from the hub and releases its queue.
// Safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subscribers, s)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}

// Subscribe registers a new subscriber. The caller must call Close when done.
func (h *Hub[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		hub: h,
		ch:  make(chan T, h.buffer),
	}
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Publish delivers event to every subscriber with room in its queue and
// returns how many received it. Full queues drop the event silently.
func (h *Hub[T]) Publish(event T) int {
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for sub := range h.subscribers {
		select {
		case sub.ch <- event:
			delivered++
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return delivered
}

// Len returns the number of active subscribers.
func (h *Hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped returns the total number of dropped deliveries.
func (h *Hub[T]) Dropped() uint64 {
	return h.dropped.Load()
}

// Published returns the total number of Publish calls.
func (h *Hub[T]) Published() uint64 {
	return h.published.Load()
}
