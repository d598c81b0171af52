// Package events provides small typed publish/subscribe primitives used to
// wire the recording engine to its consumers. Subscriber registration and
// removal are compile-time checked per event type.
package events

import (
	"sync"
)

// Topic delivers published values to callback subscribers.
// T is the event payload type.
type Topic[T any] struct {
	mu          sync.RWMutex
	subscribers map[uint64]func(T)
	nextID      uint64
	replayLast  bool
	last        *T
	published   bool
}

// NewTopic creates a Topic. When replayLast is true, a new subscriber is
// immediately invoked with the most recently published value, if any.
func NewTopic[T any](replayLast bool) *Topic[T] {
	return &Topic[T]{
		subscribers: make(map[uint64]func(T)),
		replayLast:  replayLast,
	}
}

// Subscribe registers fn and returns a cancel function that removes it.
// fn may be called concurrently with other subscribers but never while the
// topic's internal lock is held.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		panic("events: subscriber cannot be nil")
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.subscribers[id] = fn
	var replay *T
	if t.replayLast && t.published && t.last != nil {
		v := *t.last
		replay = &v
	}
	t.mu.Unlock()

	if replay != nil {
		fn(*replay)
	}

	return func() {
		t.mu.Lock()
		delete(t.subscribers, id)
		t.mu.Unlock()
	}
}

// Publish invokes every subscriber with v, outside the lock.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	if t.replayLast {
		if t.last == nil {
			t.last = new(T)
		}
		*t.last = v
		t.published = true
	}
	subs := make([]func(T), 0, len(t.subscribers))
	for _, fn := range t.subscribers {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (t *Topic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subscribers)
}
