package events

import (
	"sync"
)

// ChanTopic delivers published values to subscriber channels. Sends are
// non-blocking: a full channel misses the value rather than stalling the
// publisher.
type ChanTopic[T any] struct {
	mu         sync.RWMutex
	channels   map[uint64]chan<- T
	nextID     uint64
	replayLast bool
	last       *T
	published  bool
}

// NewChanTopic creates a ChanTopic. When replayLast is true the most recently
// published value, if any, is sent to a new subscriber channel immediately.
func NewChanTopic[T any](replayLast bool) *ChanTopic[T] {
	return &ChanTopic[T]{
		channels:   make(map[uint64]chan<- T),
		replayLast: replayLast,
	}
}

// Subscribe registers ch and returns a cancel function that removes it.
func (t *ChanTopic[T]) Subscribe(ch chan<- T) func() {
	if ch == nil {
		panic("events: subscriber channel cannot be nil")
	}

	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.channels[id] = ch
	var replay *T
	if t.replayLast && t.published && t.last != nil {
		v := *t.last
		replay = &v
	}
	t.mu.Unlock()

	if replay != nil {
		select {
		case ch <- *replay:
		default:
		}
	}

	return func() {
		t.mu.Lock()
		delete(t.channels, id)
		t.mu.Unlock()
	}
}

// Publish sends v to every subscriber channel, skipping full ones.
func (t *ChanTopic[T]) Publish(v T) {
	t.mu.Lock()
	if t.replayLast {
		if t.last == nil {
			t.last = new(T)
		}
		*t.last = v
		t.published = true
	}
	chans := make([]chan<- T, 0, len(t.channels))
	for _, ch := range t.channels {
		chans = append(chans, ch)
	}
	t.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- v:
		default:
		}
	}
}

// SubscriberCount returns the number of registered subscriber channels.
func (t *ChanTopic[T]) SubscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.channels)
}
