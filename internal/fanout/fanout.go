// Package fanout implements the bounded, backpressure-aware broadcast
// primitive shared by the control server (fanning DaemonState deltas out to
// every connected client) and the stream proxy (fanning upstream audio
// bytes out to every subscriber of a station). Go's standard library has no
// equivalent of tokio::sync::broadcast, so this generalizes the teacher's
// per-client `sendChan chan interface{}` pattern to N independently-paced
// subscribers with an explicit Lagged notification instead of silent drops.
package fanout

import "sync"

// Lagged is delivered on a subscriber's LaggedC channel after messages were
// dropped for it, reporting how many were skipped.
type Lagged struct {
	Skipped int
}

// Broadcaster fans values of type T out to any number of subscribers. Every
// subscriber has its own bounded channel; a slow subscriber never blocks
// the publisher or other subscribers — instead it observes Lagged.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[*Subscription[T]]struct{}
	capacity    int
}

// New creates a Broadcaster whose per-subscriber channels hold up to
// capacity pending values before the oldest is dropped in favor of a
// Lagged notification.
func New[T any](capacity int) *Broadcaster[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[*Subscription[T]]struct{}),
		capacity:    capacity,
	}
}

// Subscription is a single subscriber's view of the broadcast stream.
type Subscription[T any] struct {
	ch       chan T
	lagged   chan Lagged
	mu       sync.Mutex
	dropped  int
	notified bool
}

// Subscribe registers a new subscriber. The caller must call Unsubscribe
// when done to release resources.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	sub := &Subscription[T]{
		ch:     make(chan T, b.capacity),
		lagged: make(chan Lagged, 1),
	}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription from future publishes.
func (b *Broadcaster[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Broadcaster[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Publish delivers value to every current subscriber. A subscriber whose
// channel is full has its oldest pending value dropped to make room; the
// subscriber is notified via Lagged on its next receive. Publish never
// blocks on a slow subscriber.
func (b *Broadcaster[T]) Publish(value T) {
	b.mu.Lock()
	subs := make([]*Subscription[T], 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.deliver(value)
	}
}

func (s *Subscription[T]) deliver(value T) {
	select {
	case s.ch <- value:
		return
	default:
	}

	// Channel full: drop the oldest queued value to make room, and record
	// that this subscriber lagged.
	select {
	case <-s.ch:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	default:
	}

	select {
	case s.ch <- value:
	default:
		// Still full (raced with another publisher) — count as lagged too.
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
	}

	s.mu.Lock()
	n := s.dropped
	s.dropped = 0
	s.mu.Unlock()
	if n > 0 {
		select {
		case s.lagged <- Lagged{Skipped: n}:
		default:
		}
	}
}

// C returns the channel of delivered values.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// LaggedC returns the channel on which Lagged notifications are delivered.
// A receiver should select over both C() and LaggedC() to observe drops.
func (s *Subscription[T]) LaggedC() <-chan Lagged { return s.lagged }
