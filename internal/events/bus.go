// Package events implements the status-change pub/sub described in
// spec.md §4.4. Delivery is per-subscriber, bounded, and non-blocking:
// a slow subscriber drops its oldest buffered event rather than stalling
// the publisher. EventBus has no back-reference to the status manager
// that publishes into it (spec.md §9, "Status<->Event coupling should be
// one-directional").
package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Event is one status transition. Status carries the full snapshot as an
// opaque value (docstatus.ProcessingStatus in practice) so this package
// does not need to import the status package and create a cycle.
type Event struct {
	DocID  string
	State  string
	Status any
}

// Predicate filters which events a subscriber receives. A nil predicate
// matches everything.
type Predicate func(Event) bool

// ByDocID returns a predicate matching a single document.
func ByDocID(docID string) Predicate {
	return func(e Event) bool { return e.DocID == docID }
}

// ByState returns a predicate matching a single state name.
func ByState(state string) Predicate {
	return func(e Event) bool { return e.State == state }
}

const defaultBufferSize = 64

// Subscription is a handle returned by Subscribe; pass it to Unsubscribe
// to stop delivery and release the subscriber's buffer.
type Subscription struct {
	id      uint64
	ch      chan Event
	pred    Predicate
	dropped atomic.Int64
}

// Events returns the channel subscribers should range over.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns the number of events dropped for this subscriber due
// to a full buffer (oldest-wins).
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Bus is the concurrency-safe pub/sub hub. The zero value is not usable;
// construct with NewBus.
//
// Publish takes the bus-wide lock for its whole duration and delivers to
// every subscriber's channel synchronously before returning, so two
// Publish calls never interleave their sends — whichever goroutine calls
// Publish first is fully delivered before the next call starts. That
// gives every subscriber a consistent global publish order, and in
// particular the per-doc_id order spec.md §5 requires, since a single
// document's status transitions are always published by whichever
// goroutine is executing that document's pipeline stage at the time.
type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]*Subscription)}
}

// Subscribe registers a new subscriber filtered by pred (nil = all
// events) with the default bounded buffer.
func (b *Bus) Subscribe(pred Predicate) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:   b.nextID,
		ch:   make(chan Event, defaultBufferSize),
		pred: pred,
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe stops delivery to sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish delivers event to every matching subscriber without blocking.
// If a subscriber's buffer is full, that subscriber's oldest buffered
// event is dropped to make room, and every drop is counted and logged
// (never propagated as an error: subscriber failures are never fatal for
// the publisher).
func (b *Bus) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.pred != nil && !sub.pred(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Oldest-wins: drop the oldest buffered event to make room,
			// then deliver the new one. If that still doesn't fit (a
			// concurrent consumer drained it first), drop the new one.
			select {
			case dropped := <-sub.ch:
				sub.dropped.Add(1)
				log.Warn().Str("doc_id", dropped.DocID).Uint64("subscription", sub.id).Msg("event dropped: subscriber buffer full, oldest event discarded")
			default:
			}
			select {
			case sub.ch <- event:
			default:
				sub.dropped.Add(1)
				log.Warn().Str("doc_id", event.DocID).Uint64("subscription", sub.id).Msg("event dropped: subscriber buffer full")
			}
		}
	}
}

// Close unsubscribes and closes every outstanding subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
