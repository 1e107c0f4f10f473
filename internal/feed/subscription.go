package feed

import (
	"sync"

	"replyfeed/pkg/replyfeed"
)

// Subscription is one consumer's live view of a thread. Slices arrive on
// Slices() whenever the window changes; the queue keeps the newest slices
// when the consumer falls behind, so the last received value is always the
// freshest state.
type Subscription struct {
	id          int64
	feed        *Feed
	anchor      int64
	limitBefore int
	limitAfter  int

	slices chan replyfeed.Slice
	once   sync.Once
}

// Slices returns the delivery channel. It is closed when the subscription
// or its feed closes.
func (s *Subscription) Slices() <-chan replyfeed.Slice {
	return s.slices
}

// Close releases the subscription. It does not cancel shared in-flight
// requests; those belong to the feed and may still serve other subscribers.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.feed.unsubscribe(s.id)
	})
}

// push queues a slice with drop-oldest backpressure. Actor-only.
func (s *Subscription) push(slice replyfeed.Slice) {
	select {
	case s.slices <- slice:
		return
	default:
	}
	select {
	case <-s.slices:
	default:
	}
	select {
	case s.slices <- slice:
	default:
	}
}
