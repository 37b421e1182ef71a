package memory

import (
	"context"
	"sync"

	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/ports"
)

// subscriberBuffer is the per-subscriber channel depth. A consumer that
// falls further behind than this loses events and must rebuild.
const subscriberBuffer = 64

// Bus is an in-process event feed. Delivery is best-effort and
// at-most-once: a full subscriber channel drops the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*busSubscription]struct{}
	closed bool
}

// NewBus creates an in-process feed.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]map[*busSubscription]struct{}),
	}
}

// Publish delivers one event to the owner's subscribers. Publishing to
// nobody is not an error; a slow subscriber is skipped.
func (b *Bus) Publish(_ context.Context, e event.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}
	for sub := range b.subs[e.UserID] {
		select {
		case sub.ch <- e:
		default:
			// Subscriber is behind; it will detect the gap and rebuild.
		}
	}
	return nil
}

// Subscribe opens a live stream of one user's events. The subscription
// ends when Close is called on it, on the bus, or when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, userID string) (ports.Subscription, error) {
	sub := &busSubscription{
		bus:    b,
		userID: userID,
		ch:     make(chan event.Event, subscriberBuffer),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.once.Do(func() { close(sub.ch) })
		return sub, nil
	}
	set, ok := b.subs[userID]
	if !ok {
		set = make(map[*busSubscription]struct{})
		b.subs[userID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

// Close shuts down the bus and all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	for _, set := range subs {
		for sub := range set {
			sub.Close()
		}
	}
	return nil
}

// SubscriberCount returns the number of open subscriptions for a user
// (for testing).
func (b *Bus) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[userID])
}

type busSubscription struct {
	bus    *Bus
	userID string
	ch     chan event.Event
	once   sync.Once
}

func (s *busSubscription) Events() <-chan event.Event { return s.ch }

func (s *busSubscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		if set, ok := s.bus.subs[s.userID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(s.bus.subs, s.userID)
			}
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Verify interface compliance.
var (
	_ ports.Feed         = (*Bus)(nil)
	_ ports.Subscription = (*busSubscription)(nil)
)
