package memory

import (
	"context"
	"sync"

	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/ports"
)

// EventStore is an in-memory, append-only usage event store for tests
// and development.
type EventStore struct {
	mu     sync.RWMutex
	events []event.Event
	// nextSeq tracks the next per-user sequence number.
	nextSeq map[string]int64
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{
		nextSeq: make(map[string]int64),
	}
}

// Insert appends an event, assigning the next sequence number for its
// owner. The stored copy is returned with Seq populated.
func (s *EventStore) Insert(_ context.Context, e event.Event) (event.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq[e.UserID]++
	e.Seq = s.nextSeq[e.UserID]
	s.events = append(s.events, e)
	return e, nil
}

// ListByUser returns a user's complete history, oldest first.
func (s *EventStore) ListByUser(_ context.Context, userID string) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []event.Event
	for _, e := range s.events {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Recent returns a user's latest events, newest first.
func (s *EventStore) Recent(_ context.Context, userID string, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterNewest(limit, func(e event.Event) bool { return e.UserID == userID }), nil
}

// RecentByKey returns the latest events recorded with one key, newest first.
func (s *EventStore) RecentByKey(_ context.Context, keyID string, limit int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterNewest(limit, func(e event.Event) bool { return e.KeyID == keyID }), nil
}

func (s *EventStore) filterNewest(limit int, match func(event.Event) bool) []event.Event {
	if limit <= 0 {
		return nil
	}
	var out []event.Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if match(s.events[i]) {
			out = append(out, s.events[i])
		}
	}
	return out
}

// Count returns the total number of stored events (for testing).
func (s *EventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Clear removes all events (for testing).
func (s *EventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.nextSeq = make(map[string]int64)
}

// Verify interface compliance.
var _ ports.EventStore = (*EventStore)(nil)
