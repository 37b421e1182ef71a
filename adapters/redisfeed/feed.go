// Package redisfeed implements the live event feed over Redis pub/sub,
// letting dashboard sessions on one instance see events ingested by
// another.
package redisfeed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/ports"
)

const channelPrefix = "agentmeter:events:"

// subscriberBuffer is the per-subscriber channel depth. Redis pub/sub
// is itself at-most-once, so a slow consumer loses events either way.
const subscriberBuffer = 64

// Feed implements ports.Feed over Redis pub/sub with one channel per
// user.
type Feed struct {
	rdb    *redis.Client
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates a Redis-backed feed.
func New(rdb *redis.Client, logger zerolog.Logger) *Feed {
	return &Feed{
		rdb:    rdb,
		logger: logger.With().Str("component", "redisfeed").Logger(),
		subs:   make(map[*subscription]struct{}),
	}
}

// Publish sends one event to the owner's channel. Publishing with no
// subscribers is not an error.
func (f *Feed) Publish(ctx context.Context, e event.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, channelPrefix+e.UserID, payload).Err()
}

// Subscribe opens a live stream of one user's events. The stream ends
// when the subscription is closed, the feed is closed, or ctx is done.
func (f *Feed) Subscribe(ctx context.Context, userID string) (ports.Subscription, error) {
	pubsub := f.rdb.Subscribe(ctx, channelPrefix+userID)
	// Wait for the subscription to be confirmed so events published
	// after Subscribe returns are not missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	sub := &subscription{
		feed:   f,
		pubsub: pubsub,
		ch:     make(chan event.Event, subscriberBuffer),
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		pubsub.Close()
		sub.once.Do(func() { close(sub.ch) })
		return sub, nil
	}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go sub.run(ctx, f.logger.With().Str("user_id", userID).Logger())
	return sub, nil
}

// Close shuts down the feed and all subscriptions.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := f.subs
	f.subs = nil
	f.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
	return nil
}

type subscription struct {
	feed   *Feed
	pubsub *redis.PubSub
	ch     chan event.Event
	once   sync.Once
}

func (s *subscription) Events() <-chan event.Event { return s.ch }

func (s *subscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		if s.feed.subs != nil {
			delete(s.feed.subs, s)
		}
		s.feed.mu.Unlock()
		// Closing pubsub closes its Channel(), which ends run() and
		// closes s.ch there.
		s.pubsub.Close()
	})
}

// run pumps decoded events from Redis into the subscriber channel until
// the pubsub closes or ctx is done.
func (s *subscription) run(ctx context.Context, logger zerolog.Logger) {
	defer close(s.ch)

	msgs := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			// Drain until the pubsub channel closes.
			for range msgs {
			}
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var e event.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				logger.Warn().Err(err).Msg("dropping malformed feed message")
				continue
			}
			select {
			case s.ch <- e:
			default:
				// Subscriber is behind; it will detect the gap and rebuild.
			}
		}
	}
}

// Ensure interface compliance.
var (
	_ ports.Feed         = (*Feed)(nil)
	_ ports.Subscription = (*subscription)(nil)
)
