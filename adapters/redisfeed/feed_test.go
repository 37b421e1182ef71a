package redisfeed

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/domain/agent"
	"github.com/artpar/agentmeter/domain/event"
)

func newTestFeed(t *testing.T) (*Feed, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	feed := New(client, zerolog.Nop())
	cleanup := func() {
		feed.Close()
		client.Close()
		server.Close()
	}
	return feed, cleanup
}

func waitFor(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return event.Event{}
}

func TestFeed_PublishReachesSubscriber(t *testing.T) {
	feed, cleanup := newTestFeed(t)
	defer cleanup()

	ctx := context.Background()
	sub, err := feed.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	want := event.Event{
		ID:        "evt-1",
		UserID:    "alice",
		Seq:       7,
		EventType: "api_call",
		AgentType: agent.Search,
		CostUSD:   0.02,
	}
	if err := feed.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitFor(t, sub.Events())
	if got.ID != want.ID || got.Seq != want.Seq || got.AgentType != want.AgentType {
		t.Errorf("received %+v, want %+v", got, want)
	}
}

func TestFeed_IsolatesUsers(t *testing.T) {
	feed, cleanup := newTestFeed(t)
	defer cleanup()

	ctx := context.Background()
	aliceSub, err := feed.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe alice: %v", err)
	}
	defer aliceSub.Close()
	bobSub, err := feed.Subscribe(ctx, "bob")
	if err != nil {
		t.Fatalf("subscribe bob: %v", err)
	}
	defer bobSub.Close()

	if err := feed.Publish(ctx, event.Event{ID: "evt-a", UserID: "alice"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := waitFor(t, aliceSub.Events())
	if got.ID != "evt-a" {
		t.Errorf("alice received %q", got.ID)
	}

	select {
	case e := <-bobSub.Events():
		t.Errorf("bob received alice's event %q", e.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFeed_PublishWithoutSubscribers(t *testing.T) {
	feed, cleanup := newTestFeed(t)
	defer cleanup()

	if err := feed.Publish(context.Background(), event.Event{ID: "evt-1", UserID: "nobody"}); err != nil {
		t.Errorf("publish without subscribers: %v", err)
	}
}

func TestFeed_CloseEndsSubscription(t *testing.T) {
	feed, cleanup := newTestFeed(t)
	defer cleanup()

	sub, err := feed.Subscribe(context.Background(), "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := feed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			// Drain any delivered event; the channel must close soon.
			for range sub.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after feed Close")
	}

	// Double close is safe.
	sub.Close()
	feed.Close()
}

func TestFeed_ContextCancelEndsSubscription(t *testing.T) {
	feed, cleanup := newTestFeed(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := feed.Subscribe(ctx, "alice")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-sub.Events():
		if ok {
			for range sub.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}
