package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/adapters/metrics"
	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/domain/snapshot"
	"github.com/artpar/agentmeter/ports"
)

// DashboardService serves aggregated usage snapshots and live-updating
// dashboard sessions.
type DashboardService struct {
	events ports.EventStore
	feed   ports.Feed

	// reconcileEvery is how often a live session re-derives its
	// snapshot from the store to self-heal. Zero disables it.
	reconcileEvery time.Duration

	metrics *metrics.Collector
	logger  zerolog.Logger
}

// DashboardDeps contains dependencies for DashboardService.
type DashboardDeps struct {
	Events  ports.EventStore
	Feed    ports.Feed
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(deps DashboardDeps, reconcileEvery time.Duration) *DashboardService {
	return &DashboardService{
		events:         deps.Events,
		feed:           deps.Feed,
		reconcileEvery: reconcileEvery,
		metrics:        deps.Metrics,
		logger:         deps.Logger.With().Str("service", "dashboard").Logger(),
	}
}

// Fetch rebuilds a user's snapshot from their full history and returns
// it with the sequence number of the last folded event.
func (s *DashboardService) Fetch(ctx context.Context, userID string) (snapshot.Snapshot, int64, error) {
	events, err := s.events.ListByUser(ctx, userID)
	if err != nil {
		return snapshot.Snapshot{}, 0, err
	}

	snap := snapshot.Build(events)
	var lastSeq int64
	if len(events) > 0 {
		lastSeq = events[len(events)-1].Seq
	}
	return snap, lastSeq, nil
}

// OpenSession opens a live dashboard session for one user. The session
// subscribes to the feed before the initial rebuild, so an event that
// lands in between arrives as a duplicate rather than a gap.
func (s *DashboardService) OpenSession(ctx context.Context, userID string) (*Session, error) {
	sub, err := s.feed.Subscribe(ctx, userID)
	if err != nil {
		return nil, err
	}

	snap, lastSeq, err := s.Fetch(ctx, userID)
	if err != nil {
		sub.Close()
		return nil, err
	}

	sess := &Session{
		svc:     s,
		userID:  userID,
		sub:     sub,
		snap:    snap,
		lastSeq: lastSeq,
		updates: make(chan snapshot.Snapshot, 1),
		done:    make(chan struct{}),
		logger:  s.logger.With().Str("user_id", userID).Logger(),
	}
	s.metrics.FeedSubscribers.Inc()

	go sess.run()
	return sess, nil
}

// Session is one consumer's live view of a user's dashboard. It folds
// feed events into its snapshot incrementally and falls back to a full
// rebuild when it detects a sequence gap.
type Session struct {
	svc    *DashboardService
	userID string
	sub    ports.Subscription
	logger zerolog.Logger

	mu      sync.RWMutex
	snap    snapshot.Snapshot
	lastSeq int64

	updates   chan snapshot.Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

// Current returns the session's snapshot and the sequence number of
// the last event folded into it.
func (s *Session) Current() (snapshot.Snapshot, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.lastSeq
}

// Updates returns the channel of snapshot versions. Only the newest
// version is retained; a slow reader sees the latest state, not every
// intermediate one. The channel is closed when the session ends.
func (s *Session) Updates() <-chan snapshot.Snapshot {
	return s.updates
}

// Close ends the session. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.sub.Close()
	})
}

func (s *Session) run() {
	defer close(s.updates)
	defer s.svc.metrics.FeedSubscribers.Dec()

	var reconcile <-chan time.Time
	if s.svc.reconcileEvery > 0 {
		ticker := time.NewTicker(s.svc.reconcileEvery)
		defer ticker.Stop()
		reconcile = ticker.C
	}

	for {
		select {
		case <-s.done:
			// Drain remaining deliveries so the feed can close cleanly.
			for range s.sub.Events() {
			}
			return
		case <-reconcile:
			s.rebuild("reconcile")
		case e, ok := <-s.sub.Events():
			if !ok {
				return
			}
			s.apply(e)
		}
	}
}

// apply folds one live event into the snapshot, or rebuilds when the
// event's sequence shows deliveries were missed.
func (s *Session) apply(e event.Event) {
	s.mu.Lock()
	switch {
	case e.Seq <= s.lastSeq:
		// Already folded during the initial rebuild. Drop it.
		s.mu.Unlock()
		return
	case e.Seq == s.lastSeq+1:
		s.snap = snapshot.Apply(s.snap, e)
		s.lastSeq = e.Seq
		snap := s.snap
		s.mu.Unlock()
		s.push(snap)
	default:
		s.mu.Unlock()
		s.svc.metrics.FeedEventsDropped.Inc()
		s.rebuild("seq_gap")
	}
}

// rebuild re-derives the snapshot from the store. On failure the stale
// snapshot is kept; the next event or reconcile tick retries.
func (s *Session) rebuild(reason string) {
	snap, lastSeq, err := s.svc.Fetch(context.Background(), s.userID)
	if err != nil {
		s.logger.Error().Err(err).Str("reason", reason).Msg("snapshot rebuild failed")
		return
	}
	s.svc.metrics.SnapshotRebuilds.WithLabelValues(reason).Inc()

	s.mu.Lock()
	s.snap = snap
	s.lastSeq = lastSeq
	s.mu.Unlock()
	s.push(snap)
}

// push publishes a snapshot version, keeping only the newest.
func (s *Session) push(snap snapshot.Snapshot) {
	for {
		select {
		case <-s.done:
			return
		case s.updates <- snap:
			return
		default:
			// Discard the stale buffered version and retry.
			select {
			case <-s.updates:
			default:
			}
		}
	}
}
