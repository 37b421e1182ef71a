// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/adapters/metrics"
	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/domain/key"
	"github.com/artpar/agentmeter/ports"
)

// IngestService records usage events sent by agent deployments.
type IngestService struct {
	keys   ports.KeyStore
	events ports.EventStore
	feed   ports.Feed
	hasher ports.Hasher
	clock  ports.Clock
	idGen  ports.IDGenerator

	keyPrefix string
	metrics   *metrics.Collector
	logger    zerolog.Logger
}

// IngestDeps contains dependencies for IngestService.
type IngestDeps struct {
	Keys    ports.KeyStore
	Events  ports.EventStore
	Feed    ports.Feed
	Hasher  ports.Hasher
	Clock   ports.Clock
	IDGen   ports.IDGenerator
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// NewIngestService creates a new ingestion service.
func NewIngestService(deps IngestDeps, keyPrefix string) *IngestService {
	return &IngestService{
		keys:      deps.Keys,
		events:    deps.Events,
		feed:      deps.Feed,
		hasher:    deps.Hasher,
		clock:     deps.Clock,
		idGen:     deps.IDGen,
		keyPrefix: keyPrefix,
		metrics:   deps.Metrics,
		logger:    deps.Logger.With().Str("service", "ingest").Logger(),
	}
}

// Record authenticates the raw API key, classifies and persists one
// usage event, and publishes it to the owner's live feed.
// This method orchestrates pure domain functions with I/O operations.
func (s *IngestService) Record(ctx context.Context, rawKey string, p event.Payload) (event.Event, *event.ErrorResponse) {
	// 1. Authenticate (PURE format check + I/O lookup + hash compare)
	matched, errResp := s.Authenticate(ctx, rawKey)
	if errResp != nil {
		s.metrics.IngestFailures.WithLabelValues("invalid_key").Inc()
		return event.Event{}, errResp
	}

	// 2. Validate payload (PURE)
	if errResp := p.Validate(); errResp != nil {
		s.metrics.IngestFailures.WithLabelValues("validation").Inc()
		return event.Event{}, errResp
	}

	// 3. Classify and build the event (PURE)
	e := event.Build(p, s.idGen.New(), matched.UserID, matched.ID, s.clock.Now())

	// 4. Persist; the store assigns the per-user sequence (I/O)
	stored, err := s.events.Insert(ctx, e)
	if err != nil {
		s.metrics.IngestFailures.WithLabelValues("storage").Inc()
		s.logger.Error().Err(err).Str("user_id", matched.UserID).Msg("insert usage event")
		return event.Event{}, &event.ErrStorage
	}

	// 5. Publish to the live feed. Best-effort: a feed error never
	// fails an already persisted event (I/O)
	if err := s.feed.Publish(ctx, stored); err != nil {
		s.logger.Warn().Err(err).Str("event_id", stored.ID).Msg("publish to live feed")
	}

	// 6. Update key last-used asynchronously (I/O, best-effort)
	go func() {
		if err := s.keys.UpdateLastUsed(context.WithoutCancel(ctx), matched.ID, stored.CreatedAt); err != nil {
			s.logger.Warn().Err(err).Str("key_id", matched.ID).Msg("update key last-used")
		}
	}()

	s.metrics.EventsIngested.WithLabelValues(string(stored.AgentType), stored.EffectiveProvider()).Inc()
	s.metrics.TokensRecorded.WithLabelValues(string(stored.AgentType)).Add(float64(stored.TokensUsed))
	s.metrics.CostRecordedUSD.WithLabelValues(string(stored.AgentType)).Add(stored.CostUSD)

	s.logger.Debug().
		Str("event_id", stored.ID).
		Str("user_id", stored.UserID).
		Str("agent_type", string(stored.AgentType)).
		Int64("seq", stored.Seq).
		Float64("cost_usd", stored.CostUSD).
		Msg("usage event recorded")

	return stored, nil
}

// RecentForKey authenticates the raw API key and returns the matched
// key record plus the latest events recorded with it, newest first.
// Pure lookup: unlike Record, it never touches the last-used timestamp.
func (s *IngestService) RecentForKey(ctx context.Context, rawKey string, limit int) (key.Key, []event.Event, *event.ErrorResponse) {
	matched, errResp := s.Authenticate(ctx, rawKey)
	if errResp != nil {
		return key.Key{}, nil, errResp
	}

	events, err := s.events.RecentByKey(ctx, matched.ID, limit)
	if err != nil {
		s.logger.Error().Err(err).Str("key_id", matched.ID).Msg("list recent events")
		return key.Key{}, nil, &event.ErrStorage
	}
	return matched, events, nil
}

// Authenticate resolves a raw API key to its stored record. Every
// credential failure maps to the same error so callers cannot probe
// which secrets exist.
func (s *IngestService) Authenticate(ctx context.Context, rawKey string) (key.Key, *event.ErrorResponse) {
	// 1. Validate key format (PURE)
	prefix, valid := key.ValidateFormat(rawKey, s.keyPrefix)
	if !valid {
		s.metrics.AuthFailures.WithLabelValues(key.ReasonBadFormat).Inc()
		return key.Key{}, &event.ErrInvalidKey
	}

	// 2. Lookup candidates by prefix (I/O)
	keys, err := s.keys.Get(ctx, prefix)
	if err != nil {
		s.logger.Error().Err(err).Msg("key lookup")
		return key.Key{}, &event.ErrInvalidKey
	}

	// 3. Find matching key by comparing hash (PURE comparison)
	var matched key.Key
	found := false
	for _, k := range keys {
		if s.hasher.Compare(k.Hash, rawKey) {
			matched = k
			found = true
			break
		}
	}
	if !found {
		s.metrics.AuthFailures.WithLabelValues(key.ReasonNotFound).Inc()
		return key.Key{}, &event.ErrInvalidKey
	}

	// 4. Validate key state (PURE). A revoked key fails exactly like
	// an unknown one.
	validation := key.Validate(matched)
	if !validation.Valid {
		s.metrics.AuthFailures.WithLabelValues(validation.Reason).Inc()
		return key.Key{}, &event.ErrInvalidKey
	}

	return matched, nil
}
