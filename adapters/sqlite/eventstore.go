package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/artpar/agentmeter/domain/agent"
	"github.com/artpar/agentmeter/domain/event"
	"github.com/artpar/agentmeter/ports"
)

// EventStore implements ports.EventStore using SQLite.
type EventStore struct {
	db *DB
}

// NewEventStore creates a new SQLite event store.
func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

const eventColumns = `id, user_id, key_id, seq, event_type, agent_type, provider, model,
	tokens_used, prompt_tokens, completion_tokens, cost_usd, conversation_id, metadata, created_at`

// Insert stores one event, assigning the next per-user sequence number
// inside the same transaction as the row. The stored event is returned
// with Seq populated.
func (s *EventStore) Insert(ctx context.Context, e event.Event) (event.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Event{}, err
	}
	defer tx.Rollback()

	// Bump the counter and read it back. The upsert serializes under
	// SQLite's writer lock, so two inserts for one user cannot race.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_event_seq (user_id, next_seq) VALUES (?, 1)
		ON CONFLICT(user_id) DO UPDATE SET next_seq = next_seq + 1
	`, e.UserID); err != nil {
		return event.Event{}, err
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT next_seq FROM usage_event_seq WHERE user_id = ?`, e.UserID,
	).Scan(&e.Seq); err != nil {
		return event.Event{}, err
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return event.Event{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO usage_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.UserID, e.KeyID, e.Seq, e.EventType, string(e.AgentType),
		e.Provider, e.Model, e.TokensUsed, e.PromptTokens, e.CompletionTokens,
		e.CostUSD, e.ConversationID, string(metadata), e.CreatedAt); err != nil {
		return event.Event{}, err
	}

	if err := tx.Commit(); err != nil {
		return event.Event{}, err
	}
	return e, nil
}

// ListByUser returns a user's complete history, oldest first.
func (s *EventStore) ListByUser(ctx context.Context, userID string) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM usage_events
		WHERE user_id = ?
		ORDER BY seq ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// Recent returns a user's latest events, newest first.
func (s *EventStore) Recent(ctx context.Context, userID string, limit int) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM usage_events
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// RecentByKey returns the latest events recorded with one key, newest first.
func (s *EventStore) RecentByKey(ctx context.Context, keyID string, limit int) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM usage_events
		WHERE key_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, keyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]event.Event, error) {
	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var e event.Event
	var agentType, metadata string

	err := rows.Scan(
		&e.ID, &e.UserID, &e.KeyID, &e.Seq, &e.EventType, &agentType,
		&e.Provider, &e.Model, &e.TokensUsed, &e.PromptTokens,
		&e.CompletionTokens, &e.CostUSD, &e.ConversationID, &metadata,
		&e.CreatedAt,
	)
	if err != nil {
		return event.Event{}, err
	}

	e.AgentType = agent.Category(agentType)
	if metadata != "" && metadata != "null" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return event.Event{}, err
		}
	}
	return e, nil
}

// Ensure interface compliance.
var _ ports.EventStore = (*EventStore)(nil)
