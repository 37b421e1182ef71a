package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/agentmeter/domain/key"
	"github.com/artpar/agentmeter/ports"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// KeyStore implements ports.KeyStore using SQLite.
type KeyStore struct {
	db *DB
}

// NewKeyStore creates a new SQLite key store.
func NewKeyStore(db *DB) *KeyStore {
	return &KeyStore{db: db}
}

// Get retrieves keys matching a prefix.
func (s *KeyStore) Get(ctx context.Context, prefix string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at, last_used
		FROM api_keys
		WHERE prefix = ?
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// GetByID retrieves a key by ID.
func (s *KeyStore) GetByID(ctx context.Context, id string) (key.Key, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at, last_used
		FROM api_keys
		WHERE id = ?
	`, id)
	return scanKeyRow(row)
}

// Create stores a new key.
func (s *KeyStore) Create(ctx context.Context, k key.Key) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, user_id, hash, prefix, name, revoked_at, created_at, last_used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, k.ID, k.UserID, k.Hash, k.Prefix, k.Name,
		nullTime(k.RevokedAt), k.CreatedAt, nullTime(k.LastUsed))
	return err
}

// Revoke marks a key as revoked. The record survives.
func (s *KeyStore) Revoke(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ? WHERE id = ?
	`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Rotate replaces a key's credential material. The single UPDATE means
// a concurrent reader observes either the old secret or the new one.
func (s *KeyStore) Rotate(ctx context.Context, id string, hash []byte, prefix string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET hash = ?, prefix = ? WHERE id = ?
	`, hash, prefix, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByUser returns all keys for a user, newest first.
func (s *KeyStore) ListByUser(ctx context.Context, userID string) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at, last_used
		FROM api_keys
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// List returns every key in the store, newest first. Used by the CLI.
func (s *KeyStore) List(ctx context.Context) ([]key.Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, hash, prefix, name, revoked_at, created_at, last_used
		FROM api_keys
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []key.Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateLastUsed updates the last used timestamp.
func (s *KeyStore) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = ? WHERE id = ?
	`, at, id)
	return err
}

func scanKey(rows *sql.Rows) (key.Key, error) {
	var k key.Key
	var revokedAt, lastUsed sql.NullTime

	err := rows.Scan(
		&k.ID, &k.UserID, &k.Hash, &k.Prefix, &k.Name,
		&revokedAt, &k.CreatedAt, &lastUsed,
	)
	if err != nil {
		return key.Key{}, err
	}

	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	return k, nil
}

func scanKeyRow(row *sql.Row) (key.Key, error) {
	var k key.Key
	var revokedAt, lastUsed sql.NullTime

	err := row.Scan(
		&k.ID, &k.UserID, &k.Hash, &k.Prefix, &k.Name,
		&revokedAt, &k.CreatedAt, &lastUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return key.Key{}, ErrNotFound
	}
	if err != nil {
		return key.Key{}, err
	}

	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if lastUsed.Valid {
		k.LastUsed = &lastUsed.Time
	}
	return k, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Ensure interface compliance.
var _ ports.KeyStore = (*KeyStore)(nil)
