package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/agentmeter/domain/key"
	"github.com/artpar/agentmeter/ports"
)

// KeyService manages API key lifecycle: create, list, revoke, rotate.
type KeyService struct {
	keys      ports.KeyStore
	clock     ports.Clock
	keyPrefix string
	logger    zerolog.Logger
}

// NewKeyService creates a new key service.
func NewKeyService(keys ports.KeyStore, clock ports.Clock, keyPrefix string, logger zerolog.Logger) *KeyService {
	return &KeyService{
		keys:      keys,
		clock:     clock,
		keyPrefix: keyPrefix,
		logger:    logger.With().Str("service", "keys").Logger(),
	}
}

// Create mints a new key for a user. The raw secret is returned once
// and never stored.
func (s *KeyService) Create(ctx context.Context, userID, name string) (string, key.Key, error) {
	rawKey, k := key.Generate(s.keyPrefix)
	k = k.WithUserID(userID).WithName(name)

	if err := s.keys.Create(ctx, k); err != nil {
		return "", key.Key{}, err
	}

	s.logger.Info().Str("key_id", k.ID).Str("user_id", userID).Msg("api key created")
	return rawKey, k, nil
}

// List returns all of a user's keys, including revoked ones.
func (s *KeyService) List(ctx context.Context, userID string) ([]key.Key, error) {
	return s.keys.ListByUser(ctx, userID)
}

// Revoke deactivates a key. The record survives for audit; events
// already recorded with it are untouched.
func (s *KeyService) Revoke(ctx context.Context, id string) error {
	if err := s.keys.Revoke(ctx, id, s.clock.Now()); err != nil {
		return err
	}
	s.logger.Info().Str("key_id", id).Msg("api key revoked")
	return nil
}

// Rotate replaces a key's secret while keeping its identity. The store
// applies hash and prefix in one update, so the old secret stops
// validating exactly when the new one starts.
func (s *KeyService) Rotate(ctx context.Context, id string) (string, key.Key, error) {
	k, err := s.keys.GetByID(ctx, id)
	if err != nil {
		return "", key.Key{}, err
	}

	rawKey, rotated := key.Rotate(k, s.keyPrefix)
	if err := s.keys.Rotate(ctx, rotated.ID, rotated.Hash, rotated.Prefix); err != nil {
		return "", key.Key{}, err
	}

	s.logger.Info().Str("key_id", id).Msg("api key rotated")
	return rawKey, rotated, nil
}
