// Package apikey implements the API-key service: validation by
// side-channel-safe linear scan, rotation, and revocation.
//
// Grounded in redbco-redb-open/services/security's key-hash comparison
// approach, generalized to a "scan every active key, constant-time
// compare each" validation contract that deliberately forgoes an indexed
// hash lookup to avoid leaking which candidate matched through timing.
package apikey

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/store"
)

// Service validates, rotates, and revokes project API keys.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New constructs a Service. now defaults to time.Now when nil, overridable in tests.
func New(st *store.Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, now: now}
}

// Validate computes the plaintext's hash once, then linearly scans every
// currently-active key comparing in constant time, returning the first
// match. The scan never short-circuits early based on a cheap prefix
// check alone — every candidate is compared — so that which key (if any)
// matched cannot be inferred from timing.
func (s *Service) Validate(ctx context.Context, plaintext string) (*models.ProjectContext, error) {
	hash := crypto.HashKey(plaintext)
	now := s.now()

	active, err := s.store.ListActiveKeys(ctx, s.store.Q(), now)
	if err != nil {
		return nil, err
	}

	var matched *models.ApiKey
	for _, k := range active {
		if crypto.ConstantTimeEqual(hash, k.Hash) {
			if matched == nil {
				matched = k
			}
		}
	}
	if matched == nil {
		return nil, apperr.Unauthorized("invalid api key")
	}
	return &models.ProjectContext{ProjectID: matched.ProjectID, KeyID: matched.ID, KeyType: matched.Type}, nil
}

// Rotate transactionally revokes every currently-active key of the given
// type for a project and inserts a new one, returning its plaintext.
func (s *Service) Rotate(ctx context.Context, projectID string, keyType models.ApiKeyType) (string, error) {
	plaintext, err := crypto.GenerateAPIKey(kindFor(keyType))
	if err != nil {
		return "", apperr.Internal(err, "generate rotated api key")
	}

	now := s.now()
	txErr := s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		if err := s.store.RevokeKeysWhereActive(ctx, q, projectID, keyType, now); err != nil {
			return err
		}
		return s.store.CreateAPIKey(ctx, q, &models.ApiKey{
			ID:        uuid.NewString(),
			ProjectID: projectID,
			Type:      keyType,
			Hash:      crypto.HashKey(plaintext),
			Prefix:    crypto.KeyPrefix(plaintext),
			CreatedAt: now,
		})
	})
	if txErr != nil {
		return "", txErr
	}
	return plaintext, nil
}

// Revoke sets revokedAt on a key iff it is currently active, reporting
// whether a revocation actually happened.
func (s *Service) Revoke(ctx context.Context, keyID string) (bool, error) {
	return s.store.RevokeKeyIfActive(ctx, s.store.Q(), keyID, s.now())
}

func kindFor(t models.ApiKeyType) crypto.ApiKeyKind {
	if t == models.ApiKeySecret {
		return crypto.KeySecret
	}
	return crypto.KeyPublishable
}
