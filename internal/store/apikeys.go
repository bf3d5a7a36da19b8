package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// CreateAPIKey inserts a new key row.
func (s *Store) CreateAPIKey(ctx context.Context, q Querier, k *models.ApiKey) error {
	_, err := q.Exec(ctx, `
		INSERT INTO api_keys (id, project_id, type, hash, prefix, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, k.ID, k.ProjectID, k.Type, k.Hash, k.Prefix, k.CreatedAt, k.ExpiresAt, k.RevokedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert api key")
	}
	return nil
}

// ListActiveKeys returns every key that is currently active, across all
// projects. The API-key service scans this set linearly to keep its
// hash-compare side-channel-safe (see internal/apikey).
func (s *Store) ListActiveKeys(ctx context.Context, q Querier, now time.Time) ([]*models.ApiKey, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, type, hash, prefix, created_at, expires_at, revoked_at
		FROM api_keys
		WHERE revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $1)
	`, now)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list active api keys")
	}
	defer rows.Close()

	var out []*models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Type, &k.Hash, &k.Prefix, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan api key")
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// ListKeysByProjectAndType returns every key (active or not) of a type for a project.
func (s *Store) ListKeysByProjectAndType(ctx context.Context, q Querier, projectID string, keyType models.ApiKeyType) ([]*models.ApiKey, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, type, hash, prefix, created_at, expires_at, revoked_at
		FROM api_keys WHERE project_id = $1 AND type = $2
	`, projectID, keyType)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list api keys by project")
	}
	defer rows.Close()

	var out []*models.ApiKey
	for rows.Next() {
		var k models.ApiKey
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Type, &k.Hash, &k.Prefix, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan api key")
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// GetAPIKey fetches a key by id.
func (s *Store) GetAPIKey(ctx context.Context, q Querier, id string) (*models.ApiKey, error) {
	var k models.ApiKey
	err := q.QueryRow(ctx, `
		SELECT id, project_id, type, hash, prefix, created_at, expires_at, revoked_at
		FROM api_keys WHERE id = $1
	`, id).Scan(&k.ID, &k.ProjectID, &k.Type, &k.Hash, &k.Prefix, &k.CreatedAt, &k.ExpiresAt, &k.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("api key %s not found", id)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get api key")
	}
	return &k, nil
}

// RevokeKeysWhereActive marks all currently-active keys of a type for a
// project as revoked. The number of affected rows is not returned.
func (s *Store) RevokeKeysWhereActive(ctx context.Context, q Querier, projectID string, keyType models.ApiKeyType, now time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $3
		WHERE project_id = $1 AND type = $2 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $3)
	`, projectID, keyType, now)
	if err != nil {
		return apperr.UpstreamDB(err, "revoke active api keys")
	}
	return nil
}

// RevokeKeyIfActive revokes a single key iff it is currently active.
func (s *Store) RevokeKeyIfActive(ctx context.Context, q Querier, id string, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE api_keys SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL AND (expires_at IS NULL OR expires_at > $2)
	`, id, now)
	if err != nil {
		return false, apperr.UpstreamDB(err, "revoke api key")
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteKeysByProject removes every key row for a project (provisioning delete).
func (s *Store) DeleteKeysByProject(ctx context.Context, q Querier, projectID string) error {
	_, err := q.Exec(ctx, `DELETE FROM api_keys WHERE project_id = $1`, projectID)
	if err != nil {
		return apperr.UpstreamDB(err, "delete api keys")
	}
	return nil
}
