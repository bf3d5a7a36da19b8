package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// UpsertCredential inserts or replaces the (project, principal) credential
// row. Exactly two rows must exist per project; callers insert both
// principals during provisioning.
func (s *Store) UpsertCredential(ctx context.Context, q Querier, c *models.ProjectCredential) error {
	_, err := q.Exec(ctx, `
		INSERT INTO project_db_creds (project_id, principal, ciphertext, iv, auth_tag, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, principal) DO UPDATE SET
			ciphertext = EXCLUDED.ciphertext,
			iv = EXCLUDED.iv,
			auth_tag = EXCLUDED.auth_tag
	`, c.ProjectID, c.Principal, c.Ciphertext, c.IV, c.AuthTag, c.CreatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "upsert project credential")
	}
	return nil
}

// GetCredential fetches the encrypted credential for a (project, principal) pair.
func (s *Store) GetCredential(ctx context.Context, q Querier, projectID string, principal models.Principal) (*models.ProjectCredential, error) {
	var c models.ProjectCredential
	err := q.QueryRow(ctx, `
		SELECT project_id, principal, ciphertext, iv, auth_tag, created_at
		FROM project_db_creds WHERE project_id = $1 AND principal = $2
	`, projectID, principal).Scan(&c.ProjectID, &c.Principal, &c.Ciphertext, &c.IV, &c.AuthTag, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("credential for project %s principal %s not found", projectID, principal)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get project credential")
	}
	return &c, nil
}

// GetCredentialDefault fetches a credential using the store's default
// querier (outside any transaction). Satisfies internal/tenant's
// CredentialLookup contract for the connection router.
func (s *Store) GetCredentialDefault(ctx context.Context, projectID string, principal models.Principal) (*models.ProjectCredential, error) {
	return s.GetCredential(ctx, s.Q(), projectID, principal)
}

// DeleteCredentials removes both credential rows for a project.
func (s *Store) DeleteCredentials(ctx context.Context, q Querier, projectID string) error {
	_, err := q.Exec(ctx, `DELETE FROM project_db_creds WHERE project_id = $1`, projectID)
	if err != nil {
		return apperr.UpstreamDB(err, "delete project credentials")
	}
	return nil
}
