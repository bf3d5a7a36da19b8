package store

import (
	"context"
	"encoding/json"

	"github.com/dataforge/platform/internal/models"
)

// RecordAudit appends an audit row and returns the insert error, if any.
// Audit writes must never cause the calling operation to fail, so callers
// log that error rather than propagating it.
func (s *Store) RecordAudit(ctx context.Context, q Querier, e *models.AuditEntry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		details = []byte("{}")
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_logs (id, project_id, user_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.ProjectID, e.UserID, e.Action, details, e.CreatedAt)
	return err
}

// DeleteAuditByProject removes audit rows tied to a deleted project.
func (s *Store) DeleteAuditByProject(ctx context.Context, q Querier, projectID string) error {
	_, err := q.Exec(ctx, `DELETE FROM audit_logs WHERE project_id = $1`, projectID)
	return err
}
