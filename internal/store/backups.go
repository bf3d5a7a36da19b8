package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// CreateBackup inserts a new backup row at status pending.
func (s *Store) CreateBackup(ctx context.Context, q Querier, b *models.Backup) error {
	_, err := q.Exec(ctx, `
		INSERT INTO backups (id, project_id, type, table_name, object_key, size_bytes, format, status,
			error_message, retention_days, expires_at, created_by, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, b.ID, b.ProjectID, b.Type, b.TableName, b.ObjectKey, b.SizeBytes, b.Format, b.Status,
		b.ErrorMessage, b.RetentionDays, b.ExpiresAt, b.CreatedBy, b.CreatedAt, b.CompletedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert backup")
	}
	return nil
}

// GetBackup fetches a backup by id.
func (s *Store) GetBackup(ctx context.Context, q Querier, id string) (*models.Backup, error) {
	var b models.Backup
	err := q.QueryRow(ctx, `
		SELECT id, project_id, type, table_name, object_key, size_bytes, format, status,
			error_message, retention_days, expires_at, created_by, created_at, completed_at
		FROM backups WHERE id = $1
	`, id).Scan(&b.ID, &b.ProjectID, &b.Type, &b.TableName, &b.ObjectKey, &b.SizeBytes, &b.Format, &b.Status,
		&b.ErrorMessage, &b.RetentionDays, &b.ExpiresAt, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("backup %s not found", id)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get backup")
	}
	return &b, nil
}

// ListBackups lists backups, optionally scoped to a project, newest first.
func (s *Store) ListBackups(ctx context.Context, q Querier, projectID *string) ([]*models.Backup, error) {
	var rows pgx.Rows
	var err error
	if projectID != nil {
		rows, err = q.Query(ctx, `
			SELECT id, project_id, type, table_name, object_key, size_bytes, format, status,
				error_message, retention_days, expires_at, created_by, created_at, completed_at
			FROM backups WHERE project_id = $1 ORDER BY created_at DESC
		`, *projectID)
	} else {
		rows, err = q.Query(ctx, `
			SELECT id, project_id, type, table_name, object_key, size_bytes, format, status,
				error_message, retention_days, expires_at, created_by, created_at, completed_at
			FROM backups ORDER BY created_at DESC
		`)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list backups")
	}
	defer rows.Close()

	var out []*models.Backup
	for rows.Next() {
		var b models.Backup
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Type, &b.TableName, &b.ObjectKey, &b.SizeBytes, &b.Format, &b.Status,
			&b.ErrorMessage, &b.RetentionDays, &b.ExpiresAt, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan backup")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ListCompletedProjectBackups returns completed project-type backups for
// a project, newest first, for the retention classifier.
func (s *Store) ListCompletedProjectBackups(ctx context.Context, q Querier, projectID string) ([]*models.Backup, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, type, table_name, object_key, size_bytes, format, status,
			error_message, retention_days, expires_at, created_by, created_at, completed_at
		FROM backups
		WHERE project_id = $1 AND type = 'project' AND status = 'completed'
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list completed project backups")
	}
	defer rows.Close()

	var out []*models.Backup
	for rows.Next() {
		var b models.Backup
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Type, &b.TableName, &b.ObjectKey, &b.SizeBytes, &b.Format, &b.Status,
			&b.ErrorMessage, &b.RetentionDays, &b.ExpiresAt, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan backup")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ListDistinctBackupProjectIDs returns the distinct project ids with at
// least one completed project-type backup, for the retention sweep.
func (s *Store) ListDistinctBackupProjectIDs(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT DISTINCT project_id FROM backups
		WHERE type = 'project' AND status = 'completed' AND project_id IS NOT NULL
	`)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list backup project ids")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.UpstreamDB(err, "scan project id")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListExpiredBackups returns backups whose legacy expires_at has passed.
func (s *Store) ListExpiredBackups(ctx context.Context, q Querier, now time.Time) ([]*models.Backup, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, type, table_name, object_key, size_bytes, format, status,
			error_message, retention_days, expires_at, created_by, created_at, completed_at
		FROM backups WHERE expires_at IS NOT NULL AND expires_at < $1
	`, now)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list expired backups")
	}
	defer rows.Close()

	var out []*models.Backup
	for rows.Next() {
		var b models.Backup
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Type, &b.TableName, &b.ObjectKey, &b.SizeBytes, &b.Format, &b.Status,
			&b.ErrorMessage, &b.RetentionDays, &b.ExpiresAt, &b.CreatedBy, &b.CreatedAt, &b.CompletedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan backup")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// TransitionBackupRunning moves a backup from pending to running.
func (s *Store) TransitionBackupRunning(ctx context.Context, q Querier, id string) error {
	_, err := q.Exec(ctx, `UPDATE backups SET status = 'running' WHERE id = $1`, id)
	if err != nil {
		return apperr.UpstreamDB(err, "transition backup to running")
	}
	return nil
}

// CompleteBackup moves a backup to completed, recording its object key,
// size, and completion time.
func (s *Store) CompleteBackup(ctx context.Context, q Querier, id, objectKey string, sizeBytes int64, completedAt time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE backups SET status = 'completed', object_key = $2, size_bytes = $3, completed_at = $4 WHERE id = $1
	`, id, objectKey, sizeBytes, completedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "complete backup")
	}
	return nil
}

// FailBackup moves a backup to failed, recording the error message.
func (s *Store) FailBackup(ctx context.Context, q Querier, id string, message string) error {
	_, err := q.Exec(ctx, `UPDATE backups SET status = 'failed', error_message = $2 WHERE id = $1`, id, message)
	if err != nil {
		return apperr.UpstreamDB(err, "fail backup")
	}
	return nil
}

// DeleteBackup removes a backup row.
func (s *Store) DeleteBackup(ctx context.Context, q Querier, id string) error {
	_, err := q.Exec(ctx, `DELETE FROM backups WHERE id = $1`, id)
	if err != nil {
		return apperr.UpstreamDB(err, "delete backup")
	}
	return nil
}
