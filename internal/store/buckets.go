package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// CreateLogicalBucket inserts a logical bucket namespace marker.
func (s *Store) CreateLogicalBucket(ctx context.Context, q Querier, b *models.LogicalBucket) error {
	_, err := q.Exec(ctx, `
		INSERT INTO buckets (id, project_id, name, created_at)
		VALUES ($1, $2, $3, $4)
	`, b.ID, b.ProjectID, b.Name, b.CreatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert logical bucket")
	}
	return nil
}

// GetLogicalBucket fetches a bucket by (project, name).
func (s *Store) GetLogicalBucket(ctx context.Context, q Querier, projectID, name string) (*models.LogicalBucket, error) {
	var b models.LogicalBucket
	err := q.QueryRow(ctx, `
		SELECT id, project_id, name, created_at FROM buckets
		WHERE project_id = $1 AND name = $2
	`, projectID, name).Scan(&b.ID, &b.ProjectID, &b.Name, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("logical bucket %q not found", name)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get logical bucket")
	}
	return &b, nil
}

// ListLogicalBuckets lists all logical buckets for a project.
func (s *Store) ListLogicalBuckets(ctx context.Context, q Querier, projectID string) ([]*models.LogicalBucket, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, name, created_at FROM buckets WHERE project_id = $1 ORDER BY name
	`, projectID)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list logical buckets")
	}
	defer rows.Close()

	var out []*models.LogicalBucket
	for rows.Next() {
		var b models.LogicalBucket
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Name, &b.CreatedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan logical bucket")
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// DeleteLogicalBucketsByProject removes every logical bucket row for a project.
func (s *Store) DeleteLogicalBucketsByProject(ctx context.Context, q Querier, projectID string) error {
	_, err := q.Exec(ctx, `DELETE FROM buckets WHERE project_id = $1`, projectID)
	if err != nil {
		return apperr.UpstreamDB(err, "delete logical buckets")
	}
	return nil
}
