package store

import (
	"context"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// UpsertFileMetadata records best-effort object metadata, keyed by
// (project, object_key), on presigned-upload issuance.
func (s *Store) UpsertFileMetadata(ctx context.Context, q Querier, f *models.FileMetadata) error {
	_, err := q.Exec(ctx, `
		INSERT INTO file_metadata (id, project_id, logical_bucket, object_key, content_type, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, object_key) DO UPDATE SET
			logical_bucket = EXCLUDED.logical_bucket,
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size
	`, f.ID, f.ProjectID, f.LogicalBucket, f.ObjectKey, f.ContentType, f.Size, f.CreatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "upsert file metadata")
	}
	return nil
}

// DeleteFileMetadata removes a single object's metadata row.
func (s *Store) DeleteFileMetadata(ctx context.Context, q Querier, projectID, objectKey string) error {
	_, err := q.Exec(ctx, `DELETE FROM file_metadata WHERE project_id = $1 AND object_key = $2`, projectID, objectKey)
	if err != nil {
		return apperr.UpstreamDB(err, "delete file metadata")
	}
	return nil
}

// DeleteFileMetadataByProject removes every file metadata row for a project.
func (s *Store) DeleteFileMetadataByProject(ctx context.Context, q Querier, projectID string) error {
	_, err := q.Exec(ctx, `DELETE FROM file_metadata WHERE project_id = $1`, projectID)
	if err != nil {
		return apperr.UpstreamDB(err, "delete file metadata by project")
	}
	return nil
}
