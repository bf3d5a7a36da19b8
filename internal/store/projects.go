package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// CreateProject inserts a new project row.
func (s *Store) CreateProject(ctx context.Context, q Querier, p *models.Project) error {
	_, err := q.Exec(ctx, `
		INSERT INTO projects (id, name, slug, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Name, p.Slug, p.Description, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert project")
	}
	return nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, q Querier, id string) (*models.Project, error) {
	var p models.Project
	err := q.QueryRow(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("project %s not found", id)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get project")
	}
	return &p, nil
}

// ListProjects returns all projects, newest first.
func (s *Store) ListProjects(ctx context.Context, q Querier) ([]*models.Project, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM projects ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list projects")
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, apperr.UpstreamDB(err, "scan project")
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// DeleteProject removes the project row (and is expected to run as part
// of the wider cascade inside Store.Transaction during provisioning
// delete).
func (s *Store) DeleteProject(ctx context.Context, q Querier, id string) error {
	_, err := q.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return apperr.UpstreamDB(err, "delete project")
	}
	return nil
}

// TouchProject bumps updated_at.
func (s *Store) TouchProject(ctx context.Context, q Querier, id string, now time.Time) error {
	_, err := q.Exec(ctx, `UPDATE projects SET updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return apperr.UpstreamDB(err, "touch project")
	}
	return nil
}
