package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// ListEnabledCronJobs returns every enabled job, for the scheduler's sync pass.
func (s *Store) ListEnabledCronJobs(ctx context.Context, q Querier) ([]*models.CronJob, error) {
	rows, err := q.Query(ctx, `
		SELECT id, project_id, name, job_type, cron_expr, timezone, url, method, encrypted_headers,
			encrypted_body, action, config, enabled, timeout_ms, retries, retry_backoff_ms,
			last_run_at, next_run_at
		FROM cron_jobs WHERE enabled = true
	`)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list enabled cron jobs")
	}
	defer rows.Close()

	var out []*models.CronJob
	for rows.Next() {
		j, err := scanCronJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// GetCronJob fetches a job by id.
func (s *Store) GetCronJob(ctx context.Context, q Querier, id string) (*models.CronJob, error) {
	row := q.QueryRow(ctx, `
		SELECT id, project_id, name, job_type, cron_expr, timezone, url, method, encrypted_headers,
			encrypted_body, action, config, enabled, timeout_ms, retries, retry_backoff_ms,
			last_run_at, next_run_at
		FROM cron_jobs WHERE id = $1
	`, id)
	j, err := scanCronJobRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("cron job %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

func scanCronJob(rows pgx.Rows) (*models.CronJob, error) {
	var j models.CronJob
	var configRaw []byte
	if err := rows.Scan(&j.ID, &j.ProjectID, &j.Name, &j.JobType, &j.CronExpr, &j.Timezone, &j.URL, &j.Method,
		&j.EncryptedHeaders, &j.EncryptedBody, &j.Action, &configRaw, &j.Enabled, &j.TimeoutMs, &j.Retries,
		&j.RetryBackoffMs, &j.LastRunAt, &j.NextRunAt); err != nil {
		return nil, apperr.UpstreamDB(err, "scan cron job")
	}
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &j.Config)
	}
	return &j, nil
}

func scanCronJobRow(row pgx.Row) (*models.CronJob, error) {
	var j models.CronJob
	var configRaw []byte
	if err := row.Scan(&j.ID, &j.ProjectID, &j.Name, &j.JobType, &j.CronExpr, &j.Timezone, &j.URL, &j.Method,
		&j.EncryptedHeaders, &j.EncryptedBody, &j.Action, &configRaw, &j.Enabled, &j.TimeoutMs, &j.Retries,
		&j.RetryBackoffMs, &j.LastRunAt, &j.NextRunAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperr.UpstreamDB(err, "scan cron job")
	}
	if len(configRaw) > 0 {
		_ = json.Unmarshal(configRaw, &j.Config)
	}
	return &j, nil
}

// UpdateCronNextRun persists next_run_at (and optionally last_run_at)
// after a sync pass installs a new arm, or after a dispatch completes.
func (s *Store) UpdateCronNextRun(ctx context.Context, q Querier, id string, lastRunAt, nextRunAt *time.Time) error {
	_, err := q.Exec(ctx, `
		UPDATE cron_jobs SET last_run_at = COALESCE($2, last_run_at), next_run_at = $3 WHERE id = $1
	`, id, lastRunAt, nextRunAt)
	if err != nil {
		return apperr.UpstreamDB(err, "update cron next run")
	}
	return nil
}

// CreateCronJobRun inserts a new attempt row at status running.
func (s *Store) CreateCronJobRun(ctx context.Context, q Querier, r *models.CronJobRun) error {
	_, err := q.Exec(ctx, `
		INSERT INTO cron_job_runs (id, job_id, attempt_number, started_at, finished_at, duration_ms,
			status, http_status, error_text, log_preview)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.JobID, r.AttemptNumber, r.StartedAt, r.FinishedAt, r.DurationMs, r.Status, r.HTTPStatus,
		r.ErrorText, r.LogPreview)
	if err != nil {
		return apperr.UpstreamDB(err, "insert cron job run")
	}
	return nil
}

// FinishCronJobRun updates a run row with its terminal status.
func (s *Store) FinishCronJobRun(ctx context.Context, q Querier, id string, status models.CronRunStatus, finishedAt time.Time, durationMs int64, httpStatus *int, errText, logPreview *string) error {
	_, err := q.Exec(ctx, `
		UPDATE cron_job_runs SET status = $2, finished_at = $3, duration_ms = $4, http_status = $5,
			error_text = $6, log_preview = $7
		WHERE id = $1
	`, id, status, finishedAt, durationMs, httpStatus, errText, logPreview)
	if err != nil {
		return apperr.UpstreamDB(err, "finish cron job run")
	}
	return nil
}

// ListRunsForJob returns all runs for a job ordered by start time. It has
// no caller in this module.
func (s *Store) ListRunsForJob(ctx context.Context, q Querier, jobID string) ([]*models.CronJobRun, error) {
	rows, err := q.Query(ctx, `
		SELECT id, job_id, attempt_number, started_at, finished_at, duration_ms, status, http_status,
			error_text, log_preview
		FROM cron_job_runs WHERE job_id = $1 ORDER BY started_at ASC
	`, jobID)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "list cron job runs")
	}
	defer rows.Close()

	var out []*models.CronJobRun
	for rows.Next() {
		var r models.CronJobRun
		if err := rows.Scan(&r.ID, &r.JobID, &r.AttemptNumber, &r.StartedAt, &r.FinishedAt, &r.DurationMs,
			&r.Status, &r.HTTPStatus, &r.ErrorText, &r.LogPreview); err != nil {
			return nil, apperr.UpstreamDB(err, "scan cron job run")
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
