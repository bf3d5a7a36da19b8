// Package backup implements the backup engine: asynchronous
// dump/export jobs driven by pg_dump/pg_restore subprocesses, plus the
// age-banded retention classifier and legacy-expiry cleanup.
//
// Grounded in alexandrem-conduit-bmc's subprocess pattern
// (local-agent/pkg/ipmi/subprocess.go: exec.CommandContext, buffered
// stdout/stderr, zerolog diagnostics around the call) generalized from
// ipmitool to pg_dump/pg_restore, and in the platform store's own
// transaction/typed-accessor split for the backup row lifecycle.
package backup

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/crud"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/storage"
	"github.com/dataforge/platform/internal/store"
	"github.com/dataforge/platform/internal/tenant"
	"github.com/dataforge/platform/pkg/logger"
)

// quoteTableIdent double-quotes a table name already validated against
// crud.TableNamePattern, matching the compiler's own identifier quoting.
func quoteTableIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Config configures the backup engine. PlatformDSN is the libpq
// connection string for the platform database itself, used for
// "platform"-scope backups.
type Config struct {
	PlatformDSN   string
	PgDumpPath    string // default "pg_dump"
	PgRestorePath string // default "pg_restore"
}

func (c Config) pgDump() string {
	if c.PgDumpPath == "" {
		return "pg_dump"
	}
	return c.PgDumpPath
}

func (c Config) pgRestore() string {
	if c.PgRestorePath == "" {
		return "pg_restore"
	}
	return c.PgRestorePath
}

// Engine runs backup/restore jobs and the retention sweep.
type Engine struct {
	store     *store.Store
	router    *tenant.Router
	masterKey *crypto.MasterKey
	broker    *storage.Broker
	cfg       Config
	logger    *logger.Logger
	diag      zerolog.Logger
}

// New constructs an Engine. diag is a zerolog.Logger dedicated to
// subprocess stderr/diagnostics, additive to (not a replacement for)
// the platform's structured logger.
func New(st *store.Store, router *tenant.Router, masterKey *crypto.MasterKey, broker *storage.Broker, cfg Config, log *logger.Logger, diag zerolog.Logger) *Engine {
	return &Engine{store: st, router: router, masterKey: masterKey, broker: broker, cfg: cfg, logger: log, diag: diag}
}

// CreateInput describes a requested backup.
type CreateInput struct {
	ProjectID     *string
	Type          models.BackupType
	TableName     *string
	Format        models.BackupFormat
	RetentionDays *int
	CreatedBy     *string
}

// expiresAtFor computes a backup row's expiry from an optional
// admin-supplied retention window, or nil if none was given.
func expiresAtFor(now time.Time, retentionDays *int) *time.Time {
	if retentionDays == nil {
		return nil
	}
	expires := now.Add(time.Duration(*retentionDays) * 24 * time.Hour)
	return &expires
}

// Create inserts a pending Backup row and kicks off asynchronous
// execution in a detached goroutine, returning immediately. The caller
// (HTTP layer) has already decided to respond 202 before this work
// finishes.
func (e *Engine) Create(ctx context.Context, in CreateInput) (*models.Backup, error) {
	now := time.Now().UTC()
	b := &models.Backup{
		ID:            uuid.NewString(),
		ProjectID:     in.ProjectID,
		Type:          in.Type,
		TableName:     in.TableName,
		Format:        in.Format,
		Status:        models.BackupPending,
		RetentionDays: in.RetentionDays,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
	}
	b.ExpiresAt = expiresAtFor(now, in.RetentionDays)
	if err := e.store.CreateBackup(ctx, e.store.Q(), b); err != nil {
		return nil, err
	}

	go e.run(context.Background(), b.ID)

	return b, nil
}

func (e *Engine) run(ctx context.Context, backupID string) {
	b, err := e.store.GetBackup(ctx, e.store.Q(), backupID)
	if err != nil {
		if e.logger != nil {
			e.logger.Errorf("backup %s: load before run: %v", backupID, err)
		}
		return
	}

	if err := e.store.TransitionBackupRunning(ctx, e.store.Q(), backupID); err != nil {
		if e.logger != nil {
			e.logger.Errorf("backup %s: transition to running: %v", backupID, err)
		}
		return
	}

	data, ext, err := e.produce(ctx, b)
	if err != nil {
		if failErr := e.store.FailBackup(ctx, e.store.Q(), backupID, err.Error()); failErr != nil && e.logger != nil {
			e.logger.Errorf("backup %s: record failure: %v", backupID, failErr)
		}
		return
	}

	objectKey := e.objectKeyFor(b, ext)
	if err := e.broker.EnsureBucket(ctx, storage.BackupBucket); err != nil {
		e.failBackup(ctx, backupID, err)
		return
	}
	if err := e.broker.PutBytes(ctx, storage.BackupBucket, objectKey, data, contentTypeFor(ext)); err != nil {
		e.failBackup(ctx, backupID, err)
		return
	}

	if err := e.store.CompleteBackup(ctx, e.store.Q(), backupID, objectKey, int64(len(data)), time.Now().UTC()); err != nil && e.logger != nil {
		e.logger.Errorf("backup %s: complete: %v", backupID, err)
	}
}

func (e *Engine) failBackup(ctx context.Context, backupID string, err error) {
	if dbErr := e.store.FailBackup(ctx, e.store.Q(), backupID, err.Error()); dbErr != nil && e.logger != nil {
		e.logger.Errorf("backup %s: record failure: %v", backupID, dbErr)
	}
}

func (e *Engine) objectKeyFor(b *models.Backup, ext string) string {
	ts := b.CreatedAt.Format("20060102T150405")
	switch b.Type {
	case models.BackupPlatform:
		return fmt.Sprintf("platform/full_%s.%s", ts, ext)
	case models.BackupTable:
		return fmt.Sprintf("projects/%s/tables/%s_%s.%s", safe(b.ProjectID), safe(b.TableName), ts, ext)
	default:
		return fmt.Sprintf("projects/%s/full_%s.%s", safe(b.ProjectID), ts, ext)
	}
}

func safe(s *string) string {
	if s == nil {
		return "unknown"
	}
	return *s
}

func contentTypeFor(ext string) string {
	switch ext {
	case "csv":
		return "text/csv"
	case "json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// produce dispatches to the right backend per backup type, returning the
// artifact bytes and its file extension.
func (e *Engine) produce(ctx context.Context, b *models.Backup) ([]byte, string, error) {
	switch b.Type {
	case models.BackupPlatform:
		data, err := e.pgDump(ctx, e.cfg.PlatformDSN)
		return data, "sql", err
	case models.BackupProject:
		if b.ProjectID == nil {
			return nil, "", apperr.BadRequest("project backup requires a project id")
		}
		dsn, err := e.tenantDSN(ctx, *b.ProjectID, models.PrincipalOwner)
		if err != nil {
			return nil, "", err
		}
		data, err := e.pgDump(ctx, dsn)
		return data, "sql", err
	case models.BackupTable:
		if b.ProjectID == nil || b.TableName == nil {
			return nil, "", apperr.BadRequest("table backup requires a project id and table name")
		}
		return e.dumpTable(ctx, *b.ProjectID, *b.TableName, b.Format)
	default:
		return nil, "", apperr.BadRequest("unknown backup type %q", b.Type)
	}
}

func (e *Engine) tenantDSN(ctx context.Context, projectID string, principal models.Principal) (string, error) {
	cred, err := e.store.GetCredentialDefault(ctx, projectID, principal)
	if err != nil {
		return "", err
	}
	plaintext, err := e.masterKey.Decrypt(crypto.Envelope{Ciphertext: cred.Ciphertext, IV: cred.IV, Tag: cred.AuthTag})
	if err != nil {
		return "", apperr.Crypto(err, "decrypt tenant credential for project %s", projectID)
	}
	cfg, err := tenant.DecodeDescriptor(plaintext)
	if err != nil {
		return "", apperr.Internal(err, "decode tenant connection descriptor")
	}
	return cfg.DSN(), nil
}

// pgDump spawns pg_dump against a libpq DSN, capturing stdout as the
// dump artifact and logging stderr via the diagnostics logger.
func (e *Engine) pgDump(ctx context.Context, dsn string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, e.cfg.pgDump(), "-d", dsn, "--no-owner", "--no-acl", "-Fc")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	e.diag.Debug().Str("tool", "pg_dump").Msg("spawning dump subprocess")

	if err := cmd.Run(); err != nil {
		e.diag.Error().Err(err).Str("stderr", stderr.String()).Msg("pg_dump failed")
		return nil, apperr.Internal(err, "pg_dump failed: %s", firstLines(stderr.String(), 10))
	}
	return stdout.Bytes(), nil
}

// RestoreProject downloads a completed "sql"-format project backup and
// restores it via pg_restore. Exit code 0 is success; exit code 1 is
// success-with-warnings (first 10 stderr lines returned); any other
// exit code is failure.
func (e *Engine) RestoreProject(ctx context.Context, backupID string) (warnings []string, err error) {
	b, err := e.store.GetBackup(ctx, e.store.Q(), backupID)
	if err != nil {
		return nil, err
	}
	if b.Type != models.BackupProject || b.Format != models.FormatSQL {
		return nil, apperr.BadRequest("restore is only supported for project/sql backups")
	}
	if b.ProjectID == nil {
		return nil, apperr.Internal(nil, "project backup missing project id")
	}

	data, err := e.broker.GetBytes(ctx, storage.BackupBucket, b.ObjectKey)
	if err != nil {
		return nil, err
	}

	dsn, err := e.tenantDSN(ctx, *b.ProjectID, models.PrincipalOwner)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cfg.pgRestore(), "-d", dsn, "--clean", "--if-exists", "--no-owner", "--no-acl")
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.diag.Debug().Str("tool", "pg_restore").Str("backup_id", backupID).Msg("spawning restore subprocess")

	runErr := cmd.Run()
	exitCode := exitCodeOf(runErr)
	switch exitCode {
	case 0:
		return nil, nil
	case 1:
		return firstLinesSlice(stderr.String(), 10), nil
	default:
		e.diag.Error().Err(runErr).Str("stderr", stderr.String()).Msg("pg_restore failed")
		return nil, apperr.Internal(runErr, "pg_restore failed: %s", firstLines(stderr.String(), 10))
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = ee
	return true
}

func firstLines(s string, n int) string {
	return strings.Join(firstLinesSlice(s, n), "\n")
}

func firstLinesSlice(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}

// dumpTable runs SELECT * FROM "<table>" LIMIT 100000 via the owner
// pool and serializes the result as CSV or JSON.
func (e *Engine) dumpTable(ctx context.Context, projectID, table string, format models.BackupFormat) ([]byte, string, error) {
	if !crud.TableNamePattern.MatchString(table) {
		return nil, "", apperr.BadRequest("invalid table name %q", table)
	}

	pool, err := e.router.Get(ctx, projectID, models.PrincipalOwner)
	if err != nil {
		return nil, "", err
	}

	rows, err := pool.Raw().Query(ctx, fmt.Sprintf(`SELECT * FROM %s LIMIT 100000`, quoteTableIdent(table)))
	if err != nil {
		return nil, "", apperr.UpstreamDB(err, "query table %s for export", table)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	colNames := make([]string, len(fields))
	for i, f := range fields {
		colNames[i] = string(f.Name)
	}

	var records [][]string
	var jsonRows []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, "", apperr.UpstreamDB(err, "scan table row for export")
		}
		if format == models.FormatJSON {
			row := make(map[string]any, len(colNames))
			for i, name := range colNames {
				row[name] = values[i]
			}
			jsonRows = append(jsonRows, row)
			continue
		}
		record := make([]string, len(values))
		for i, v := range values {
			record[i] = fmt.Sprint(v)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperr.UpstreamDB(err, "iterate table export rows")
	}

	if format == models.FormatJSON {
		data, err := json.Marshal(jsonRows)
		if err != nil {
			return nil, "", apperr.Internal(err, "marshal table export as json")
		}
		return data, "json", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(colNames); err != nil {
		return nil, "", apperr.Internal(err, "write csv header")
	}
	for _, record := range records {
		if err := w.Write(record); err != nil {
			return nil, "", apperr.Internal(err, "write csv row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", apperr.Internal(err, "flush csv writer")
	}
	return buf.Bytes(), "csv", nil
}

// RetentionBand classifies a backup's age into a retention decision.
// BandKeepNewestOnly3to7d and BandKeepNewestOnly7to14d are distinct
// tiers: each keeps its own newest backup, so a project with backups
// spread across both tiers keeps up to two — one per tier — not one
// across the whole 3-14d range.
type RetentionBand int

const (
	BandKeep RetentionBand = iota
	BandKeepNewestOnly3to7d
	BandKeepNewestOnly7to14d
	BandDeleteAll
)

// ClassifyAge is an age-banded retention classifier expressed as a pure
// function of age.
func ClassifyAge(age time.Duration) RetentionBand {
	switch {
	case age < 3*24*time.Hour:
		return BandKeep
	case age < 7*24*time.Hour:
		return BandKeepNewestOnly3to7d
	case age < 14*24*time.Hour:
		return BandKeepNewestOnly7to14d
	default:
		return BandDeleteAll
	}
}

// planRetentionSweep decides which backups to delete under the
// age-banded retention policy, given backups already sorted newest
// first. Each keep-newest-only band tracks its own kept backup
// independently, so the newest of the 3-7d tier and the newest of the
// 7-14d tier both survive a sweep. Pulled out of SweepRetention as a
// pure function of (backups, now) so the policy is testable without a
// database.
func planRetentionSweep(backups []*models.Backup, now time.Time) []*models.Backup {
	var toDelete []*models.Backup
	kept := make(map[RetentionBand]bool)
	for _, b := range backups {
		age := now.Sub(b.CreatedAt)
		band := ClassifyAge(age)
		switch band {
		case BandKeep:
			continue
		case BandKeepNewestOnly3to7d, BandKeepNewestOnly7to14d:
			if !kept[band] {
				kept[band] = true
				continue
			}
			toDelete = append(toDelete, b)
		case BandDeleteAll:
			toDelete = append(toDelete, b)
		}
	}
	return toDelete
}

// SweepRetention applies the age-banded retention policy to every
// project with completed project-type backups. Object deletion errors
// are swallowed — row deletion is what matters.
func (e *Engine) SweepRetention(ctx context.Context, projectID *string) error {
	var projectIDs []string
	if projectID != nil {
		projectIDs = []string{*projectID}
	} else {
		ids, err := e.store.ListDistinctBackupProjectIDs(ctx, e.store.Q())
		if err != nil {
			return err
		}
		projectIDs = ids
	}

	now := time.Now().UTC()
	for _, pid := range projectIDs {
		backups, err := e.store.ListCompletedProjectBackups(ctx, e.store.Q(), pid)
		if err != nil {
			if e.logger != nil {
				e.logger.Warnf("retention sweep: list backups for project %s: %v", pid, err)
			}
			continue
		}
		sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.After(backups[j].CreatedAt) })

		for _, b := range planRetentionSweep(backups, now) {
			e.deleteBackup(ctx, b)
		}
	}
	return nil
}

func (e *Engine) deleteBackup(ctx context.Context, b *models.Backup) {
	if err := e.broker.DeleteObjectFromBucket(ctx, storage.BackupBucket, b.ObjectKey); err != nil && e.logger != nil {
		e.logger.Warnf("retention sweep: delete object for backup %s: %v", b.ID, err)
	}
	if err := e.store.DeleteBackup(ctx, e.store.Q(), b.ID); err != nil && e.logger != nil {
		e.logger.Warnf("retention sweep: delete row for backup %s: %v", b.ID, err)
	}
}

// SweepExpired deletes every backup whose legacy expires_at has passed.
// This is orthogonal to SweepRetention.
func (e *Engine) SweepExpired(ctx context.Context) error {
	expired, err := e.store.ListExpiredBackups(ctx, e.store.Q(), time.Now().UTC())
	if err != nil {
		return err
	}
	for _, b := range expired {
		e.deleteBackup(ctx, b)
	}
	return nil
}
