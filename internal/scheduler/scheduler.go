// Package scheduler implements the cron-driven dispatch loop:
// periodic sync of enabled jobs into live cron arms, bounded-concurrency
// dispatch with retry and backoff, and the platform-action executor that
// reuses the backup engine and tenant router.
//
// Grounded in robfig/cron/v3's Cron/AddFunc/Remove lifecycle (the
// standard Go scheduling library the platform examples pull in for
// exactly this purpose) and in the backup engine's own store-transition
// pattern for the run-row lifecycle.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/backup"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/store"
	"github.com/dataforge/platform/internal/tenant"
	"github.com/dataforge/platform/pkg/logger"
)

// Config holds the scheduler's tunables.
type Config struct {
	PollInterval      time.Duration // default 45s
	DefaultTimeoutMs  int           // default 30000
	MaxConcurrentJobs int           // default 10
}

const defaultPollInterval = 45 * time.Second

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return defaultPollInterval
	}
	return c.PollInterval
}

func (c Config) defaultTimeoutMs() int {
	if c.DefaultTimeoutMs <= 0 {
		return 30000
	}
	return c.DefaultTimeoutMs
}

func (c Config) maxConcurrentJobs() int {
	if c.MaxConcurrentJobs <= 0 {
		return 10
	}
	return c.MaxConcurrentJobs
}

// NotifySink receives structured scheduler events: a dispatch that
// exhausted every retry, or an explicit notify_status heartbeat.
type NotifySink interface {
	NotifyDispatchFailure(ctx context.Context, job *models.CronJob, lastErr string)
	NotifyStatus(ctx context.Context, message string)
}

// Scheduler owns the live cron registry and dispatch loop.
type Scheduler struct {
	store      *store.Store
	masterKey  *crypto.MasterKey
	backups    *backup.Engine
	cfg        Config
	httpClient *http.Client
	logger     *logger.Logger
	notify     NotifySink

	cron *cron.Cron

	mu           sync.Mutex
	activeJobs   map[string]cron.EntryID
	runningCount int
	inFlightJobs map[string]bool
}

// New constructs a Scheduler. notify may be nil.
func New(st *store.Store, masterKey *crypto.MasterKey, backups *backup.Engine, cfg Config, log *logger.Logger, notify NotifySink) *Scheduler {
	return &Scheduler{
		store:        st,
		masterKey:    masterKey,
		backups:      backups,
		cfg:          cfg,
		httpClient:   &http.Client{},
		logger:       log,
		notify:       notify,
		cron:         cron.New(),
		activeJobs:   make(map[string]cron.EntryID),
		inFlightJobs: make(map[string]bool),
	}
}

// Start runs an initial sync, then resyncs on cfg.PollInterval until ctx
// is cancelled. It also starts the underlying cron's own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	if err := s.Sync(ctx); err != nil && s.logger != nil {
		s.logger.Errorf("scheduler: initial sync: %v", err)
	}

	ticker := time.NewTicker(s.cfg.pollInterval())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sync(ctx); err != nil && s.logger != nil {
					s.logger.Errorf("scheduler: periodic sync: %v", err)
				}
			}
		}
	}()
}

// Stop drains the underlying cron scheduler. In-flight dispatches are
// allowed to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Sync loads every enabled job and reconciles it against the live
// registry: jobs no longer enabled (or deleted) have their arm cancelled;
// every loaded job gets a freshly (re)installed arm so edits to its cron
// expression take effect (I4: exactly one active arm per job id).
func (s *Scheduler) Sync(ctx context.Context) error {
	jobs, err := s.store.ListEnabledCronJobs(ctx, s.store.Q())
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		seen[job.ID] = true
		if err := s.installArm(ctx, job); err != nil && s.logger != nil {
			s.logger.Errorf("scheduler: install arm for job %s: %v", job.ID, err)
		}
	}

	s.mu.Lock()
	var stale []string
	for id := range s.activeJobs {
		if !seen[id] {
			stale = append(stale, id)
		}
	}
	s.mu.Unlock()

	for _, id := range stale {
		s.cancelArm(id)
	}

	return nil
}

func (s *Scheduler) cancelArm(jobID string) {
	s.mu.Lock()
	entryID, ok := s.activeJobs[jobID]
	if ok {
		delete(s.activeJobs, jobID)
	}
	s.mu.Unlock()
	if ok {
		s.cron.Remove(entryID)
	}
}

func (s *Scheduler) installArm(ctx context.Context, job *models.CronJob) error {
	s.cancelArm(job.ID)

	spec := job.CronExpr
	if job.Timezone != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", job.Timezone, job.CronExpr)
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(spec, func() {
		s.Dispatch(context.Background(), jobID)
	})
	if err != nil {
		return apperr.BadRequest("invalid cron expression for job %s: %v", job.ID, err)
	}

	s.mu.Lock()
	s.activeJobs[job.ID] = entryID
	s.mu.Unlock()

	entry := s.cron.Entry(entryID)
	nextRun := entry.Next
	if err := s.store.UpdateCronNextRun(ctx, s.store.Q(), job.ID, nil, &nextRun); err != nil && s.logger != nil {
		s.logger.Errorf("scheduler: persist next run for job %s: %v", job.ID, err)
	}
	return nil
}

// tryAcquire reports whether jobID may start a new dispatch: it must not
// already be in flight, and the global concurrent-dispatch cap must not
// be exhausted. robfig/cron fires each arm in its own goroutine without
// waiting for the previous firing, so this map (not arm re-entry) is
// what actually keeps two dispatches of the same job from overlapping.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlightJobs[jobID] {
		return false
	}
	if s.runningCount >= s.cfg.maxConcurrentJobs() {
		return false
	}
	s.runningCount++
	s.inFlightJobs[jobID] = true
	return true
}

func (s *Scheduler) release(jobID string) {
	s.mu.Lock()
	s.runningCount--
	delete(s.inFlightJobs, jobID)
	s.mu.Unlock()
}

// Dispatch runs one firing of a job: capacity and in-flight check, then
// attempts 1..retries+1 with backoff between failures.
func (s *Scheduler) Dispatch(ctx context.Context, jobID string) {
	if !s.tryAcquire(jobID) {
		if s.logger != nil {
			s.logger.Warnf("scheduler: dropping fire for job %s, already in flight or at capacity", jobID)
		}
		return
	}
	defer s.release(jobID)

	job, err := s.store.GetCronJob(ctx, s.store.Q(), jobID)
	if err != nil {
		if s.logger != nil {
			s.logger.Errorf("scheduler: load job %s: %v", jobID, err)
		}
		return
	}

	now := time.Now().UTC()
	var lastErr string
	succeeded := false

	for attempt := 1; attempt <= job.Retries+1; attempt++ {
		runID := uuid.NewString()
		started := time.Now().UTC()
		if err := s.store.CreateCronJobRun(ctx, s.store.Q(), &models.CronJobRun{
			ID: runID, JobID: job.ID, AttemptNumber: attempt, StartedAt: started, Status: models.RunRunning,
		}); err != nil && s.logger != nil {
			s.logger.Errorf("scheduler: insert run row for job %s: %v", job.ID, err)
		}

		status, httpStatus, preview, runErr := s.execute(ctx, job)
		finished := time.Now().UTC()
		durationMs := finished.Sub(started).Milliseconds()

		var errText *string
		if runErr != nil {
			msg := runErr.Error()
			errText = &msg
			lastErr = msg
		}
		if err := s.store.FinishCronJobRun(ctx, s.store.Q(), runID, status, finished, durationMs, httpStatus, errText, preview); err != nil && s.logger != nil {
			s.logger.Errorf("scheduler: finish run row for job %s: %v", job.ID, err)
		}

		if runErr == nil {
			succeeded = true
			break
		}
		if attempt <= job.Retries {
			time.Sleep(time.Duration(job.RetryBackoffMs) * time.Millisecond)
		}
	}

	nextRun := time.Time{}
	s.mu.Lock()
	if entryID, ok := s.activeJobs[job.ID]; ok {
		nextRun = s.cron.Entry(entryID).Next
	}
	s.mu.Unlock()

	var nextRunPtr *time.Time
	if !nextRun.IsZero() {
		nextRunPtr = &nextRun
	}
	if err := s.store.UpdateCronNextRun(ctx, s.store.Q(), job.ID, &now, nextRunPtr); err != nil && s.logger != nil {
		s.logger.Errorf("scheduler: refresh run timestamps for job %s: %v", job.ID, err)
	}

	if !succeeded && s.notify != nil {
		s.notify.NotifyDispatchFailure(ctx, job, lastErr)
	}
}

// execute runs a single dispatch attempt and reports its outcome.
func (s *Scheduler) execute(ctx context.Context, job *models.CronJob) (status models.CronRunStatus, httpStatus *int, preview *string, err error) {
	timeoutMs := job.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = s.cfg.defaultTimeoutMs()
	}
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	switch job.JobType {
	case models.CronHTTP:
		return s.executeHTTP(attemptCtx, job)
	case models.CronPlatform:
		if err := s.executePlatformAction(attemptCtx, job); err != nil {
			return models.RunFail, nil, nil, err
		}
		return models.RunSuccess, nil, nil, nil
	default:
		return models.RunFail, nil, nil, apperr.BadRequest("unknown cron job type %q", job.JobType)
	}
}

func (s *Scheduler) executeHTTP(ctx context.Context, job *models.CronJob) (models.CronRunStatus, *int, *string, error) {
	if job.URL == nil {
		return models.RunFail, nil, nil, apperr.BadRequest("http job missing url")
	}
	method := "GET"
	if job.Method != nil && *job.Method != "" {
		method = *job.Method
	}

	var body io.Reader
	if job.EncryptedBody != nil {
		plaintext, err := s.decrypt(*job.EncryptedBody)
		if err != nil {
			return models.RunFail, nil, nil, err
		}
		body = bytes.NewReader([]byte(plaintext))
	}

	req, err := http.NewRequestWithContext(ctx, method, *job.URL, body)
	if err != nil {
		return models.RunFail, nil, nil, apperr.Internal(err, "build http job request")
	}

	if job.EncryptedHeaders != nil {
		plaintext, err := s.decrypt(*job.EncryptedHeaders)
		if err != nil {
			return models.RunFail, nil, nil, err
		}
		var headers map[string]string
		if err := json.Unmarshal([]byte(plaintext), &headers); err != nil {
			return models.RunFail, nil, nil, apperr.Internal(err, "decode http job headers")
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.RunTimeout, nil, nil, apperr.Timeout("http job timed out: %v", err)
		}
		return models.RunFail, nil, nil, apperr.Internal(err, "execute http job")
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
	previewStr := string(data)

	if status >= 400 {
		return models.RunFail, &status, &previewStr, apperr.BadRequest("http job returned status %d", status)
	}
	return models.RunSuccess, &status, &previewStr, nil
}

func (s *Scheduler) decrypt(encoded string) (string, error) {
	env, err := crypto.DecodeEnvelope(encoded)
	if err != nil {
		return "", apperr.Internal(err, "decode job payload envelope")
	}
	plaintext, err := s.masterKey.Decrypt(env)
	if err != nil {
		return "", apperr.Crypto(err, "decrypt job payload")
	}
	return plaintext, nil
}

// executePlatformAction runs one of the named platform actions against
// the store/backup engine/tenant router.
func (s *Scheduler) executePlatformAction(ctx context.Context, job *models.CronJob) error {
	if job.Action == nil {
		return apperr.BadRequest("platform job missing action")
	}
	switch *job.Action {
	case "backup_project":
		projectID, _ := job.Config["projectId"].(string)
		if projectID == "" {
			return apperr.BadRequest("backup_project requires projectId in config")
		}
		_, err := s.backups.Create(ctx, backup.CreateInput{
			ProjectID: &projectID, Type: models.BackupProject, Format: models.FormatSQL,
		})
		return err

	case "backup_all_projects":
		projects, err := s.store.ListProjects(ctx, s.store.Q())
		if err != nil {
			return err
		}
		for _, p := range projects {
			pid := p.ID
			if _, err := s.backups.Create(ctx, backup.CreateInput{
				ProjectID: &pid, Type: models.BackupProject, Format: models.FormatSQL,
			}); err != nil && s.logger != nil {
				s.logger.Errorf("backup_all_projects: project %s: %v", pid, err)
			}
		}
		return nil

	case "cleanup_backups_with_retention":
		var projectID *string
		if pid, ok := job.Config["projectId"].(string); ok && pid != "" {
			projectID = &pid
		}
		return s.backups.SweepRetention(ctx, projectID)

	case "cleanup_expired_backups":
		return s.backups.SweepExpired(ctx)

	case "vacuum_database":
		return s.vacuumAllProjects(ctx)

	case "notify_status":
		if s.notify != nil {
			s.notify.NotifyStatus(ctx, fmt.Sprintf("job %s requested a status notification", job.ID))
		}
		return nil

	default:
		return apperr.BadRequest("unknown platform action %q", *job.Action)
	}
}

// vacuumAllProjects opens a size-1 pool per project owner credential, runs
// VACUUM ANALYZE, and closes it.
func (s *Scheduler) vacuumAllProjects(ctx context.Context) error {
	projects, err := s.store.ListProjects(ctx, s.store.Q())
	if err != nil {
		return err
	}
	for _, p := range projects {
		pid := p.ID
		cred, err := s.store.GetCredentialDefault(ctx, pid, models.PrincipalOwner)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("vacuum_database: project %s: load credential: %v", pid, err)
			}
			continue
		}
		plaintext, err := s.masterKey.Decrypt(crypto.Envelope{Ciphertext: cred.Ciphertext, IV: cred.IV, Tag: cred.AuthTag})
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("vacuum_database: project %s: decrypt credential: %v", pid, err)
			}
			continue
		}
		cfg, err := tenant.DecodeDescriptor(plaintext)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("vacuum_database: project %s: decode descriptor: %v", pid, err)
			}
			continue
		}
		cfg.MaxConnections = 1

		pool, err := dbconn.Open(ctx, cfg)
		if err != nil {
			if s.logger != nil {
				s.logger.Errorf("vacuum_database: project %s: open pool: %v", pid, err)
			}
			continue
		}
		if _, err := pool.Raw().Exec(ctx, "VACUUM ANALYZE"); err != nil && s.logger != nil {
			s.logger.Errorf("vacuum_database: project %s: vacuum: %v", pid, err)
		}
		pool.Close()
	}
	return nil
}
