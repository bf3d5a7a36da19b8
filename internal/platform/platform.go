// Package platform owns every process-wide singleton — master key,
// platform pool, tenant router, schema cache, runtime settings,
// scheduler registry — behind a single Context constructed once at
// startup and torn down explicitly on shutdown.
//
// Grounded in the BaseService/Engine construction-and-Stop pattern found
// across redbco-redb-open/services/*/internal/engine/server.go's
// NewEngine/Stop, without the gRPC supervisor plane: this platform has
// one process, not a mesh of services, so there is one Context instead
// of one Engine per service.
package platform

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataforge/platform/internal/adminsql"
	"github.com/dataforge/platform/internal/apikey"
	"github.com/dataforge/platform/internal/backup"
	"github.com/dataforge/platform/internal/crud"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/provisioning"
	"github.com/dataforge/platform/internal/scheduler"
	"github.com/dataforge/platform/internal/session"
	"github.com/dataforge/platform/internal/storage"
	"github.com/dataforge/platform/internal/store"
	"github.com/dataforge/platform/internal/tenant"
	"github.com/dataforge/platform/pkg/health"
	"github.com/dataforge/platform/pkg/logger"
)

// Config holds every configuration key recognized by the platform,
// populated from environment variables.
type Config struct {
	HTTPAddr string

	DatabaseHost     string
	DatabasePort     int
	DatabaseName     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseSSLMode  string
	DatabasePoolMax  int32
	DatabaseIdleMs   int
	DatabaseConnMs   int

	// AdminDatabase is the superuser-reachable database used as the
	// connect-to point for CREATE DATABASE/CREATE ROLE (conventionally
	// "postgres"); the admin connection otherwise reuses the platform
	// database's host/user/password/sslmode.
	AdminDatabase string

	ObjectStoreEndpoint  string
	ObjectStoreSSL       bool
	ObjectStoreRegion    string
	ObjectStoreAccessKey string
	ObjectStoreSecretKey string

	PlatformMasterKey string

	RateLimitMax      int
	RateLimitWindowMs int

	SQLMaxRows            int
	SQLStatementTimeoutMs int

	PresignedURLExpirySeconds int
	MaxUploadSizeBytes        int64

	SchedulerPollIntervalMs   int
	SchedulerDefaultTimeoutMs int
	SchedulerMaxConcurrentJobs int
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ConfigFromEnv populates a Config from the process environment, applying
// a default for every variable that's unset.
func ConfigFromEnv() Config {
	return Config{
		HTTPAddr: getenv("PLATFORM_HTTP_ADDR", ":8080"),

		DatabaseHost:     getenv("PLATFORM_DB_HOST", "localhost"),
		DatabasePort:     getenvInt("PLATFORM_DB_PORT", 5432),
		DatabaseName:     getenv("PLATFORM_DB_NAME", "platform"),
		DatabaseUser:     getenv("PLATFORM_DB_USER", "postgres"),
		DatabasePassword: getenv("PLATFORM_DB_PASSWORD", ""),
		DatabaseSSLMode:  getenv("PLATFORM_DB_SSLMODE", "disable"),
		DatabasePoolMax:  int32(getenvInt("PLATFORM_DB_POOL_MAX", 10)),
		DatabaseIdleMs:   getenvInt("PLATFORM_DB_IDLE_MS", 300000),
		DatabaseConnMs:   getenvInt("PLATFORM_DB_CONN_MS", 5000),

		AdminDatabase: getenv("PLATFORM_DB_ADMIN_DATABASE", "postgres"),

		ObjectStoreEndpoint:  getenv("PLATFORM_OBJECTSTORE_ENDPOINT", "localhost:9000"),
		ObjectStoreSSL:       getenvBool("PLATFORM_OBJECTSTORE_SSL", false),
		ObjectStoreRegion:    getenv("PLATFORM_OBJECTSTORE_REGION", "us-east-1"),
		ObjectStoreAccessKey: getenv("PLATFORM_OBJECTSTORE_ACCESS_KEY", ""),
		ObjectStoreSecretKey: getenv("PLATFORM_OBJECTSTORE_SECRET_KEY", ""),

		PlatformMasterKey: getenv("PLATFORM_MASTER_KEY", ""),

		RateLimitMax:      getenvInt("PLATFORM_RATE_LIMIT_MAX", 600),
		RateLimitWindowMs: getenvInt("PLATFORM_RATE_LIMIT_WINDOW_MS", 60000),

		SQLMaxRows:            getenvInt("PLATFORM_SQL_MAX_ROWS", 10000),
		SQLStatementTimeoutMs: getenvInt("PLATFORM_SQL_STATEMENT_TIMEOUT_MS", 30000),

		PresignedURLExpirySeconds: getenvInt("PLATFORM_PRESIGNED_URL_EXPIRY_SECONDS", 900),
		MaxUploadSizeBytes:        int64(getenvInt("PLATFORM_MAX_UPLOAD_SIZE_BYTES", 100*1024*1024)),

		SchedulerPollIntervalMs:    getenvInt("PLATFORM_SCHEDULER_POLL_INTERVAL_MS", 45000),
		SchedulerDefaultTimeoutMs:  getenvInt("PLATFORM_SCHEDULER_DEFAULT_TIMEOUT_MS", 30000),
		SchedulerMaxConcurrentJobs: getenvInt("PLATFORM_SCHEDULER_MAX_CONCURRENT_JOBS", 10),
	}
}

func (c Config) adminConfig() provisioning.AdminConfig {
	return provisioning.AdminConfig{
		Host: c.DatabaseHost, Port: c.DatabasePort, Database: c.AdminDatabase,
		User: c.DatabaseUser, Password: c.DatabasePassword, SSLMode: c.DatabaseSSLMode,
	}
}

// Context is the top-level owner of every process-wide singleton.
type Context struct {
	Config Config
	Logger *logger.Logger
	Health *health.Checker

	pool *dbconn.Pool

	Store       *store.Store
	MasterKey   *crypto.MasterKey
	Router      *tenant.Router
	Provisioner *provisioning.Provisioner
	ApiKeys     *apikey.Service
	Schema      *crud.SchemaCache
	CRUD        *crud.Service
	AdminSQL    *adminsql.Executor
	Storage     *storage.Broker
	Backups     *backup.Engine
	Scheduler   *scheduler.Scheduler
	Sessions    *session.Service
	Settings    *Settings
}

// loggingNotifier implements scheduler.NotifySink by writing to the
// process logger; there is no external alerting collaborator in this
// deployment.
type loggingNotifier struct {
	logger *logger.Logger
}

func (n loggingNotifier) NotifyDispatchFailure(_ context.Context, job *models.CronJob, lastErr string) {
	n.logger.Warnf("cron job %s exhausted retries: %s", job.ID, lastErr)
}

func (n loggingNotifier) NotifyStatus(_ context.Context, message string) {
	n.logger.Infof("scheduler status: %s", message)
}

// zerologDiagnostics builds the subprocess-diagnostics logger the backup
// engine writes pg_dump/pg_restore stderr captures to, separate
// from the structured *logger.Logger used for control-flow events.
func zerologDiagnostics(log *logger.Logger) zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Str("component", "backup-subprocess").Logger()
}

// New wires every singleton from cfg, connecting to the platform database
// and object store, and starting the scheduler's control loop.
func New(ctx context.Context, cfg Config) (*Context, error) {
	log := logger.New("platform", "0.1.0")

	masterKey, err := crypto.DeriveMasterKey(cfg.PlatformMasterKey)
	if err != nil {
		return nil, fmt.Errorf("derive master key: %w", err)
	}

	pool, err := dbconn.Open(ctx, dbconn.Config{
		Host: cfg.DatabaseHost, Port: cfg.DatabasePort, Database: cfg.DatabaseName,
		User: cfg.DatabaseUser, Password: cfg.DatabasePassword, SSLMode: cfg.DatabaseSSLMode,
		MaxConnections:    cfg.DatabasePoolMax,
		ConnectionTimeout: time.Duration(cfg.DatabaseConnMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("open platform database pool: %w", err)
	}

	st := store.New(pool, log)
	router := tenant.New(st, masterKey, log)

	objBroker, err := storage.New(storage.Config{
		Endpoint: cfg.ObjectStoreEndpoint, AccessKeyID: cfg.ObjectStoreAccessKey,
		SecretAccessKey: cfg.ObjectStoreSecretKey, UseSSL: cfg.ObjectStoreSSL, Region: cfg.ObjectStoreRegion,
		MaxUploadSizeBytes: cfg.MaxUploadSizeBytes,
		PresignExpiry:      time.Duration(cfg.PresignedURLExpirySeconds) * time.Second,
	}, st)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create object-storage broker: %w", err)
	}

	provisioner := provisioning.New(st, router, masterKey, objBroker, cfg.adminConfig(), log)
	apiKeys := apikey.New(st, nil)
	schema := crud.NewSchemaCache()

	settings := newSettings(st, cfg)
	if err := settings.load(ctx); err != nil {
		log.Warnf("load runtime settings: %v", err)
	}

	crudSvc := crud.New(router, schema, func() int { return settings.Get().SQLMaxRows })
	adminSQL := adminsql.New(router,
		func() int { return settings.Get().SQLMaxRows },
		func() time.Duration { return time.Duration(settings.Get().SQLStatementTimeoutMs) * time.Millisecond },
	)

	diag := zerologDiagnostics(log)
	backups := backup.New(st, router, masterKey, objBroker, backup.Config{PlatformDSN: dbconn.Config{
		Host: cfg.DatabaseHost, Port: cfg.DatabasePort, Database: cfg.DatabaseName,
		User: cfg.DatabaseUser, Password: cfg.DatabasePassword, SSLMode: cfg.DatabaseSSLMode,
	}.DSN()}, log, diag)

	sched := scheduler.New(st, masterKey, backups, scheduler.Config{
		PollInterval:      time.Duration(cfg.SchedulerPollIntervalMs) * time.Millisecond,
		DefaultTimeoutMs:  cfg.SchedulerDefaultTimeoutMs,
		MaxConcurrentJobs: cfg.SchedulerMaxConcurrentJobs,
	}, log, loggingNotifier{logger: log})

	sessions := session.New(st, nil)

	checker := health.NewChecker()

	pctx := &Context{
		Config:      cfg,
		Logger:      log,
		Health:      checker,
		pool:        pool,
		Store:       st,
		MasterKey:   masterKey,
		Router:      router,
		Provisioner: provisioner,
		ApiKeys:     apiKeys,
		Schema:      schema,
		CRUD:        crudSvc,
		AdminSQL:    adminSQL,
		Storage:     objBroker,
		Backups:     backups,
		Scheduler:   sched,
		Sessions:    sessions,
		Settings:    settings,
	}

	sched.Start(ctx)

	return pctx, nil
}

// Close tears down every owned resource, mirroring redbco-redb-open's
// Engine.Stop draining pattern.
func (c *Context) Close() {
	if c.Scheduler != nil {
		c.Scheduler.Stop()
	}
	if c.Router != nil {
		c.Router.CloseAll()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
