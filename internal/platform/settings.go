package platform

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dataforge/platform/internal/store"
)

// Settings keys persisted in the platform store's settings table.
const (
	settingRateLimitMax          = "rate_limit_max"
	settingRateLimitWindowMs     = "rate_limit_window_ms"
	settingSQLMaxRows            = "sql_max_rows"
	settingSQLStatementTimeoutMs = "sql_statement_timeout_ms"
	settingPublicStorageURL      = "public_storage_url"
)

// Settings holds the durable, admin-mutable runtime parameters: rate
// limit caps, SQL row/timeout caps, and the public storage URL. It
// starts from Config's environment-derived defaults and
// is overlaid with whatever the settings table holds, giving every
// admin-tunable parameter a durable value that survives a restart and
// takes effect without one.
type Settings struct {
	mu sync.RWMutex

	store *store.Store

	rateLimitMax          int
	rateLimitWindowMs     int
	sqlMaxRows            int
	sqlStatementTimeoutMs int
	publicStorageURL      string
}

func newSettings(st *store.Store, cfg Config) *Settings {
	return &Settings{
		store:                 st,
		rateLimitMax:          cfg.RateLimitMax,
		rateLimitWindowMs:     cfg.RateLimitWindowMs,
		sqlMaxRows:            cfg.SQLMaxRows,
		sqlStatementTimeoutMs: cfg.SQLStatementTimeoutMs,
	}
}

// load overlays any persisted settings on top of the environment-derived
// defaults, ignoring unparseable or absent values.
func (s *Settings) load(ctx context.Context) error {
	values, err := s.store.LoadSettings(ctx, s.store.Q())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := values[settingRateLimitMax]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.rateLimitMax = n
		}
	}
	if v, ok := values[settingRateLimitWindowMs]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.rateLimitWindowMs = n
		}
	}
	if v, ok := values[settingSQLMaxRows]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.sqlMaxRows = n
		}
	}
	if v, ok := values[settingSQLStatementTimeoutMs]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			s.sqlStatementTimeoutMs = n
		}
	}
	if v, ok := values[settingPublicStorageURL]; ok {
		s.publicStorageURL = v
	}
	return nil
}

// Snapshot is the admin-facing view of the current runtime settings.
type Snapshot struct {
	RateLimitMax          int    `json:"rateLimitMax"`
	RateLimitWindowMs     int    `json:"rateLimitWindowMs"`
	SQLMaxRows            int    `json:"sqlMaxRows"`
	SQLStatementTimeoutMs int    `json:"sqlStatementTimeoutMs"`
	PublicStorageURL      string `json:"publicStorageUrl"`
}

// Get returns a consistent snapshot of every runtime setting.
func (s *Settings) Get() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		RateLimitMax:          s.rateLimitMax,
		RateLimitWindowMs:     s.rateLimitWindowMs,
		SQLMaxRows:            s.sqlMaxRows,
		SQLStatementTimeoutMs: s.sqlStatementTimeoutMs,
		PublicStorageURL:      s.publicStorageURL,
	}
}

// Update applies a partial set of changes, persisting each one to the
// settings table, and returns the resulting snapshot.
func (s *Settings) Update(ctx context.Context, patch Snapshot, fields []string) (Snapshot, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fields {
		switch f {
		case "rateLimitMax":
			s.rateLimitMax = patch.RateLimitMax
			if err := s.store.UpsertSetting(ctx, s.store.Q(), settingRateLimitMax, strconv.Itoa(patch.RateLimitMax), now); err != nil {
				return Snapshot{}, err
			}
		case "rateLimitWindowMs":
			s.rateLimitWindowMs = patch.RateLimitWindowMs
			if err := s.store.UpsertSetting(ctx, s.store.Q(), settingRateLimitWindowMs, strconv.Itoa(patch.RateLimitWindowMs), now); err != nil {
				return Snapshot{}, err
			}
		case "sqlMaxRows":
			s.sqlMaxRows = patch.SQLMaxRows
			if err := s.store.UpsertSetting(ctx, s.store.Q(), settingSQLMaxRows, strconv.Itoa(patch.SQLMaxRows), now); err != nil {
				return Snapshot{}, err
			}
		case "sqlStatementTimeoutMs":
			s.sqlStatementTimeoutMs = patch.SQLStatementTimeoutMs
			if err := s.store.UpsertSetting(ctx, s.store.Q(), settingSQLStatementTimeoutMs, strconv.Itoa(patch.SQLStatementTimeoutMs), now); err != nil {
				return Snapshot{}, err
			}
		case "publicStorageUrl":
			s.publicStorageURL = patch.PublicStorageURL
			if err := s.store.UpsertSetting(ctx, s.store.Q(), settingPublicStorageURL, patch.PublicStorageURL, now); err != nil {
				return Snapshot{}, err
			}
		}
	}

	return Snapshot{
		RateLimitMax:          s.rateLimitMax,
		RateLimitWindowMs:     s.rateLimitWindowMs,
		SQLMaxRows:            s.sqlMaxRows,
		SQLStatementTimeoutMs: s.sqlStatementTimeoutMs,
		PublicStorageURL:      s.publicStorageURL,
	}, nil
}
