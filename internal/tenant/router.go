// Package tenant implements the per-tenant connection router: a
// cache of connection pools keyed by (project, principal), built lazily
// on first access and explicitly torn down on project deletion or
// process shutdown. This is the single chokepoint for tenant database
// access — higher layers never dial a tenant database directly.
//
// Grounded in redbco-redb-open/pkg/database's pool-per-connection model,
// generalized from one pool per service to a map of two pools per
// project (owner/app).
package tenant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/pkg/logger"
)

// CredentialLookup resolves a (project, principal) pair to its
// envelope-encrypted connection descriptor. Satisfied by
// internal/store.Store.GetCredentialDefault.
type CredentialLookup interface {
	GetCredentialDefault(ctx context.Context, projectID string, principal models.Principal) (*models.ProjectCredential, error)
}

// connDescriptor is the plaintext shape stored, encrypted, in
// ProjectCredential.Ciphertext.
type connDescriptor struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Database          string `json:"database"`
	User              string `json:"user"`
	Password          string `json:"password"`
	SSLMode           string `json:"sslMode"`
}

// EncodeDescriptor renders a connection descriptor as the plaintext that
// gets encrypted into a ProjectCredential. Exported so provisioning
// can build the descriptor it hands to crypto.MasterKey.Encrypt.
func EncodeDescriptor(cfg dbconn.Config) (string, error) {
	d := connDescriptor{
		Host: cfg.Host, Port: cfg.Port, Database: cfg.Database,
		User: cfg.User, Password: cfg.Password, SSLMode: cfg.SSLMode,
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode connection descriptor: %w", err)
	}
	return string(b), nil
}

// DecodeDescriptor parses the plaintext connection descriptor produced
// by EncodeDescriptor. Exported so the backup engine can build a
// libpq DSN for pg_dump/pg_restore without going through the pool cache.
func DecodeDescriptor(plaintext string) (dbconn.Config, error) {
	var d connDescriptor
	if err := json.Unmarshal([]byte(plaintext), &d); err != nil {
		return dbconn.Config{}, fmt.Errorf("decode connection descriptor: %w", err)
	}
	return dbconn.Config{
		Host: d.Host, Port: d.Port, Database: d.Database,
		User: d.User, Password: d.Password, SSLMode: d.SSLMode,
		MaxConnections:    maxPoolConnsPerTier,
		ConnectionTimeout: 5 * time.Second,
	}, nil
}

const maxPoolConnsPerTier = 3 // at most 3 connections per (project, principal)

type tierPools struct {
	owner *dbconn.Pool
	app   *dbconn.Pool
}

// Router is the process-wide tenant connection cache.
type Router struct {
	mu    sync.Mutex
	pools map[string]*tierPools

	creds     CredentialLookup
	masterKey *crypto.MasterKey
	logger    *logger.Logger
}

// New constructs an empty router.
func New(creds CredentialLookup, masterKey *crypto.MasterKey, log *logger.Logger) *Router {
	return &Router{
		pools:     make(map[string]*tierPools),
		creds:     creds,
		masterKey: masterKey,
		logger:    log,
	}
}

// Get returns the pool for (projectID, principal), opening it lazily on
// first access by decrypting the stored credential row.
func (r *Router) Get(ctx context.Context, projectID string, principal models.Principal) (*dbconn.Pool, error) {
	r.mu.Lock()
	entry, ok := r.pools[projectID]
	if ok {
		pool := entry.forTier(principal)
		if pool != nil {
			r.mu.Unlock()
			return pool, nil
		}
	}
	r.mu.Unlock()

	pool, err := r.open(ctx, projectID, principal)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	entry, ok = r.pools[projectID]
	if !ok {
		entry = &tierPools{}
		r.pools[projectID] = entry
	}
	if existing := entry.forTier(principal); existing != nil {
		// Lost the race to another goroutine opening the same pool;
		// keep the one already installed and close the redundant one.
		r.mu.Unlock()
		pool.Close()
		return existing, nil
	}
	entry.setTier(principal, pool)
	r.mu.Unlock()

	return pool, nil
}

func (r *Router) open(ctx context.Context, projectID string, principal models.Principal) (*dbconn.Pool, error) {
	cred, err := r.creds.GetCredentialDefault(ctx, projectID, principal)
	if err != nil {
		return nil, err
	}

	plaintext, err := r.masterKey.Decrypt(crypto.Envelope{
		Ciphertext: cred.Ciphertext,
		IV:         cred.IV,
		Tag:        cred.AuthTag,
	})
	if err != nil {
		return nil, apperr.Crypto(err, "decrypt tenant credential for project %s principal %s", projectID, principal)
	}

	cfg, err := DecodeDescriptor(plaintext)
	if err != nil {
		return nil, apperr.Internal(err, "decode tenant connection descriptor")
	}

	pool, err := dbconn.Open(ctx, cfg)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "open tenant pool for project %s principal %s", projectID, principal)
	}

	if r.logger != nil {
		r.logger.Infof("opened tenant pool project=%s principal=%s", projectID, principal)
	}
	return pool, nil
}

func (t *tierPools) forTier(p models.Principal) *dbconn.Pool {
	if p == models.PrincipalOwner {
		return t.owner
	}
	return t.app
}

func (t *tierPools) setTier(p models.Principal, pool *dbconn.Pool) {
	if p == models.PrincipalOwner {
		t.owner = pool
	} else {
		t.app = pool
	}
}

// Close drains and removes both pools for a project, used on project deletion.
func (r *Router) Close(projectID string) {
	r.mu.Lock()
	entry, ok := r.pools[projectID]
	if ok {
		delete(r.pools, projectID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if entry.owner != nil {
		entry.owner.Close()
	}
	if entry.app != nil {
		entry.app.Close()
	}
}

// CloseAll drains every pool, used on process shutdown.
func (r *Router) CloseAll() {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*tierPools)
	r.mu.Unlock()

	for _, entry := range pools {
		if entry.owner != nil {
			entry.owner.Close()
		}
		if entry.app != nil {
			entry.app.Close()
		}
	}
}
