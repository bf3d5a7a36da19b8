// Package provisioning implements project lifecycle orchestration:
// the create/delete algorithm that stands up (or tears down) a tenant
// database, its two role tiers, its default logical buckets, and its
// physical object-storage bucket as a single compensating operation.
//
// Grounded in the CreateDatabase/DropDatabase helpers in
// redbco-redb-open/services/anchor/internal/database/postgres/connection.go
// for DDL shape, generalized to the platform's two-role, two-pool tenant
// model and wrapped in a cleanup-on-failure discipline: any error after
// DDL begins triggers idempotent compensation before it's returned.
package provisioning

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/store"
	"github.com/dataforge/platform/internal/tenant"
	"github.com/dataforge/platform/pkg/logger"
)

// ObjectNamespace is the slice of the object-storage broker provisioning
// needs: creating and destroying a project's physical bucket. Satisfied
// by internal/storage.Broker.
type ObjectNamespace interface {
	CreateProjectNamespace(ctx context.Context, projectID string) error
	DestroyProjectNamespace(ctx context.Context, projectID string) error
}

// AdminConfig describes how to reach the Postgres instance as a
// superuser for DDL — creating/dropping tenant databases and roles.
// Host/Port/SSLMode are shared across all tenants; Database names the
// administrative connection database (conventionally "postgres").
type AdminConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c AdminConfig) dbconnConfig(database string) dbconn.Config {
	return dbconn.Config{
		Host: c.Host, Port: c.Port, Database: database,
		User: c.User, Password: c.Password, SSLMode: c.SSLMode,
		MaxConnections: 2, ConnectionTimeout: 5 * time.Second,
	}
}

// Provisioner owns project create/delete orchestration.
type Provisioner struct {
	store     *store.Store
	router    *tenant.Router
	masterKey *crypto.MasterKey
	objects   ObjectNamespace
	admin     AdminConfig
	logger    *logger.Logger
}

// New constructs a Provisioner.
func New(st *store.Store, router *tenant.Router, masterKey *crypto.MasterKey, objects ObjectNamespace, admin AdminConfig, log *logger.Logger) *Provisioner {
	return &Provisioner{store: st, router: router, masterKey: masterKey, objects: objects, admin: admin, logger: log}
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// dbNameFor derives the deterministic database name from a project id:
// "proj_<id-without-dashes>".
func dbNameFor(projectID string) string {
	return "proj_" + strings.ReplaceAll(projectID, "-", "")
}

func ownerRoleFor(dbName string) string { return dbName + "_owner" }
func appRoleFor(dbName string) string   { return dbName + "_app" }

func randomPassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateResult is the public contract of a successful create: the project
// row plus the two plaintext keys, which exist only at this instant.
type CreateResult struct {
	Project        *models.Project
	PublishableKey string
	SecretKey      string
}

// Create runs the full provisioning algorithm: DDL outside any
// transaction first, then grants inside the new database, then a single
// platform-store transaction for all control plane rows plus the
// physical bucket. Any failure after DDL begins triggers idempotent
// cleanup before the error is returned.
func (p *Provisioner) Create(ctx context.Context, name, description string) (*CreateResult, error) {
	id := uuid.NewString()
	dbName := dbNameFor(id)
	ownerRole := ownerRoleFor(dbName)
	appRole := appRoleFor(dbName)

	if !identPattern.MatchString(dbName) || !identPattern.MatchString(ownerRole) || !identPattern.MatchString(appRole) {
		return nil, apperr.Internal(nil, "generated identifiers are not valid SQL identifiers")
	}

	ownerPassword, err := randomPassword()
	if err != nil {
		return nil, apperr.Internal(err, "generate owner password")
	}
	appPassword, err := randomPassword()
	if err != nil {
		return nil, apperr.Internal(err, "generate app password")
	}

	if err := p.createDatabaseAndRoles(ctx, dbName, ownerRole, appRole, ownerPassword, appPassword); err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.UpstreamDB(err, "provision tenant database")
	}

	if err := p.grantDefaultPrivileges(ctx, dbName, ownerRole, appRole); err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.UpstreamDB(err, "grant default privileges")
	}

	ownerDescriptor, err := tenant.EncodeDescriptor(dbconn.Config{
		Host: p.admin.Host, Port: p.admin.Port, Database: dbName,
		User: ownerRole, Password: ownerPassword, SSLMode: p.admin.SSLMode,
	})
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.Internal(err, "encode owner connection descriptor")
	}
	appDescriptor, err := tenant.EncodeDescriptor(dbconn.Config{
		Host: p.admin.Host, Port: p.admin.Port, Database: dbName,
		User: appRole, Password: appPassword, SSLMode: p.admin.SSLMode,
	})
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.Internal(err, "encode app connection descriptor")
	}

	ownerEnv, err := p.masterKey.Encrypt(ownerDescriptor)
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, err
	}
	appEnv, err := p.masterKey.Encrypt(appDescriptor)
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, err
	}

	pubKey, err := crypto.GenerateAPIKey(crypto.KeyPublishable)
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.Internal(err, "generate publishable key")
	}
	secKey, err := crypto.GenerateAPIKey(crypto.KeySecret)
	if err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, apperr.Internal(err, "generate secret key")
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID: id, Name: name, Slug: dbName, CreatedAt: now, UpdatedAt: now,
	}
	if description != "" {
		project.Description = &description
	}

	txErr := p.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		if err := p.store.CreateProject(ctx, q, project); err != nil {
			return err
		}
		for _, cred := range []*models.ProjectCredential{
			{ProjectID: id, Principal: models.PrincipalOwner, Ciphertext: ownerEnv.Ciphertext, IV: ownerEnv.IV, AuthTag: ownerEnv.Tag, CreatedAt: now},
			{ProjectID: id, Principal: models.PrincipalApp, Ciphertext: appEnv.Ciphertext, IV: appEnv.IV, AuthTag: appEnv.Tag, CreatedAt: now},
		} {
			if err := p.store.UpsertCredential(ctx, q, cred); err != nil {
				return err
			}
		}
		for _, key := range []*models.ApiKey{
			{ID: uuid.NewString(), ProjectID: id, Type: models.ApiKeyPublishable, Hash: crypto.HashKey(pubKey), Prefix: crypto.KeyPrefix(pubKey), CreatedAt: now},
			{ID: uuid.NewString(), ProjectID: id, Type: models.ApiKeySecret, Hash: crypto.HashKey(secKey), Prefix: crypto.KeyPrefix(secKey), CreatedAt: now},
		} {
			if err := p.store.CreateAPIKey(ctx, q, key); err != nil {
				return err
			}
		}
		for _, bucketName := range []string{"private", "uploads"} {
			if err := p.store.CreateLogicalBucket(ctx, q, &models.LogicalBucket{
				ID: uuid.NewString(), ProjectID: id, Name: bucketName, CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		return nil, txErr
	}

	if err := p.objects.CreateProjectNamespace(ctx, id); err != nil {
		p.cleanup(ctx, dbName, ownerRole, appRole)
		if delErr := p.store.DeleteProject(ctx, p.store.Q(), id); delErr != nil && p.logger != nil {
			p.logger.Warnf("cleanup: delete project row %s after bucket failure: %v", id, delErr)
		}
		return nil, apperr.UpstreamStore(err, "create physical bucket for project %s", id)
	}

	return &CreateResult{Project: project, PublishableKey: pubKey, SecretKey: secKey}, nil
}

func (p *Provisioner) createDatabaseAndRoles(ctx context.Context, dbName, ownerRole, appRole, ownerPassword, appPassword string) error {
	admin := p.admin.dbconnConfig(p.admin.Database)

	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(
		`CREATE ROLE %s WITH LOGIN PASSWORD '%s'`, ownerRole, escapeLiteral(ownerPassword))); err != nil {
		return err
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(
		`CREATE ROLE %s WITH LOGIN PASSWORD '%s'`, appRole, escapeLiteral(appPassword))); err != nil {
		return err
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(
		`CREATE DATABASE %s OWNER %s`, dbName, ownerRole)); err != nil {
		return err
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(
		`GRANT ALL PRIVILEGES ON DATABASE %s TO %s`, dbName, ownerRole)); err != nil {
		return err
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(
		`GRANT CONNECT ON DATABASE %s TO %s`, dbName, appRole)); err != nil {
		return err
	}
	return nil
}

// grantDefaultPrivileges connects to the freshly created database (not
// the admin database) to grant schema-level and default privileges.
func (p *Provisioner) grantDefaultPrivileges(ctx context.Context, dbName, ownerRole, appRole string) error {
	cfg := p.admin.dbconnConfig(dbName)
	pool, err := dbconn.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to new database %s: %w", dbName, err)
	}
	defer pool.Close()

	stmts := []string{
		fmt.Sprintf(`GRANT ALL ON SCHEMA public TO %s`, ownerRole),
		fmt.Sprintf(`ALTER DEFAULT PRIVILEGES FOR ROLE %s IN SCHEMA public GRANT SELECT, INSERT, UPDATE, DELETE ON TABLES TO %s`, ownerRole, appRole),
		fmt.Sprintf(`ALTER DEFAULT PRIVILEGES FOR ROLE %s IN SCHEMA public GRANT USAGE, SELECT ON SEQUENCES TO %s`, ownerRole, appRole),
	}
	for _, stmt := range stmts {
		if _, err := pool.Raw().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}

// cleanup performs idempotent DROP DATABASE/DROP ROLE compensation.
// Failures are logged, never re-raised — the caller has already decided
// to surface the original error.
func (p *Provisioner) cleanup(ctx context.Context, dbName, ownerRole, appRole string) {
	admin := p.admin.dbconnConfig(p.admin.Database)
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, dbName)); err != nil && p.logger != nil {
		p.logger.Warnf("cleanup: drop database %s: %v", dbName, err)
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP ROLE IF EXISTS %s`, ownerRole)); err != nil && p.logger != nil {
		p.logger.Warnf("cleanup: drop role %s: %v", ownerRole, err)
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP ROLE IF EXISTS %s`, appRole)); err != nil && p.logger != nil {
		p.logger.Warnf("cleanup: drop role %s: %v", appRole, err)
	}
}

// Delete tears a project down: tenant pools close first, then one
// platform-store transaction removes every dependent row, then DDL and
// the physical bucket are torn down outside any transaction. Cleanup
// failures are logged and never re-raised; no audit entry is written
// for them.
func (p *Provisioner) Delete(ctx context.Context, projectID string) error {
	project, err := p.store.GetProject(ctx, p.store.Q(), projectID)
	if err != nil {
		return err
	}
	dbName := project.Slug
	ownerRole := ownerRoleFor(dbName)
	appRole := appRoleFor(dbName)

	p.router.Close(projectID)

	txErr := p.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		if err := p.store.DeleteFileMetadataByProject(ctx, q, projectID); err != nil {
			return err
		}
		if err := p.store.DeleteLogicalBucketsByProject(ctx, q, projectID); err != nil {
			return err
		}
		if err := p.store.DeleteKeysByProject(ctx, q, projectID); err != nil {
			return err
		}
		if err := p.store.DeleteCredentials(ctx, q, projectID); err != nil {
			return err
		}
		if err := p.store.DeleteAuditByProject(ctx, q, projectID); err != nil {
			return err
		}
		return p.store.DeleteProject(ctx, q, projectID)
	})
	if txErr != nil {
		return txErr
	}

	admin := p.admin.dbconnConfig(p.admin.Database)
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP DATABASE IF EXISTS %s`, dbName)); err != nil && p.logger != nil {
		p.logger.Warnf("delete project %s: drop database %s: %v", projectID, dbName, err)
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP ROLE IF EXISTS %s`, ownerRole)); err != nil && p.logger != nil {
		p.logger.Warnf("delete project %s: drop role %s: %v", projectID, ownerRole, err)
	}
	if err := dbconn.AdminExec(ctx, admin, fmt.Sprintf(`DROP ROLE IF EXISTS %s`, appRole)); err != nil && p.logger != nil {
		p.logger.Warnf("delete project %s: drop role %s: %v", projectID, appRole, err)
	}
	if err := p.objects.DestroyProjectNamespace(ctx, projectID); err != nil && p.logger != nil {
		p.logger.Warnf("delete project %s: destroy object namespace: %v", projectID, err)
	}

	return nil
}

// escapeLiteral doubles single quotes in a SQL string literal. Passwords
// are generated by randomPassword (base64url alphabet, never contains a
// quote) so this is defensive rather than load-bearing.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
