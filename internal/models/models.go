// Package models defines the platform's control-plane record types.
// All identifiers are opaque UUIDs; timestamps are UTC instants.
package models

import "time"

// Project is a provisioned tenant unit.
type Project struct {
	ID          string
	Name        string
	Slug        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Principal is a tenant database role tier.
type Principal string

const (
	PrincipalOwner Principal = "owner"
	PrincipalApp   Principal = "app"
)

// ProjectCredential is an envelope-encrypted tenant database connection
// descriptor. Exactly two rows exist per project.
type ProjectCredential struct {
	ProjectID  string
	Principal  Principal
	Ciphertext string
	IV         string
	AuthTag    string
	CreatedAt  time.Time
}

// ApiKeyType distinguishes publishable from secret keys.
type ApiKeyType string

const (
	ApiKeyPublishable ApiKeyType = "publishable"
	ApiKeySecret      ApiKeyType = "secret"
)

// ApiKey is a hashed, project-scoped API credential.
type ApiKey struct {
	ID        string
	ProjectID string
	Type      ApiKeyType
	Hash      string
	Prefix    string
	CreatedAt time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
}

// Active reports whether the key is currently usable: not revoked and not
// past its expiry. The store's SQL queries (internal/store/apikeys.go)
// apply the same condition on their own rather than calling this method.
func (k ApiKey) Active(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// LogicalBucket is a namespace marker inside a project's single physical
// object-store bucket.
type LogicalBucket struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
}

// FileMetadata records a best-effort mirror of an object in the store.
type FileMetadata struct {
	ID            string
	ProjectID     string
	LogicalBucket string
	ObjectKey     string
	ContentType   string
	Size          int64
	CreatedAt     time.Time
}

// AuditEntry is an append-only operator/audit log row.
type AuditEntry struct {
	ID        string
	ProjectID *string
	UserID    *string
	Action    string
	Details   map[string]any
	CreatedAt time.Time
}

// BackupType distinguishes the scope of a backup.
type BackupType string

const (
	BackupPlatform BackupType = "platform"
	BackupProject  BackupType = "project"
	BackupTable    BackupType = "table"
)

// BackupFormat is the serialization of the backup's object.
type BackupFormat string

const (
	FormatSQL  BackupFormat = "sql"
	FormatCSV  BackupFormat = "csv"
	FormatJSON BackupFormat = "json"
)

// BackupStatus tracks the backup row through its lifecycle.
type BackupStatus string

const (
	BackupPending   BackupStatus = "pending"
	BackupRunning   BackupStatus = "running"
	BackupCompleted BackupStatus = "completed"
	BackupFailed    BackupStatus = "failed"
)

// Backup is a dump/export job and its result.
type Backup struct {
	ID            string
	ProjectID     *string
	Type          BackupType
	TableName     *string
	ObjectKey     string
	SizeBytes     int64
	Format        BackupFormat
	Status        BackupStatus
	ErrorMessage  *string
	RetentionDays *int
	ExpiresAt     *time.Time
	CreatedBy     *string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// CronJobType distinguishes HTTP dispatches from platform actions.
type CronJobType string

const (
	CronHTTP     CronJobType = "http"
	CronPlatform CronJobType = "platform"
)

// CronJob is a scheduled, retryable dispatch definition.
type CronJob struct {
	ID      string
	ProjectID *string
	Name    string
	JobType CronJobType
	CronExpr string
	Timezone string

	// HTTP job fields.
	URL             *string
	Method          *string
	EncryptedHeaders *string
	EncryptedBody    *string

	// Platform job fields.
	Action *string
	Config map[string]any

	Enabled        bool
	TimeoutMs      int
	Retries        int
	RetryBackoffMs int
	LastRunAt      *time.Time
	NextRunAt      *time.Time
}

// CronRunStatus is the outcome of a single dispatch attempt.
type CronRunStatus string

const (
	RunRunning CronRunStatus = "running"
	RunSuccess CronRunStatus = "success"
	RunFail    CronRunStatus = "fail"
	RunTimeout CronRunStatus = "timeout"
)

// CronJobRun is one attempt within a dispatch.
type CronJobRun struct {
	ID             string
	JobID          string
	AttemptNumber  int
	StartedAt      time.Time
	FinishedAt     *time.Time
	DurationMs     *int64
	Status         CronRunStatus
	HTTPStatus     *int
	ErrorText      *string
	LogPreview     *string
}

// User is a human administrator account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsRoot       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InviteToken is a one-time admin-invite credential.
type InviteToken struct {
	ID        string
	Email     string
	TokenHash string
	InvitedBy *string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Session is a human admin's authenticated session.
type Session struct {
	ID        string
	UserID    string
	TokenHash string
	UserAgent *string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session is currently usable.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// ProjectContext is what the API-key service resolves a plaintext key to.
type ProjectContext struct {
	ProjectID string
	KeyID     string
	KeyType   ApiKeyType
}
