package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
)

// CreateUser inserts a new human administrator account.
func (s *Store) CreateUser(ctx context.Context, q Querier, u *models.User) error {
	_, err := q.Exec(ctx, `
		INSERT INTO users (id, email, password_hash, is_root, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, u.ID, u.Email, u.PasswordHash, u.IsRoot, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert user")
	}
	return nil
}

// GetUserByEmail fetches a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, q Querier, email string) (*models.User, error) {
	var u models.User
	err := q.QueryRow(ctx, `
		SELECT id, email, password_hash, is_root, created_at, updated_at FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsRoot, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %q not found", email)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get user by email")
	}
	return &u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, q Querier, id string) (*models.User, error) {
	var u models.User
	err := q.QueryRow(ctx, `
		SELECT id, email, password_hash, is_root, created_at, updated_at FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsRoot, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get user")
	}
	return &u, nil
}

// CountUsers returns the total number of user accounts, used to decide
// whether the first-run registration should grant root.
func (s *Store) CountUsers(ctx context.Context, q Querier) (int, error) {
	var n int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, apperr.UpstreamDB(err, "count users")
	}
	return n, nil
}

// CreateInvite inserts a new invite token row.
func (s *Store) CreateInvite(ctx context.Context, q Querier, inv *models.InviteToken) error {
	_, err := q.Exec(ctx, `
		INSERT INTO invites (id, email, token_hash, invited_by, expires_at, used_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, inv.Email, inv.TokenHash, inv.InvitedBy, inv.ExpiresAt, inv.UsedAt, inv.CreatedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert invite")
	}
	return nil
}

// GetInviteByTokenHash fetches an unused, unexpired invite by hash.
func (s *Store) GetInviteByTokenHash(ctx context.Context, q Querier, hash string, now time.Time) (*models.InviteToken, error) {
	var inv models.InviteToken
	err := q.QueryRow(ctx, `
		SELECT id, email, token_hash, invited_by, expires_at, used_at, created_at
		FROM invites WHERE token_hash = $1 AND used_at IS NULL AND expires_at > $2
	`, hash, now).Scan(&inv.ID, &inv.Email, &inv.TokenHash, &inv.InvitedBy, &inv.ExpiresAt, &inv.UsedAt, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invite token not found or expired")
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get invite by token hash")
	}
	return &inv, nil
}

// MarkInviteUsed records redemption time.
func (s *Store) MarkInviteUsed(ctx context.Context, q Querier, id string, usedAt time.Time) error {
	_, err := q.Exec(ctx, `UPDATE invites SET used_at = $2 WHERE id = $1`, id, usedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "mark invite used")
	}
	return nil
}

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, q Querier, sess *models.Session) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sessions (id, user_id, token_hash, user_agent, created_at, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sess.ID, sess.UserID, sess.TokenHash, sess.UserAgent, sess.CreatedAt, sess.ExpiresAt, sess.RevokedAt)
	if err != nil {
		return apperr.UpstreamDB(err, "insert session")
	}
	return nil
}

// GetSessionByTokenHash fetches a session by its token hash.
func (s *Store) GetSessionByTokenHash(ctx context.Context, q Querier, hash string) (*models.Session, error) {
	var sess models.Session
	err := q.QueryRow(ctx, `
		SELECT id, user_id, token_hash, user_agent, created_at, expires_at, revoked_at
		FROM sessions WHERE token_hash = $1
	`, hash).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.UserAgent, &sess.CreatedAt, &sess.ExpiresAt, &sess.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("session not found")
	}
	if err != nil {
		return nil, apperr.UpstreamDB(err, "get session by token hash")
	}
	return &sess, nil
}

// RevokeSession revokes a session by id.
func (s *Store) RevokeSession(ctx context.Context, q Querier, id string, now time.Time) error {
	_, err := q.Exec(ctx, `UPDATE sessions SET revoked_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return apperr.UpstreamDB(err, "revoke session")
	}
	return nil
}
