// Package session implements the minimal admin session authenticator
// bcrypt password login, opaque session-cookie tokens, invite
// redemption, and first-run registration.
//
// Grounded in redbco-redb-open/services/security's Login handler
// (bcrypt.CompareHashAndPassword, issue-and-store-token) and its
// clientapi AuthenticationMiddleware (request-context attachment of the
// authenticated principal), generalized from that service's JWT access
// and refresh token pair down to a single opaque, hashed, database-backed
// session token stored in a cookie — the platform has no separate
// refresh-token rotation requirement. MFA, SSO, and password reset are
// out of scope.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/store"
)

const (
	// sessionTTL is how long an issued session cookie remains valid.
	sessionTTL = 24 * time.Hour
	// inviteTTL is how long an invite token remains redeemable.
	inviteTTL = 7 * 24 * time.Hour
)

// Service issues and validates admin sessions, and handles invite-based
// registration.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New constructs a Service. now defaults to time.Now when nil, overridable in tests.
func New(st *store.Store, now func() time.Time) *Service {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{store: st, now: now}
}

// Login verifies email/password against the stored bcrypt hash and, on
// success, issues a new session, returning the plaintext cookie token.
func (s *Service) Login(ctx context.Context, email, password, userAgent string) (*models.Session, string, error) {
	u, err := s.store.GetUserByEmail(ctx, s.store.Q(), email)
	if err != nil {
		// Don't reveal whether the account exists.
		return nil, "", apperr.Unauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", apperr.Unauthorized("invalid credentials")
	}

	plaintext, err := crypto.GenerateInviteToken() // "inv_"-prefixed random token works equally well as an opaque session token
	if err != nil {
		return nil, "", apperr.Internal(err, "generate session token")
	}

	now := s.now()
	var ua *string
	if userAgent != "" {
		ua = &userAgent
	}
	sess := &models.Session{
		ID:        uuid.NewString(),
		UserID:    u.ID,
		TokenHash: crypto.HashKey(plaintext),
		UserAgent: ua,
		CreatedAt: now,
		ExpiresAt: now.Add(sessionTTL),
	}
	if err := s.store.CreateSession(ctx, s.store.Q(), sess); err != nil {
		return nil, "", err
	}
	return sess, plaintext, nil
}

// Logout revokes the session identified by its plaintext cookie token.
// Revoking an already-revoked or unknown token is a no-op, not an error,
// so that logout is always safe to call.
func (s *Service) Logout(ctx context.Context, plaintext string) error {
	sess, err := s.store.GetSessionByTokenHash(ctx, s.store.Q(), crypto.HashKey(plaintext))
	if err != nil {
		if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindNotFound {
			return nil
		}
		return err
	}
	return s.store.RevokeSession(ctx, s.store.Q(), sess.ID, s.now())
}

// Authenticate resolves a plaintext cookie token to its owning user, the
// same way redbco-redb-open's AuthenticationMiddleware resolves a bearer
// token to a Profile. It rejects expired or revoked sessions.
func (s *Service) Authenticate(ctx context.Context, plaintext string) (*models.User, error) {
	if plaintext == "" {
		return nil, apperr.Unauthorized("session token is required")
	}
	sess, err := s.store.GetSessionByTokenHash(ctx, s.store.Q(), crypto.HashKey(plaintext))
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired session")
	}
	if !sess.Active(s.now()) {
		return nil, apperr.Unauthorized("invalid or expired session")
	}
	u, err := s.store.GetUser(ctx, s.store.Q(), sess.UserID)
	if err != nil {
		return nil, apperr.Unauthorized("invalid or expired session")
	}
	return u, nil
}

// CreateInvite issues a one-time invite token for email, recording who
// invited them, and returns the plaintext token to deliver out of band.
func (s *Service) CreateInvite(ctx context.Context, email string, invitedBy *string) (string, error) {
	plaintext, err := crypto.GenerateInviteToken()
	if err != nil {
		return "", apperr.Internal(err, "generate invite token")
	}
	now := s.now()
	inv := &models.InviteToken{
		ID:        uuid.NewString(),
		Email:     email,
		TokenHash: crypto.HashKey(plaintext),
		InvitedBy: invitedBy,
		ExpiresAt: now.Add(inviteTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateInvite(ctx, s.store.Q(), inv); err != nil {
		return "", err
	}
	return plaintext, nil
}

// Register redeems an invite token, creating a new user account with the
// given password. The very first user ever registered is granted root,
// since no administrator exists yet to have invited anyone.
func (s *Service) Register(ctx context.Context, inviteToken, password string) (*models.User, error) {
	now := s.now()

	var created *models.User
	err := s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		inv, err := s.store.GetInviteByTokenHash(ctx, q, crypto.HashKey(inviteToken), now)
		if err != nil {
			return apperr.Unauthorized("invalid or expired invite")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return apperr.Internal(err, "hash password")
		}

		count, err := s.store.CountUsers(ctx, q)
		if err != nil {
			return err
		}

		u := &models.User{
			ID:           uuid.NewString(),
			Email:        inv.Email,
			PasswordHash: string(hash),
			IsRoot:       count == 0,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateUser(ctx, q, u); err != nil {
			return err
		}
		if err := s.store.MarkInviteUsed(ctx, q, inv.ID, now); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// RegisterRoot creates the very first administrator account directly,
// bypassing the invite flow, for use by a first-run bootstrap step when
// no invite mechanism exists yet to bootstrap itself.
func (s *Service) RegisterRoot(ctx context.Context, email, password string) (*models.User, error) {
	now := s.now()

	var created *models.User
	err := s.store.Transaction(ctx, func(ctx context.Context, q store.Querier) error {
		count, err := s.store.CountUsers(ctx, q)
		if err != nil {
			return err
		}
		if count > 0 {
			return apperr.Conflict("root account already exists")
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return apperr.Internal(err, "hash password")
		}

		u := &models.User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: string(hash),
			IsRoot:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.store.CreateUser(ctx, q, u); err != nil {
			return err
		}
		created = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
