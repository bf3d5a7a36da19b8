package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/platform"
)

// contextKey is a private type so values this package stashes on a
// request context can never collide with another package's keys.
type contextKey string

const (
	projectContextKey contextKey = "projectContext"
	userContextKey     contextKey = "user"
)

const sessionCookieName = "admin_session"

// AuthHandlers authenticates public API-key traffic and admin session
// traffic, and serves the login/logout/invite/register endpoints.
//
// Grounded in redbco-redb-open/services/clientapi/internal/engine/middleware.go's
// AuthenticationMiddleware: extract a credential, resolve it to a
// principal, attach the principal to the request context for downstream
// handlers to read back out.
type AuthHandlers struct {
	platform *platform.Context
}

// RequireAPIKey authenticates public CRUD/storage traffic via the
// x-api-key header.
func (h *AuthHandlers) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("x-api-key")
		if key == "" {
			writeError(w, apperr.Unauthorized("missing x-api-key header"))
			return
		}
		pc, err := h.platform.ApiKeys.Validate(r.Context(), key)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), projectContextKey, pc)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession authenticates admin traffic via the session cookie.
func (h *AuthHandlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			writeError(w, apperr.Unauthorized("missing session cookie"))
			return
		}
		user, err := h.platform.Sessions.Authenticate(r.Context(), cookie.Value)
		if err != nil {
			writeError(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func projectContextFrom(r *http.Request) (*models.ProjectContext, bool) {
	pc, ok := r.Context().Value(projectContextKey).(*models.ProjectContext)
	return pc, ok
}

func userFrom(r *http.Request) (*models.User, bool) {
	u, ok := r.Context().Value(userContextKey).(*models.User)
	return u, ok
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an admin and sets the session cookie.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, plaintext, err := h.platform.Sessions.Login(r.Context(), req.Email, req.Password, r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    plaintext,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  sess.ExpiresAt,
	})
	writeJSON(w, http.StatusOK, map[string]any{"expiresAt": sess.ExpiresAt})
}

// Logout revokes the current session and clears the cookie.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		if err := h.platform.Sessions.Logout(r.Context(), cookie.Value); err != nil {
			writeError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Expires:  time.Unix(0, 0),
	})
	w.WriteHeader(http.StatusNoContent)
}

type createInviteRequest struct {
	Email string `json:"email"`
}

// CreateInvite issues an invite token. Root-only.
func (h *AuthHandlers) CreateInvite(w http.ResponseWriter, r *http.Request) {
	user, ok := userFrom(r)
	if !ok || !user.IsRoot {
		writeError(w, apperr.Forbidden("only root may create invites"))
		return
	}

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	token, err := h.platform.Sessions.CreateInvite(r.Context(), req.Email, &user.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token})
}

type registerRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// Register redeems an invite token and creates an admin account. A valid
// invite is always required; this endpoint does not call the invite-free
// Service.RegisterRoot bootstrap.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.platform.Sessions.Register(r.Context(), req.Token, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sanitizeUser(user))
}

func sanitizeUser(u *models.User) map[string]any {
	return map[string]any{
		"id":        u.ID,
		"email":     u.Email,
		"isRoot":    u.IsRoot,
		"createdAt": u.CreatedAt,
		"updatedAt": u.UpdatedAt,
	}
}
