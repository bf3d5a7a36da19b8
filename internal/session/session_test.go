package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/models"
)

func TestSessionActiveRespectsExpiryAndRevocation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	active := models.Session{CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.True(t, active.Active(now))

	expired := models.Session{CreatedAt: now, ExpiresAt: now.Add(-time.Hour)}
	require.False(t, expired.Active(now))

	revokedAt := now
	revoked := models.Session{CreatedAt: now, ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt}
	require.False(t, revoked.Active(now))
}

func TestSessionTTLsArePositive(t *testing.T) {
	require.Greater(t, sessionTTL, time.Duration(0))
	require.Greater(t, inviteTTL, sessionTTL)
}
