package apikey

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/crypto"
	"github.com/dataforge/platform/internal/models"
)

func TestApiKeyActiveRespectsExpiryAndRevocation(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	active := models.ApiKey{CreatedAt: now}
	require.True(t, active.Active(now))

	withExpiry := models.ApiKey{CreatedAt: now, ExpiresAt: &future}
	require.True(t, withExpiry.Active(now))

	expiredKey := models.ApiKey{CreatedAt: now, ExpiresAt: &expired}
	require.False(t, expiredKey.Active(now))

	revokedAt := now
	revoked := models.ApiKey{CreatedAt: now, RevokedAt: &revokedAt}
	require.False(t, revoked.Active(now))
}

func TestKindForMapping(t *testing.T) {
	require.Equal(t, crypto.KeySecret, kindFor(models.ApiKeySecret))
	require.Equal(t, crypto.KeyPublishable, kindFor(models.ApiKeyPublishable))
}
