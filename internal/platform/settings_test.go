package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSettingsSeedsFromConfigDefaults(t *testing.T) {
	cfg := Config{RateLimitMax: 600, RateLimitWindowMs: 60000, SQLMaxRows: 10000, SQLStatementTimeoutMs: 30000}
	settings := newSettings(nil, cfg)

	snap := settings.Get()
	require.Equal(t, 600, snap.RateLimitMax)
	require.Equal(t, 60000, snap.RateLimitWindowMs)
	require.Equal(t, 10000, snap.SQLMaxRows)
	require.Equal(t, 30000, snap.SQLStatementTimeoutMs)
	require.Empty(t, snap.PublicStorageURL)
}
