package platform

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"PLATFORM_HTTP_ADDR", "PLATFORM_DB_HOST", "PLATFORM_DB_PORT",
		"PLATFORM_RATE_LIMIT_MAX", "PLATFORM_SQL_MAX_ROWS",
	} {
		require.NoError(t, os.Unsetenv(key))
	}

	cfg := ConfigFromEnv()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "localhost", cfg.DatabaseHost)
	require.Equal(t, 5432, cfg.DatabasePort)
	require.Equal(t, "postgres", cfg.AdminDatabase)
	require.Equal(t, 600, cfg.RateLimitMax)
	require.Equal(t, 10000, cfg.SQLMaxRows)
}

func TestConfigFromEnvHonorsOverrides(t *testing.T) {
	t.Setenv("PLATFORM_HTTP_ADDR", ":9090")
	t.Setenv("PLATFORM_SQL_MAX_ROWS", "250")

	cfg := ConfigFromEnv()
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 250, cfg.SQLMaxRows)
}

func TestAdminConfigReusesPlatformCredentials(t *testing.T) {
	cfg := Config{
		DatabaseHost: "db.internal", DatabasePort: 5432, DatabaseUser: "app",
		DatabasePassword: "secret", DatabaseSSLMode: "require", AdminDatabase: "postgres",
	}
	admin := cfg.adminConfig()
	require.Equal(t, "db.internal", admin.Host)
	require.Equal(t, "app", admin.User)
	require.Equal(t, "postgres", admin.Database)
}
