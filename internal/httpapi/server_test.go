package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/platform"
	"github.com/dataforge/platform/pkg/health"
	"github.com/dataforge/platform/pkg/logger"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	pctx := &platform.Context{
		Logger: logger.New("platform-test", "0.0.0"),
		Health: health.NewChecker(),
	}
	return NewServer(pctx)
}

func TestCORSPreflightShortCircuitsBeforeRouting(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/db/widgets", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPublicRoutesRequireAPIKey(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/db/widgets", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireSessionCookie(t *testing.T) {
	s := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/projects", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
