package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/apperr"
)

func TestWriteErrorMapsAppErrToEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, apperr.NotFound("project %s not found", "abc"))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"error":"NOT_FOUND"`)
	require.Contains(t, rec.Body.String(), `"statusCode":404`)
}

func TestWriteErrorFallsBackToInternalForPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, errors.New("boom"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), `"statusCode":500`)
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	var dst map[string]any
	err := decodeJSON(httptest.NewRequest(http.MethodPost, "/", nil), &dst)
	require.Error(t, err)
	_, ok := apperr.As(err)
	require.True(t, ok)
}
