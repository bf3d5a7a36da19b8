package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertRequestDecodesRowsAndReturningEnvelope(t *testing.T) {
	body := `{"rows":[{"name":"John","email":"john@x"},{"name":"Jane","email":"jane@x"}],"returning":true}`
	r := httptest.NewRequest("POST", "/v1/db/users", strings.NewReader(body))

	var req insertRequest
	require.NoError(t, decodeJSON(r, &req))
	require.True(t, req.Returning)
	require.Len(t, req.Rows, 2)
	require.Equal(t, "John", req.Rows[0]["name"])
	require.Equal(t, "Jane", req.Rows[1]["name"])
}

func TestInsertRequestDefaultsReturningToFalse(t *testing.T) {
	body := `{"rows":[{"name":"John"}]}`
	r := httptest.NewRequest("POST", "/v1/db/users", strings.NewReader(body))

	var req insertRequest
	require.NoError(t, decodeJSON(r, &req))
	require.False(t, req.Returning)
	require.Len(t, req.Rows, 1)
}

func TestUpdateRequestDecodesValuesAndReturningEnvelope(t *testing.T) {
	body := `{"values":{"name":"Johnny"},"returning":true}`
	r := httptest.NewRequest("PATCH", "/v1/db/users", strings.NewReader(body))

	var req updateRequest
	require.NoError(t, decodeJSON(r, &req))
	require.True(t, req.Returning)
	require.Equal(t, "Johnny", req.Values["name"])
}
