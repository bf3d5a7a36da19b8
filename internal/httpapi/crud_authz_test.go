package httpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/models"
)

func withProjectContext(keyType models.ApiKeyType) context.Context {
	return context.WithValue(context.Background(), projectContextKey, &models.ProjectContext{
		ProjectID: "proj-1",
		KeyID:     "key-1",
		KeyType:   keyType,
	})
}

func TestInsertRejectsPublishableKey(t *testing.T) {
	h := &CRUDHandlers{}
	r := httptest.NewRequest("POST", "/v1/db/widgets", strings.NewReader(`{"rows":[{"name":"a"}]}`))
	r = r.WithContext(withProjectContext(models.ApiKeyPublishable))
	rec := httptest.NewRecorder()

	h.Insert(rec, r)

	require.Equal(t, 403, rec.Code)
}

func TestUpdateRejectsPublishableKey(t *testing.T) {
	h := &CRUDHandlers{}
	r := httptest.NewRequest("PATCH", "/v1/db/widgets", strings.NewReader(`{"values":{"name":"a"}}`))
	r = r.WithContext(withProjectContext(models.ApiKeyPublishable))
	rec := httptest.NewRecorder()

	h.Update(rec, r)

	require.Equal(t, 403, rec.Code)
}

func TestDeleteRejectsPublishableKey(t *testing.T) {
	h := &CRUDHandlers{}
	r := httptest.NewRequest("DELETE", "/v1/db/widgets?eq.id=1", nil)
	r = r.WithContext(withProjectContext(models.ApiKeyPublishable))
	rec := httptest.NewRecorder()

	h.Delete(rec, r)

	require.Equal(t, 403, rec.Code)
}
