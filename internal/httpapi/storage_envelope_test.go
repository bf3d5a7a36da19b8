package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignedUploadRequestDecodesBucketField(t *testing.T) {
	body := `{"bucket":"uploads","path":"reports/q1.csv","contentType":"text/csv","maxSize":1024}`
	r := httptest.NewRequest("POST", "/v1/storage/signed-upload", strings.NewReader(body))

	var req signedUploadRequest
	require.NoError(t, decodeJSON(r, &req))
	require.Equal(t, "uploads", req.Bucket)
	require.Equal(t, "reports/q1.csv", req.Path)
	require.Equal(t, "text/csv", req.ContentType)
	require.Equal(t, int64(1024), req.MaxSize)
}
