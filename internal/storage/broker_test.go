package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPhysicalBucketNaming(t *testing.T) {
	require.Equal(t, "proj-abc123", physicalBucket("abc123"))
}

func TestObjectKeyComposition(t *testing.T) {
	require.Equal(t, "uploads/reports/q1.csv", objectKey("uploads", "reports/q1.csv"))
}

func TestObjectKeyPatternRejectsDisallowedCharacters(t *testing.T) {
	require.True(t, objectKeyPattern.MatchString("uploads/reports/q1.csv"))
	require.False(t, objectKeyPattern.MatchString("uploads/with space"))
}

func TestContainsTraversalCatchesDotDotSegments(t *testing.T) {
	require.True(t, containsTraversal("uploads/../etc/passwd"))
	require.True(t, containsTraversal(".."))
	require.False(t, containsTraversal("uploads/reports/q1.csv"))
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	require.Equal(t, int64(100*1024*1024), c.maxUploadSize())
	require.Equal(t, int64(0), c.MaxUploadSizeBytes)
}

func TestPresignUploadResultMarshalsDocumentedFieldNames(t *testing.T) {
	result := PresignUploadResult{ObjectKey: "uploads/reports/q1.csv", URL: "https://example/uploads/q1.csv", ExpiresIn: 900}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, "uploads/reports/q1.csv", decoded["objectKey"])
	require.Equal(t, "https://example/uploads/q1.csv", decoded["uploadUrl"])
	require.Equal(t, float64(900), decoded["expiresIn"])
}
