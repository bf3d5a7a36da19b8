package adminsql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func constInt(n int) func() int { return func() int { return n } }

func constDuration(d time.Duration) func() time.Duration { return func() time.Duration { return d } }

func TestValidateRejectsMultipleStatements(t *testing.T) {
	e := New(nil, constInt(100), constDuration(0))
	_, err := e.Validate("SELECT 1; SELECT 2;")
	require.Error(t, err)
}

func TestValidateAllowsTrailingSemicolon(t *testing.T) {
	e := New(nil, constInt(100), constDuration(0))
	stmt, err := e.Validate("SELECT 1;")
	require.NoError(t, err)
	require.Contains(t, stmt, "LIMIT 100")
}

func TestValidateRejectsDenylistedPatterns(t *testing.T) {
	e := New(nil, constInt(100), constDuration(0))
	cases := []string{
		"COPY t TO PROGRAM 'cat'",
		"DO $$ BEGIN END $$",
		"SELECT pg_sleep(10)",
		"CREATE EXTENSION pg_trgm",
		"DROP DATABASE foo",
		"DROP ROLE bar",
		"ALTER SYSTEM SET shared_buffers = '1GB'",
	}
	for _, sql := range cases {
		_, err := e.Validate(sql)
		require.Error(t, err, sql)
	}
}

func TestValidateAppendsLimitToSelectWithoutOne(t *testing.T) {
	e := New(nil, constInt(250), constDuration(0))
	stmt, err := e.Validate("SELECT * FROM widgets")
	require.NoError(t, err)
	require.Contains(t, stmt, "LIMIT 250")
}

func TestValidateDoesNotDoubleAppendLimit(t *testing.T) {
	e := New(nil, constInt(250), constDuration(0))
	stmt, err := e.Validate("SELECT * FROM widgets LIMIT 5")
	require.NoError(t, err)
	require.Equal(t, 1, countOccurrences(stmt, "LIMIT"))
}

func TestValidateLeavesNonSelectUnmodified(t *testing.T) {
	e := New(nil, constInt(250), constDuration(0))
	stmt, err := e.Validate("UPDATE widgets SET price = 1 WHERE id = 2")
	require.NoError(t, err)
	require.NotContains(t, stmt, "LIMIT")
}

func countOccurrences(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
