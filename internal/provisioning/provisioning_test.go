package provisioning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDbNameForStripsDashesAndPrefixes(t *testing.T) {
	name := dbNameFor("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	require.Equal(t, "proj_a1b2c3d4e5f67890abcdef1234567890", name)
	require.NotContains(t, name, "-")
}

func TestDbNameForProducesValidIdentifier(t *testing.T) {
	name := dbNameFor("a1b2c3d4-e5f6-7890-abcd-ef1234567890")
	require.True(t, identPattern.MatchString(name))
}

func TestOwnerAndAppRoleNamesAreDistinctAndDerived(t *testing.T) {
	dbName := "proj_abc123"
	owner := ownerRoleFor(dbName)
	app := appRoleFor(dbName)

	require.Equal(t, "proj_abc123_owner", owner)
	require.Equal(t, "proj_abc123_app", app)
	require.NotEqual(t, owner, app)
	require.True(t, identPattern.MatchString(owner))
	require.True(t, identPattern.MatchString(app))
}

func TestRandomPasswordIsURLSafeAndNonEmpty(t *testing.T) {
	pw1, err := randomPassword()
	require.NoError(t, err)
	require.NotEmpty(t, pw1)
	require.NotContains(t, pw1, "'")
	require.NotContains(t, pw1, "/")
	require.NotContains(t, pw1, "+")

	pw2, err := randomPassword()
	require.NoError(t, err)
	require.NotEqual(t, pw1, pw2)
}

func TestEscapeLiteralDoublesSingleQuotes(t *testing.T) {
	require.Equal(t, "O''Brien", escapeLiteral("O'Brien"))
	require.Equal(t, "plain", escapeLiteral("plain"))
	require.Equal(t, "''''", escapeLiteral("''"))
}

func TestIdentPatternRejectsUppercaseAndLeadingDigit(t *testing.T) {
	require.False(t, identPattern.MatchString("Proj_abc"))
	require.False(t, identPattern.MatchString("1proj"))
	require.False(t, identPattern.MatchString("proj-abc"))
	require.True(t, identPattern.MatchString("proj_abc_owner"))
}

func TestDbNameForIsDeterministicForSameProjectID(t *testing.T) {
	id := "same-id-0000-0000-0000-000000000000"
	require.Equal(t, dbNameFor(id), dbNameFor(id))
	require.True(t, strings.HasPrefix(dbNameFor(id), "proj_"))
}
