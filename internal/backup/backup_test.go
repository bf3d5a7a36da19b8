package backup

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/models"
)

func TestClassifyAgeBands(t *testing.T) {
	require.Equal(t, BandKeep, ClassifyAge(0))
	require.Equal(t, BandKeep, ClassifyAge(2*24*time.Hour))
	require.Equal(t, BandKeepNewestOnly3to7d, ClassifyAge(3*24*time.Hour))
	require.Equal(t, BandKeepNewestOnly3to7d, ClassifyAge(6*24*time.Hour+23*time.Hour))
	require.Equal(t, BandKeepNewestOnly7to14d, ClassifyAge(7*24*time.Hour))
	require.Equal(t, BandKeepNewestOnly7to14d, ClassifyAge(13*24*time.Hour+23*time.Hour))
	require.Equal(t, BandDeleteAll, ClassifyAge(14*24*time.Hour))
	require.Equal(t, BandDeleteAll, ClassifyAge(30*24*time.Hour))
}

func TestPlanRetentionSweepKeepsNewestPerTier(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	backupAt := func(id string, age time.Duration) *models.Backup {
		return &models.Backup{ID: id, CreatedAt: now.Add(-age)}
	}

	// E2E scenario 6: [now-1h, now-2d, now-4d, now-5d, now-9d, now-20d].
	backups := []*models.Backup{
		backupAt("now-1h", time.Hour),
		backupAt("now-2d", 2*day),
		backupAt("now-4d", 4*day),
		backupAt("now-5d", 5*day),
		backupAt("now-9d", 9*day),
		backupAt("now-20d", 20*day),
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt.After(backups[j].CreatedAt) })

	toDelete := planRetentionSweep(backups, now)
	var deletedIDs []string
	for _, b := range toDelete {
		deletedIDs = append(deletedIDs, b.ID)
	}

	// now-4d is the newest of the 3-7d tier and now-9d is the newest of
	// the 7-14d tier; both must survive. now-5d (older, same tier as
	// now-4d) and now-20d (past 14d) must be deleted.
	require.ElementsMatch(t, []string{"now-5d", "now-20d"}, deletedIDs)
	require.NotContains(t, deletedIDs, "now-4d")
	require.NotContains(t, deletedIDs, "now-9d")
	require.NotContains(t, deletedIDs, "now-1h")
	require.NotContains(t, deletedIDs, "now-2d")
}

func TestExpiresAtForComputesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	days := 7

	got := expiresAtFor(now, &days)
	require.NotNil(t, got)
	require.Equal(t, now.Add(7*24*time.Hour), *got)
}

func TestExpiresAtForReturnsNilWithoutRetention(t *testing.T) {
	now := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	require.Nil(t, expiresAtFor(now, nil))
}

func TestObjectKeyForPlatform(t *testing.T) {
	e := &Engine{}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := &models.Backup{Type: models.BackupPlatform, CreatedAt: ts}
	require.Equal(t, "platform/full_20260102T030405.sql", e.objectKeyFor(b, "sql"))
}

func TestObjectKeyForProject(t *testing.T) {
	e := &Engine{}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pid := "proj-1"
	b := &models.Backup{Type: models.BackupProject, ProjectID: &pid, CreatedAt: ts}
	require.Equal(t, "projects/proj-1/full_20260102T030405.sql", e.objectKeyFor(b, "sql"))
}

func TestObjectKeyForTable(t *testing.T) {
	e := &Engine{}
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pid := "proj-1"
	table := "widgets"
	b := &models.Backup{Type: models.BackupTable, ProjectID: &pid, TableName: &table, CreatedAt: ts}
	require.Equal(t, "projects/proj-1/tables/widgets_20260102T030405.csv", e.objectKeyFor(b, "csv"))
}

func TestContentTypeForExtension(t *testing.T) {
	require.Equal(t, "text/csv", contentTypeFor("csv"))
	require.Equal(t, "application/json", contentTypeFor("json"))
	require.Equal(t, "application/octet-stream", contentTypeFor("sql"))
}

func TestQuoteTableIdentEscapesDoubleQuotes(t *testing.T) {
	require.Equal(t, `"widgets"`, quoteTableIdent("widgets"))
	require.Equal(t, `"weird""name"`, quoteTableIdent(`weird"name`))
}

func TestFirstLinesSliceTruncates(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, firstLinesSlice("a\nb\nc\nd\n", 2))
	require.Equal(t, []string{"a"}, firstLinesSlice("a", 5))
}
