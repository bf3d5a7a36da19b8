// Package crud implements the dynamic CRUD compiler: a query-string
// grammar over project tables, compiled to parameterized SQL against a
// schema snapshot cached per project for 60 seconds.
//
// Grounded in redbco-redb-open/services/anchor/internal/database/postgres
// (schema.go, metadata_ops.go): information_schema introspection driving
// a typed in-memory model, generalized here to a short-TTL per-project
// cache instead of a persisted metadata graph, since the compiler only
// needs "does this table/column exist" rather than a full schema model.
package crud

import (
	"context"
	"sync"
	"time"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/store"
)

const schemaCacheTTL = 60 * time.Second

// TableSchema is the allow-list of columns for one table.
type TableSchema struct {
	Columns map[string]bool
}

type cacheEntry struct {
	tables    map[string]TableSchema
	fetchedAt time.Time
}

// SchemaCache is a process-wide, per-project cache of public-schema table
// and column names, refreshed from information_schema via the app pool.
type SchemaCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewSchemaCache constructs an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{entries: make(map[string]cacheEntry)}
}

// Tables returns the current (possibly cached) table map for a project,
// refreshing from the database on a miss or stale entry.
func (c *SchemaCache) Tables(ctx context.Context, q store.Querier, projectID string) (map[string]TableSchema, error) {
	c.mu.Lock()
	entry, ok := c.entries[projectID]
	c.mu.Unlock()

	if ok && time.Since(entry.fetchedAt) < schemaCacheTTL {
		return entry.tables, nil
	}

	tables, err := fetchSchema(ctx, q)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[projectID] = cacheEntry{tables: tables, fetchedAt: time.Now()}
	c.mu.Unlock()

	return tables, nil
}

// Invalidate drops the cached entry for a project, forcing a refresh on
// next access (used after DDL-affecting admin SQL).
func (c *SchemaCache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

func fetchSchema(ctx context.Context, q store.Querier) (map[string]TableSchema, error) {
	rows, err := q.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public'
		ORDER BY table_name
	`)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "fetch tenant schema")
	}
	defer rows.Close()

	tables := make(map[string]TableSchema)
	for rows.Next() {
		var tableName, columnName string
		if err := rows.Scan(&tableName, &columnName); err != nil {
			return nil, apperr.UpstreamDB(err, "scan schema row")
		}
		t, ok := tables[tableName]
		if !ok {
			t = TableSchema{Columns: make(map[string]bool)}
			tables[tableName] = t
		}
		t.Columns[columnName] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.UpstreamDB(err, "iterate schema rows")
	}
	return tables, nil
}
