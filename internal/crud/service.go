package crud

import (
	"context"
	"net/url"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/dbconn"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/tenant"
)

// Result is the uniform shape returned by every CRUD operation.
type Result struct {
	Rows     []map[string]any
	RowCount int
}

// Service executes CRUD requests against a project's tenant database
// using the app privilege tier exclusively — all CRUD traffic runs as
// the app role, never the owner role.
type Service struct {
	router          *tenant.Router
	schema          *SchemaCache
	maxRowsPerQuery func() int
}

// New constructs a CRUD Service. maxRowsPerQuery is called on every
// request rather than captured once, so an admin settings update
// (internal/platform.Settings) takes effect without reconstructing the
// service.
func New(router *tenant.Router, schema *SchemaCache, maxRowsPerQuery func() int) *Service {
	return &Service{router: router, schema: schema, maxRowsPerQuery: maxRowsPerQuery}
}

func (s *Service) appPool(ctx context.Context, projectID string) (*dbconn.Pool, error) {
	return s.router.Get(ctx, projectID, models.PrincipalApp)
}

func (s *Service) tableSchema(ctx context.Context, projectID, table string) (TableSchema, error) {
	pool, err := s.appPool(ctx, projectID)
	if err != nil {
		return TableSchema{}, err
	}
	tables, err := s.schema.Tables(ctx, pool.Raw(), projectID)
	if err != nil {
		return TableSchema{}, err
	}
	schema, ok := tables[table]
	if !ok {
		return TableSchema{}, apperr.BadRequest("unknown table %q", table)
	}
	return schema, nil
}

// Select runs a parameterized SELECT.
func (s *Service) Select(ctx context.Context, projectID, table string, values url.Values) (*Result, error) {
	q, err := ParseQuery(values, s.maxRowsPerQuery())
	if err != nil {
		return nil, err
	}
	schema, err := s.tableSchema(ctx, projectID, table)
	if err != nil {
		return nil, err
	}
	stmt, err := CompileSelect(table, q, schema)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, projectID, stmt)
}

// InsertRows inserts 1-1000 rows one at a time, all-or-none for a single
// row but best-effort across rows: a
// row failing validation or execution is recorded as an error and the
// remaining rows still attempt to insert.
func (s *Service) InsertRows(ctx context.Context, projectID, table string, rows []map[string]any) ([]map[string]any, []error, error) {
	if len(rows) == 0 || len(rows) > 1000 {
		return nil, nil, apperr.BadRequest("insert accepts between 1 and 1000 rows")
	}
	schema, err := s.tableSchema(ctx, projectID, table)
	if err != nil {
		return nil, nil, err
	}
	pool, err := s.appPool(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	inserted := make([]map[string]any, 0, len(rows))
	errs := make([]error, len(rows))
	for i, row := range rows {
		stmt, err := CompileInsertRow(table, row, schema)
		if err != nil {
			errs[i] = err
			continue
		}
		result, err := scanRows(ctx, pool, stmt)
		if err != nil {
			errs[i] = err
			continue
		}
		inserted = append(inserted, result.Rows...)
	}
	return inserted, errs, nil
}

// Update runs a parameterized UPDATE; the filter set must be non-empty.
func (s *Service) Update(ctx context.Context, projectID, table string, values url.Values, body map[string]any) (*Result, error) {
	q, err := ParseQuery(values, s.maxRowsPerQuery())
	if err != nil {
		return nil, err
	}
	schema, err := s.tableSchema(ctx, projectID, table)
	if err != nil {
		return nil, err
	}
	stmt, err := CompileUpdate(table, q.Filters, body, schema)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, projectID, stmt)
}

// Delete runs a parameterized DELETE; the filter set must be non-empty.
func (s *Service) Delete(ctx context.Context, projectID, table string, values url.Values) (*Result, error) {
	q, err := ParseQuery(values, s.maxRowsPerQuery())
	if err != nil {
		return nil, err
	}
	schema, err := s.tableSchema(ctx, projectID, table)
	if err != nil {
		return nil, err
	}
	stmt, err := CompileDelete(table, q.Filters, schema)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, projectID, stmt)
}

func (s *Service) run(ctx context.Context, projectID string, stmt *Statement) (*Result, error) {
	pool, err := s.appPool(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return scanRows(ctx, pool, stmt)
}

func scanRows(ctx context.Context, pool *dbconn.Pool, stmt *Statement) (*Result, error) {
	rows, err := pool.Raw().Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "execute compiled statement")
	}
	defer rows.Close()

	out, err := rowsToMaps(rows)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "scan compiled statement result")
	}
	return &Result{Rows: out, RowCount: len(out)}, nil
}

func rowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
