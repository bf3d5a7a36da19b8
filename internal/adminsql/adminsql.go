// Package adminsql implements the admin SQL executor: a gated
// pass-through to the tenant owner pool for operators who need to run
// arbitrary SQL against a project's database.
//
// Grounded in redbco-redb-open/services/anchor/internal/database/postgres
// (connection.go's ExecuteQuery, which builds a {columns, rows, count}
// envelope from a pgx.Rows result), generalized with a statement-count
// gate and denylist applied before any admin query reaches the database.
package adminsql

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dataforge/platform/internal/apperr"
	"github.com/dataforge/platform/internal/models"
	"github.com/dataforge/platform/internal/tenant"
)

// denylist matches statements that must never reach the database
// regardless of statement count, case-insensitively.
var denylist = []*regexp.Regexp{
	regexp.MustCompile(`(?i)COPY\s+.*PROGRAM`),
	regexp.MustCompile(`(?i)DO\s*\$\$`),
	regexp.MustCompile(`(?i)pg_sleep\s*\(`),
	regexp.MustCompile(`(?i)CREATE\s+EXTENSION`),
	regexp.MustCompile(`(?i)DROP\s+DATABASE`),
	regexp.MustCompile(`(?i)DROP\s+ROLE`),
	regexp.MustCompile(`(?i)ALTER\s+SYSTEM`),
}

var selectOrWith = regexp.MustCompile(`(?i)^\s*(SELECT|WITH)\b`)
var hasLimit = regexp.MustCompile(`(?i)\bLIMIT\s+\d+\s*;?\s*$`)

// Result is the executor's uniform response shape.
type Result struct {
	Columns         []string
	Rows            [][]any
	RowCount        int
	ExecutionTimeMs int64
}

// Executor runs gated admin SQL against a project's owner-tier pool.
type Executor struct {
	router           *tenant.Router
	maxRowsPerQuery  func() int
	statementTimeout func() time.Duration
}

// New constructs an Executor. maxRowsPerQuery and statementTimeout are
// called on every request rather than captured once, so an admin
// settings update (internal/platform.Settings) takes effect without
// reconstructing the executor.
func New(router *tenant.Router, maxRowsPerQuery func() int, statementTimeout func() time.Duration) *Executor {
	return &Executor{router: router, maxRowsPerQuery: maxRowsPerQuery, statementTimeout: statementTimeout}
}

// Validate applies the statement-count gate and denylist without running
// anything, returning the (possibly LIMIT-appended) statement to execute.
func (e *Executor) Validate(sql string) (string, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return "", apperr.BadRequest("sql statement must not be empty")
	}

	nonEmpty := 0
	for _, stmt := range strings.Split(trimmed, ";") {
		if strings.TrimSpace(stmt) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 1 {
		return "", apperr.BadRequest("only a single SQL statement is allowed per request")
	}

	for _, pattern := range denylist {
		if pattern.MatchString(trimmed) {
			return "", apperr.Denied("statement matches a denied pattern")
		}
	}

	if selectOrWith.MatchString(trimmed) && !hasLimit.MatchString(trimmed) {
		trimmed = strings.TrimRight(trimmed, "; \t\n")
		trimmed = trimmed + " LIMIT " + strconv.Itoa(e.effectiveLimit())
	}

	return trimmed, nil
}

func (e *Executor) effectiveLimit() int {
	limit := e.maxRowsPerQuery()
	if limit <= 0 {
		return 1000
	}
	return limit
}

// Execute validates, sets the session statement_timeout, and runs the
// statement against the project's owner pool.
func (e *Executor) Execute(ctx context.Context, projectID, sql string) (*Result, error) {
	stmt, err := e.Validate(sql)
	if err != nil {
		return nil, err
	}

	pool, err := e.router.Get(ctx, projectID, models.PrincipalOwner)
	if err != nil {
		return nil, err
	}

	timeout := e.statementTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// The SET and the query must run on the same backend connection —
	// pool.Raw() hands out a connection per call, so two separate Exec/
	// Query calls could land on different pooled connections and leave
	// the timeout unapplied. Acquire once and run both on it.
	conn, err := pool.Raw().Acquire(ctx)
	if err != nil {
		return nil, apperr.UpstreamDB(err, "acquire connection")
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeout.Milliseconds())); err != nil {
		return nil, apperr.UpstreamDB(err, "set session statement_timeout")
	}

	start := time.Now()
	rows, err := conn.Query(ctx, stmt)
	if err != nil {
		return nil, apperr.BadRequest("%s", err.Error())
	}
	defer rows.Close()

	result, err := collect(rows)
	if err != nil {
		return nil, apperr.BadRequest("%s", err.Error())
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

func collect(rows pgx.Rows) (*Result, error) {
	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = string(f.Name)
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		out = append(out, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Result{Columns: columns, Rows: out, RowCount: len(out)}, nil
}
