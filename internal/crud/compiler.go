package crud

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dataforge/platform/internal/apperr"
)

// Statement is a compiled, parameterized SQL statement ready to execute.
type Statement struct {
	SQL  string
	Args []any
}

func checkTableName(table string) error {
	if !TableNamePattern.MatchString(table) {
		return apperr.BadRequest("invalid table name %q", table)
	}
	return nil
}

func checkColumns(schema TableSchema, table string, columns ...string) error {
	for _, col := range columns {
		if !schema.Columns[col] {
			return apperr.BadRequest("unknown column %q on table %q", col, table)
		}
	}
	return nil
}

func whereClause(filters []Filter, schema TableSchema, table string, startArg int) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var parts []string
	var args []any
	n := startArg
	for _, f := range filters {
		if err := checkColumns(schema, table, f.Column); err != nil {
			return "", nil, err
		}
		col := quoteIdent(f.Column)
		if f.Op == OpIn {
			values := strings.Split(f.Value, ",")
			placeholders := make([]string, len(values))
			for i, v := range values {
				placeholders[i] = fmt.Sprintf("$%d", n)
				args = append(args, v)
				n++
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
			continue
		}
		sqlOp, ok := opSQL[f.Op]
		if !ok {
			return "", nil, apperr.BadRequest("unknown filter operator %q", f.Op)
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", col, sqlOp, n))
		args = append(args, f.Value)
		n++
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// CompileSelect builds a parameterized SELECT from a parsed Query.
func CompileSelect(table string, q *Query, schema TableSchema) (*Statement, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}

	selectCols := "*"
	if q.Select != nil {
		if err := checkColumns(schema, table, q.Select...); err != nil {
			return nil, err
		}
		quoted := make([]string, len(q.Select))
		for i, c := range q.Select {
			quoted[i] = quoteIdent(c)
		}
		selectCols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `SELECT %s FROM %s`, selectCols, quoteIdent(table))

	where, args, err := whereClause(q.Filters, schema, table, 1)
	if err != nil {
		return nil, err
	}
	b.WriteString(where)

	if q.Order != nil {
		if err := checkColumns(schema, table, q.Order.Column); err != nil {
			return nil, err
		}
		dir := "ASC"
		if q.Order.Desc {
			dir = "DESC"
		}
		fmt.Fprintf(&b, ` ORDER BY %s %s`, quoteIdent(q.Order.Column), dir)
	}

	fmt.Fprintf(&b, ` LIMIT %d OFFSET %d`, q.Limit, q.Offset)

	return &Statement{SQL: b.String(), Args: args}, nil
}

// CompileInsertRow builds a parameterized single-row INSERT. Multi-row
// inserts execute one row at a time so each row's columns are validated
// independently; this function compiles exactly one row.
func CompileInsertRow(table string, row map[string]any, schema TableSchema) (*Statement, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	if len(row) == 0 {
		return nil, apperr.BadRequest("insert row must have at least one column")
	}

	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols) // deterministic SQL for tests/logging

	if err := checkColumns(schema, table, cols...); err != nil {
		return nil, err
	}

	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quotedCols[i] = quoteIdent(c)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		quoteIdent(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	return &Statement{SQL: sql, Args: args}, nil
}

// CompileUpdate builds a parameterized UPDATE. An empty filter set is
// rejected — the compiler never issues unscoped mutations.
func CompileUpdate(table string, filters []Filter, body map[string]any, schema TableSchema) (*Statement, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, apperr.BadRequest("update requires at least one filter")
	}
	if len(body) == 0 {
		return nil, apperr.BadRequest("update requires at least one column to set")
	}

	setCols := make([]string, 0, len(body))
	for c := range body {
		setCols = append(setCols, c)
	}
	sort.Strings(setCols)

	if err := checkColumns(schema, table, setCols...); err != nil {
		return nil, err
	}

	setParts := make([]string, len(setCols))
	args := make([]any, 0, len(setCols)+len(filters))
	n := 1
	for i, c := range setCols {
		setParts[i] = fmt.Sprintf("%s = $%d", quoteIdent(c), n)
		args = append(args, body[c])
		n++
	}

	var b strings.Builder
	fmt.Fprintf(&b, `UPDATE %s SET %s`, quoteIdent(table), strings.Join(setParts, ", "))

	where, whereArgs, err := whereClause(filters, schema, table, n)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, apperr.BadRequest("update requires at least one filter")
	}
	b.WriteString(where)
	args = append(args, whereArgs...)
	b.WriteString(" RETURNING *")

	return &Statement{SQL: b.String(), Args: args}, nil
}

// CompileDelete builds a parameterized DELETE. An empty filter set is
// rejected.
func CompileDelete(table string, filters []Filter, schema TableSchema) (*Statement, error) {
	if err := checkTableName(table); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return nil, apperr.BadRequest("delete requires at least one filter")
	}

	where, args, err := whereClause(filters, schema, table, 1)
	if err != nil {
		return nil, err
	}
	if where == "" {
		return nil, apperr.BadRequest("delete requires at least one filter")
	}

	sql := fmt.Sprintf(`DELETE FROM %s%s RETURNING *`, quoteIdent(table), where)
	return &Statement{SQL: sql, Args: args}, nil
}
