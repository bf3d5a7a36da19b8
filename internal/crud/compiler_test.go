package crud

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dataforge/platform/internal/apperr"
)

func widgetsSchema() TableSchema {
	return TableSchema{Columns: map[string]bool{"id": true, "name": true, "price": true, "active": true}}
}

func TestParseQueryGrammar(t *testing.T) {
	values := url.Values{
		"select":     {"id,name"},
		"order":      {"price.desc"},
		"eq.active":  {"true"},
		"gte.price":  {"10"},
		"in.id":      {"1,2,3"},
		"limit":      {"50"},
		"offset":     {"5"},
	}
	q, err := ParseQuery(values, 1000)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, q.Select)
	require.Equal(t, &Order{Column: "price", Desc: true}, q.Order)
	require.Equal(t, 50, q.Limit)
	require.Equal(t, 5, q.Offset)
	require.Len(t, q.Filters, 3)
}

func TestParseQueryRejectsLimitOutOfRange(t *testing.T) {
	_, err := ParseQuery(url.Values{"limit": {"0"}}, 100)
	require.Error(t, err)

	_, err = ParseQuery(url.Values{"limit": {"5000"}}, 100)
	require.Error(t, err)
}

func TestParseQueryRejectsUnknownOperator(t *testing.T) {
	_, err := ParseQuery(url.Values{"xx.name": {"v"}}, 100)
	require.Error(t, err)
}

func TestCompileSelectParameterizesFilters(t *testing.T) {
	q, err := ParseQuery(url.Values{"eq.name": {"widget"}, "limit": {"10"}}, 1000)
	require.NoError(t, err)

	stmt, err := CompileSelect("widgets", q, widgetsSchema())
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, `"name" = $1`)
	require.Equal(t, []any{"widget"}, stmt.Args)
	require.Contains(t, stmt.SQL, "LIMIT 10")
}

func TestCompileSelectRejectsUnknownColumn(t *testing.T) {
	q, _ := ParseQuery(url.Values{"eq.nope": {"1"}}, 1000)
	_, err := CompileSelect("widgets", q, widgetsSchema())
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindBadRequest, e.Kind)
}

func TestCompileSelectRejectsInvalidTableName(t *testing.T) {
	q, _ := ParseQuery(url.Values{}, 1000)
	_, err := CompileSelect("Widgets; DROP TABLE x", q, widgetsSchema())
	require.Error(t, err)
}

func TestCompileUpdateRequiresFilter(t *testing.T) {
	_, err := CompileUpdate("widgets", nil, map[string]any{"name": "x"}, widgetsSchema())
	require.Error(t, err)
}

func TestCompileDeleteRequiresFilter(t *testing.T) {
	_, err := CompileDelete("widgets", nil, widgetsSchema())
	require.Error(t, err)
}

func TestCompileUpdateWithFilterProducesParameterizedSQL(t *testing.T) {
	stmt, err := CompileUpdate("widgets", []Filter{{Op: OpEq, Column: "id", Value: "7"}}, map[string]any{"name": "new"}, widgetsSchema())
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, `SET "name" = $1`)
	require.Contains(t, stmt.SQL, `WHERE "id" = $2`)
	require.Equal(t, []any{"new", "7"}, stmt.Args)
}

func TestCompileInsertRowValidatesColumns(t *testing.T) {
	_, err := CompileInsertRow("widgets", map[string]any{"bogus": 1}, widgetsSchema())
	require.Error(t, err)

	stmt, err := CompileInsertRow("widgets", map[string]any{"name": "x", "price": 5}, widgetsSchema())
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, `INSERT INTO "widgets"`)
	require.Len(t, stmt.Args, 2)
}

func TestCompileInSplitsCommaList(t *testing.T) {
	stmt, err := CompileSelect("widgets", &Query{Filters: []Filter{{Op: OpIn, Column: "id", Value: "1,2,3"}}, Limit: 100}, widgetsSchema())
	require.NoError(t, err)
	require.Contains(t, stmt.SQL, `"id" IN ($1, $2, $3)`)
	require.Equal(t, []any{"1", "2", "3"}, stmt.Args)
}
