package crud

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dataforge/platform/internal/apperr"
)

// TableNamePattern is the allowed shape of a table identifier.
var TableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

const (
	defaultLimit  = 100
	maxLimitHard  = 1000 // absolute ceiling regardless of configured cap
)

// Op is a filter comparison operator.
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpLt    Op = "lt"
	OpLte   Op = "lte"
	OpGt    Op = "gt"
	OpGte   Op = "gte"
	OpLike  Op = "like"
	OpILike Op = "ilike"
	OpIn    Op = "in"
)

var opSQL = map[Op]string{
	OpEq: "=", OpNeq: "<>", OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=",
	OpLike: "LIKE", OpILike: "ILIKE",
}

// Filter is one parsed `<op>.<column>=<value>` query parameter.
type Filter struct {
	Op     Op
	Column string
	Value  string // raw value; "in" values are comma-joined here and split at compile time
}

// Order is a parsed `order=col.asc|desc` clause.
type Order struct {
	Column string
	Desc   bool
}

// Query is the fully parsed query-string portion of a CRUD request.
type Query struct {
	Select  []string // nil means "*"
	Order   *Order
	Filters []Filter
	Limit   int
	Offset  int
}

// ParseQuery parses the filter/order/limit/offset query-string grammar.
// maxRowsPerQuery is the configured cap; the absolute ceiling of 1000
// always applies in addition to it.
func ParseQuery(values url.Values, maxRowsPerQuery int) (*Query, error) {
	q := &Query{Limit: defaultLimit}

	if sel := values.Get("select"); sel != "" && sel != "*" {
		cols := strings.Split(sel, ",")
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		q.Select = cols
	}

	if ord := values.Get("order"); ord != "" {
		parts := strings.SplitN(ord, ".", 2)
		if len(parts) != 2 || (parts[1] != "asc" && parts[1] != "desc") {
			return nil, apperr.BadRequest("order must be of the form col.asc or col.desc")
		}
		q.Order = &Order{Column: parts[0], Desc: parts[1] == "desc"}
	}

	if lim := values.Get("limit"); lim != "" {
		n, err := strconv.Atoi(lim)
		if err != nil {
			return nil, apperr.BadRequest("limit must be an integer")
		}
		q.Limit = n
	}
	limitCap := maxRowsPerQuery
	if limitCap <= 0 || limitCap > maxLimitHard {
		limitCap = maxLimitHard
	}
	if q.Limit < 1 || q.Limit > limitCap {
		return nil, apperr.BadRequest("limit must be between 1 and %d", limitCap)
	}

	if off := values.Get("offset"); off != "" {
		n, err := strconv.Atoi(off)
		if err != nil || n < 0 {
			return nil, apperr.BadRequest("offset must be a non-negative integer")
		}
		q.Offset = n
	}

	// Deterministic iteration order for reproducible generated SQL/tests.
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		switch key {
		case "select", "order", "limit", "offset":
			continue
		}
		dot := strings.IndexByte(key, '.')
		if dot < 0 {
			continue // not a filter key; ignored rather than rejected, per the grammar's open shape
		}
		op := Op(key[:dot])
		column := key[dot+1:]
		if _, ok := opSQL[op]; !ok && op != OpIn {
			return nil, apperr.BadRequest("unknown filter operator %q", op)
		}
		q.Filters = append(q.Filters, Filter{Op: op, Column: column, Value: values.Get(key)})
	}

	return q, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
