package database

import (
	"fmt"
	"strings"

	"github.com/koustreak/connhub/internal/errs"
)

// Dialect controls placeholder style, identifier quoting and row limiting.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and LIMIT/OFFSET.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders, backtick quoting and LIMIT/OFFSET.
	DialectMySQL

	// DialectSQLite uses ? placeholders and LIMIT/OFFSET.
	DialectSQLite

	// DialectSQLServer uses @p1, @p2, … placeholders, bracket quoting and
	// OFFSET … FETCH NEXT.
	DialectSQLServer

	// DialectOracle uses :1, :2, … placeholders and OFFSET … FETCH NEXT.
	DialectOracle
)

// DialectFor returns the SQL dialect of engine; false for engines that do
// not speak SQL.
func DialectFor(e Engine) (Dialect, bool) {
	switch e {
	case EnginePostgres:
		return DialectPostgres, true
	case EngineMySQL:
		return DialectMySQL, true
	case EngineSQLite:
		return DialectSQLite, true
	case EngineSQLServer:
		return DialectSQLServer, true
	case EngineOracle:
		return DialectOracle, true
	default:
		return 0, false
	}
}

// validOps is the allowlist of comparison operators for WHERE clauses.
// The operator position cannot be parameterized.
var validOps = map[string]bool{
	"=":     true,
	"!=":    true,
	"<>":    true,
	"<":     true,
	">":     true,
	"<=":    true,
	">=":    true,
	"LIKE":  true,
	"ILIKE": true,
}

// SelectBuilder constructs a parameterized SELECT query using a fluent API.
// Values are never interpolated into the SQL string — always passed as args.
//
// Usage (SQL Server):
//
//	sql, args, err := Select("users", DialectSQLServer).
//	    InSchema("dbo").
//	    Columns("id", "name").
//	    Where("active", "=", true).
//	    OrderBy("created_at", Desc).
//	    Limit(20).
//	    Build()
type SelectBuilder struct {
	schema  string
	table   string
	dialect Dialect
	columns []string
	where   []whereClause
	orderBy []orderClause
	limit   *int
	offset  *int
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string
	value  any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// InSchema qualifies the table with a schema (or owner) name.
func (b *SelectBuilder) InSchema(schema string) *SelectBuilder {
	b.schema = schema
	return b
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a WHERE condition. Multiple calls are combined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column, op, value})
	return b
}

// OrderBy appends an ORDER BY clause for the given column and direction.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Offset sets the number of rows to skip.
func (b *SelectBuilder) Offset(n int) *SelectBuilder {
	b.offset = &n
	return b
}

// Build produces the final SQL string and argument slice.
func (b *SelectBuilder) Build() (string, []any, error) {
	if strings.TrimSpace(b.table) == "" {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "table name is required")
	}
	if (b.limit != nil && *b.limit < 0) || (b.offset != nil && *b.offset < 0) {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "limit and offset must not be negative")
	}

	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = b.quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	target := b.quoteIdent(b.table)
	if b.schema != "" {
		target = b.quoteIdent(b.schema) + "." + target
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(target)

	var args []any
	argIdx := 1

	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return "", nil, errs.Newf(errs.ErrKindInvalidInput, "unsupported WHERE operator: %q", w.op)
			}
			if op == "ILIKE" && b.dialect != DialectPostgres {
				return "", nil, errs.New(errs.ErrKindInvalidInput, "ILIKE is only available on postgres")
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", b.quoteIdent(w.column), op, b.placeholder(argIdx)))
			args = append(args, w.value)
			argIdx++
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	paging := b.limit != nil || b.offset != nil
	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", b.quoteIdent(o.column), dir)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	} else if paging && b.dialect == DialectSQLServer {
		// OFFSET/FETCH is only valid after ORDER BY.
		sb.WriteString(" ORDER BY (SELECT NULL)")
	}

	if !paging {
		return sb.String(), args, nil
	}

	switch b.dialect {
	case DialectSQLServer, DialectOracle:
		offset := 0
		if b.offset != nil {
			offset = *b.offset
		}
		sb.WriteString(fmt.Sprintf(" OFFSET %s ROWS", b.placeholder(argIdx)))
		args = append(args, offset)
		argIdx++
		if b.limit != nil {
			sb.WriteString(fmt.Sprintf(" FETCH NEXT %s ROWS ONLY", b.placeholder(argIdx)))
			args = append(args, *b.limit)
		}
	default:
		if b.limit == nil {
			// MySQL and SQLite only accept OFFSET after a LIMIT.
			switch b.dialect {
			case DialectMySQL:
				return "", nil, errs.New(errs.ErrKindInvalidInput, "mysql requires a limit when an offset is given")
			case DialectSQLite:
				sb.WriteString(" LIMIT -1")
			}
		} else {
			sb.WriteString(fmt.Sprintf(" LIMIT %s", b.placeholder(argIdx)))
			args = append(args, *b.limit)
			argIdx++
		}
		if b.offset != nil {
			sb.WriteString(fmt.Sprintf(" OFFSET %s", b.placeholder(argIdx)))
			args = append(args, *b.offset)
		}
	}

	return sb.String(), args, nil
}

// placeholder returns the parameter placeholder for the dialect.
func (b *SelectBuilder) placeholder(idx int) string {
	switch b.dialect {
	case DialectMySQL, DialectSQLite:
		return "?"
	case DialectSQLServer:
		return fmt.Sprintf("@p%d", idx)
	case DialectOracle:
		return fmt.Sprintf(":%d", idx)
	default:
		return fmt.Sprintf("$%d", idx)
	}
}

// quoteIdent quotes an identifier for the dialect, escaping the closing quote.
func (b *SelectBuilder) quoteIdent(name string) string {
	switch b.dialect {
	case DialectMySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	case DialectSQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}
