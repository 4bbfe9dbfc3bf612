package sqldb

import (
	"context"
	"database/sql"

	"github.com/koustreak/connhub/internal/database"
)

// QueryTables runs a catalog query returning (schema, name, kind) rows.
func QueryTables(ctx context.Context, q Queryer, stmt string, args ...any) ([]database.TableRef, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []database.TableRef
	for rows.Next() {
		var t database.TableRef
		if err := rows.Scan(&t.Schema, &t.Name, &t.Kind); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// QueryColumns runs a catalog query returning
// (name, data type, nullable, default) rows in ordinal order. nullable is
// read as text and accepts YES/Y/1/true.
func QueryColumns(ctx context.Context, q Queryer, stmt string, args ...any) ([]database.ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make([]database.ColumnInfo, 0)
	for rows.Next() {
		var (
			c        database.ColumnInfo
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&c.Name, &c.DataType, &nullable, &def); err != nil {
			return nil, err
		}
		c.IsNullable = IsTruthy(nullable)
		if def.Valid {
			c.DefaultValue = &def.String
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// IsTruthy interprets catalog flags such as YES, Y, 1 and true.
func IsTruthy(s string) bool {
	switch s {
	case "YES", "yes", "Y", "y", "1", "true", "TRUE", "t":
		return true
	default:
		return false
	}
}
