package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/koustreak/connhub/internal/database"
)

// introspector implements database.Introspector over information_schema.
type introspector struct {
	pool *pgxpool.Pool
}

func (i introspector) ListTables(ctx context.Context) ([]database.TableRef, error) {
	const q = `
		SELECT table_schema,
		       table_name,
		       CASE table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		  AND table_schema NOT LIKE 'pg_toast%'
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_schema, table_name`

	rows, err := i.pool.Query(ctx, q)
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

func (i introspector) InspectTable(ctx context.Context, t database.TableRef) ([]database.ColumnInfo, error) {
	const q = `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_default
		FROM information_schema.columns
		WHERE table_schema = $1
		  AND table_name   = $2
		ORDER BY ordinal_position`

	rows, err := i.pool.Query(ctx, q, t.Schema, t.Name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make([]database.ColumnInfo, 0)
	for rows.Next() {
		var c database.ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.DefaultValue); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
