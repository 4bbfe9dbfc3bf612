package database

import "fmt"

// ScanRows reads rows into a ResultSet, keeping column order and stopping
// after limit rows when limit > 0. One extra row is probed so Truncated is
// only set when the engine really had more to give.
//
// Byte slices are converted to strings; drivers such as MySQL return text
// columns as []byte when scanning into *any.
//
// The returned Rows slice is always non-nil (empty slice on zero rows).
// ScanRows always closes the Rows — callers do not need to call Close().
// Errors are returned unmapped so adapters can classify them.
func ScanRows(rows Rows, limit int) (*ResultSet, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading column metadata: %w", err)
	}

	rs := &ResultSet{Columns: columns, Rows: make([]map[string]any, 0)}

	for rows.Next() {
		if limit > 0 && len(rs.Rows) == limit {
			rs.Truncated = true
			break
		}

		// Allocate scan targets as *any so the driver can write any type.
		dest := make([]any, len(columns))
		destPtrs := make([]any, len(columns))
		for i := range dest {
			destPtrs[i] = &dest[i]
		}

		if err := rows.Scan(destPtrs...); err != nil {
			return nil, fmt.Errorf("scanning row %d: %w", len(rs.Rows), err)
		}

		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col.Name] = normalizeValue(dest[i])
		}
		rs.Rows = append(rs.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	rs.RowCount = len(rs.Rows)
	return rs, nil
}

func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
