package database

import (
	"context"
	"fmt"
)

// ColumnInfo describes a single column (or document field).
type ColumnInfo struct {
	Name         string  `json:"name"`
	DataType     string  `json:"type"`
	IsNullable   bool    `json:"nullable"`
	DefaultValue *string `json:"default,omitempty"`
}

// TableInfo describes a table or collection and its columns in ordinal order.
type TableInfo struct {
	Schema  string       `json:"schema,omitempty"`
	Name    string       `json:"name"`
	Kind    string       `json:"kind"`
	Columns []ColumnInfo `json:"columns"`
}

const (
	TableKindTable      = "table"
	TableKindView       = "view"
	TableKindCollection = "collection"
)

// SchemaInfo is the introspected structure of a database.
type SchemaInfo struct {
	Engine Engine      `json:"engine"`
	Tables []TableInfo `json:"tables"`
}

// TableRef names a table inside an optional schema.
type TableRef struct {
	Schema string
	Name   string
	Kind   string
}

// Introspector reads the structure of a database one table at a time.
// Each engine implements the engine-specific queries; InspectSchema is shared.
type Introspector interface {
	ListTables(ctx context.Context) ([]TableRef, error)
	InspectTable(ctx context.Context, table TableRef) ([]ColumnInfo, error)
}

// InspectSchema builds the full SchemaInfo by orchestrating the Introspector.
// Table order follows ListTables and column order follows InspectTable, so
// engines that need one round trip per table still present one result.
func InspectSchema(ctx context.Context, engine Engine, i Introspector) (*SchemaInfo, error) {
	tables, err := i.ListTables(ctx)
	if err != nil {
		return nil, err
	}

	info := &SchemaInfo{Engine: engine, Tables: make([]TableInfo, 0, len(tables))}
	for _, ref := range tables {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cols, err := i.InspectTable(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("inspecting table %q: %w", ref.Name, err)
		}
		kind := ref.Kind
		if kind == "" {
			kind = TableKindTable
		}
		info.Tables = append(info.Tables, TableInfo{
			Schema:  ref.Schema,
			Name:    ref.Name,
			Kind:    kind,
			Columns: cols,
		})
	}
	return info, nil
}
