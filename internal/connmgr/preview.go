package connmgr

import (
	"context"
	"strings"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/koustreak/connhub/internal/registry"
)

const (
	DefaultPreviewLimit = 100
	MaxPreviewLimit     = 1000
)

// Filter is one column comparison of a preview.
type Filter struct {
	Column string `json:"column"`
	Op     string `json:"op"`
	Value  any    `json:"value"`
}

// Order sorts a preview by one column.
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// PreviewRequest describes a structured table read. Identifiers are quoted
// and values bound as parameters; no caller text reaches the statement.
type PreviewRequest struct {
	Schema  string   `json:"schema,omitempty"`
	Table   string   `json:"table"`
	Columns []string `json:"columns,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
	OrderBy []Order  `json:"orderBy,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	Offset  int      `json:"offset,omitempty"`
}

// Preview reads rows from one table or collection of key's database.
func (m *Manager) Preview(ctx context.Context, key registry.Key, req PreviewRequest) (*QueryResult, error) {
	e, ok := m.live(key)
	if !ok {
		return nil, notFound(key)
	}

	switch {
	case req.Limit < 0 || req.Offset < 0:
		return nil, errs.New(errs.ErrKindInvalidInput, "limit and offset must not be negative")
	case req.Limit == 0:
		req.Limit = DefaultPreviewLimit
	case req.Limit > MaxPreviewLimit:
		req.Limit = MaxPreviewLimit
	}

	q, err := previewQuery(e.Config.Engine, req)
	if err != nil {
		return nil, err
	}
	return m.ExecuteQuery(ctx, key, q)
}

func previewQuery(engine database.Engine, req PreviewRequest) (database.Query, error) {
	if strings.TrimSpace(req.Table) == "" {
		return database.Query{}, errs.New(errs.ErrKindInvalidInput, "table is required")
	}

	if dialect, ok := database.DialectFor(engine); ok {
		b := database.Select(req.Table, dialect).InSchema(req.Schema).Columns(req.Columns...)
		for _, f := range req.Filters {
			b.Where(f.Column, f.Op, f.Value)
		}
		for _, o := range req.OrderBy {
			dir := database.Asc
			if o.Desc {
				dir = database.Desc
			}
			b.OrderBy(o.Column, dir)
		}
		b.Limit(req.Limit)
		if req.Offset > 0 {
			b.Offset(req.Offset)
		}
		stmt, args, err := b.Build()
		if err != nil {
			return database.Query{}, err
		}
		return database.Query{
			Statement: stmt,
			Params:    database.Params{Positional: args},
			RowLimit:  req.Limit,
		}, nil
	}

	if engine == database.EngineMongoDB {
		return documentPreview(req)
	}
	return database.Query{}, errs.Newf(errs.ErrKindInvalidInput, "preview is not supported for %s", engine).
		WithReason(errs.ReasonUnsupportedEngine)
}

var documentOps = map[string]string{
	"=":  "$eq",
	"!=": "$ne",
	"<>": "$ne",
	"<":  "$lt",
	">":  "$gt",
	"<=": "$lte",
	">=": "$gte",
}

// documentPreview renders req as a find statement.
func documentPreview(req PreviewRequest) (database.Query, error) {
	filter := map[string]any{}
	for _, f := range req.Filters {
		op, ok := documentOps[f.Op]
		if !ok {
			return database.Query{}, errs.Newf(errs.ErrKindInvalidInput, "unsupported filter operator %q for mongodb", f.Op)
		}
		cond, _ := filter[f.Column].(map[string]any)
		if cond == nil {
			cond = map[string]any{}
			filter[f.Column] = cond
		}
		cond[op] = f.Value
	}

	named := map[string]any{"filter": filter}
	if len(req.Columns) > 0 {
		proj := map[string]any{}
		for _, c := range req.Columns {
			proj[c] = 1
		}
		named["projection"] = proj
	}
	if len(req.OrderBy) > 0 {
		sort := make([]any, len(req.OrderBy))
		for i, o := range req.OrderBy {
			dir := 1
			if o.Desc {
				dir = -1
			}
			sort[i] = map[string]any{o.Column: dir}
		}
		named["sort"] = sort
	}
	if req.Offset > 0 {
		named["skip"] = req.Offset
	}

	return database.Query{
		Statement: "find:" + req.Table,
		Params:    database.Params{Named: named},
		RowLimit:  req.Limit,
	}, nil
}
