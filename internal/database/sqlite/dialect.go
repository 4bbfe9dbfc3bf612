package sqlite

import (
	"context"
	"errors"
	"strings"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	"github.com/koustreak/connhub/internal/errs"
	msqlite "modernc.org/sqlite"
)

// Primary SQLite result codes.
// Full list: https://www.sqlite.org/rescode.html
const (
	codeError     = 1
	codePerm      = 3
	codeBusy      = 5
	codeLocked    = 6
	codeReadOnly  = 8
	codeInterrupt = 9
	codeCantOpen  = 14
	codeAuth      = 23
	codeNotADB    = 26
)

// Dialect is the sqldb.Dialect for SQLite.
type Dialect struct{}

func (Dialect) Engine() database.Engine { return database.EngineSQLite }
func (Dialect) Probe() string           { return "SELECT 1" }
func (Dialect) NamedArgs() bool         { return true }

// MapError translates modernc sqlite errors into *errs.Error.
func (Dialect) MapError(err error, phase database.Phase, msg string) *errs.Error {
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		kind, reason := classifyCode(sqliteErr.Code()&0xff, sqliteErr.Error(), phase)
		return errs.Wrap(kind, msg, err).WithReason(reason)
	}
	return database.Fallback(err, phase, msg)
}

func classifyCode(code int, text string, phase database.Phase) (errs.ErrKind, errs.Reason) {
	switch code {
	case codeCantOpen, codeNotADB:
		return errs.ErrKindConnectionFailed, errs.ReasonEngineRejected
	case codeAuth, codePerm:
		return phase.Kind(), errs.ReasonAuth
	case codeBusy, codeLocked, codeInterrupt:
		return phase.Kind(), errs.ReasonTimeout
	case codeError:
		if strings.Contains(text, "syntax error") || strings.Contains(text, "incomplete input") {
			return phase.Kind(), errs.ReasonSyntax
		}
		return phase.Kind(), errs.ReasonEngineRejected
	case codeReadOnly:
		return phase.Kind(), errs.ReasonEngineRejected
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}

// ListTables reads sqlite_master, skipping internal tables.
func (Dialect) ListTables(ctx context.Context, q sqldb.Queryer) ([]database.TableRef, error) {
	const stmt = `
		SELECT 'main', name, type
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name`

	return sqldb.QueryTables(ctx, q, stmt)
}

// InspectTable issues one table_info pragma per table.
func (Dialect) InspectTable(ctx context.Context, q sqldb.Queryer, t database.TableRef) ([]database.ColumnInfo, error) {
	const stmt = `
		SELECT name,
		       type,
		       CASE "notnull" WHEN 0 THEN 'YES' ELSE 'NO' END,
		       dflt_value
		FROM pragma_table_info(?)
		ORDER BY cid`

	return sqldb.QueryColumns(ctx, q, stmt, t.Name)
}
