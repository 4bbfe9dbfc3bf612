package sqlserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	"github.com/koustreak/connhub/internal/errs"
	mssql "github.com/microsoft/go-mssqldb"
)

// SQL Server error numbers.
const (
	errLoginFailed       = 18456
	errCannotOpenDB      = 4060
	errPermissionDenied  = 229
	errSyntax            = 102
	errKeywordSyntax     = 156
	errInvalidObject     = 208
	errInvalidColumn     = 207
	errLockTimeout       = 1222
	errDeadlockVictim    = 1205
	errTooManyUserConns  = 17809
	errServerUnavailable = 40613
)

// Dialect is the sqldb.Dialect for SQL Server. Named parameters bind as
// @name through sql.Named.
type Dialect struct{}

func (Dialect) Engine() database.Engine { return database.EngineSQLServer }
func (Dialect) Probe() string           { return "SELECT 1" }
func (Dialect) NamedArgs() bool         { return true }

func (Dialect) MapError(err error, phase database.Phase, msg string) *errs.Error {
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}

	var sqlErr mssql.Error
	if errors.As(err, &sqlErr) {
		kind, reason := classifyNumber(sqlErr.Number, phase)
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, sqlErr.Message), err).WithReason(reason)
	}
	return database.Fallback(err, phase, msg)
}

func classifyNumber(n int32, phase database.Phase) (errs.ErrKind, errs.Reason) {
	switch n {
	case errLoginFailed:
		return errs.ErrKindConnectionFailed, errs.ReasonAuth
	case errCannotOpenDB, errTooManyUserConns, errServerUnavailable:
		return errs.ErrKindConnectionFailed, errs.ReasonEngineRejected
	case errPermissionDenied:
		return phase.Kind(), errs.ReasonAuth
	case errSyntax, errKeywordSyntax:
		return phase.Kind(), errs.ReasonSyntax
	case errLockTimeout, errDeadlockVictim:
		return phase.Kind(), errs.ReasonTimeout
	case errInvalidObject, errInvalidColumn:
		return phase.Kind(), errs.ReasonEngineRejected
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}

func (Dialect) ListTables(ctx context.Context, q sqldb.Queryer) ([]database.TableRef, error) {
	const stmt = `
		SELECT TABLE_SCHEMA,
		       TABLE_NAME,
		       CASE TABLE_TYPE WHEN 'VIEW' THEN 'view' ELSE 'table' END
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
		ORDER BY TABLE_SCHEMA, TABLE_NAME`

	return sqldb.QueryTables(ctx, q, stmt)
}

func (Dialect) InspectTable(ctx context.Context, q sqldb.Queryer, t database.TableRef) ([]database.ColumnInfo, error) {
	const stmt = `
		SELECT COLUMN_NAME,
		       DATA_TYPE,
		       IS_NULLABLE,
		       COLUMN_DEFAULT
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1
		  AND TABLE_NAME   = @p2
		ORDER BY ORDINAL_POSITION`

	return sqldb.QueryColumns(ctx, q, stmt, t.Schema, t.Name)
}
