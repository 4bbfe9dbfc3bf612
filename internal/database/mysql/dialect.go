package mysql

import (
	"context"
	"errors"
	"fmt"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	"github.com/koustreak/connhub/internal/errs"
)

// MySQL error numbers
// Full list: https://dev.mysql.com/doc/mysql-errors/8.0/en/server-error-reference.html
const (
	errDBAccessDenied  = 1044
	errAccessDenied    = 1045
	errNoDatabase      = 1046
	errUnknownDatabase = 1049
	errTooManyConns    = 1040
	errUserConnLimit   = 1203
	errBadFieldError   = 1054
	errParseError      = 1064
	errNoSuchTable     = 1146
	errQueryKilled     = 1317
	errLockWaitTimeout = 1205
	errMaxExecTime     = 3024
)

// Dialect is the sqldb.Dialect for MySQL. Named parameters are rejected:
// go-sql-driver/mysql only binds positional ? placeholders.
type Dialect struct{}

func (Dialect) Engine() database.Engine { return database.EngineMySQL }
func (Dialect) Probe() string           { return "SELECT 1" }
func (Dialect) NamedArgs() bool         { return false }

// MapError translates go-sql-driver/mysql errors into *errs.Error.
func (Dialect) MapError(err error, phase database.Phase, msg string) *errs.Error {
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}
	if errors.Is(err, gomysql.ErrInvalidConn) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonNetwork)
	}

	var mysqlErr *gomysql.MySQLError
	if errors.As(err, &mysqlErr) {
		kind, reason := classifyMySQLCode(mysqlErr.Number, phase)
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, mysqlErr.Message), err).WithReason(reason)
	}

	return database.Fallback(err, phase, msg)
}

// classifyMySQLCode maps MySQL error numbers to a kind and reason.
func classifyMySQLCode(code uint16, phase database.Phase) (errs.ErrKind, errs.Reason) {
	switch code {
	case errDBAccessDenied, errAccessDenied:
		return errs.ErrKindConnectionFailed, errs.ReasonAuth
	case errNoDatabase, errUnknownDatabase, errTooManyConns, errUserConnLimit:
		return errs.ErrKindConnectionFailed, errs.ReasonEngineRejected
	case errParseError:
		return phase.Kind(), errs.ReasonSyntax
	case errQueryKilled, errLockWaitTimeout, errMaxExecTime:
		return phase.Kind(), errs.ReasonTimeout
	case errBadFieldError, errNoSuchTable:
		return phase.Kind(), errs.ReasonEngineRejected
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}

// ListTables returns base tables and views of the current database.
func (Dialect) ListTables(ctx context.Context, q sqldb.Queryer) ([]database.TableRef, error) {
	const stmt = `
		SELECT table_schema,
		       table_name,
		       CASE table_type WHEN 'VIEW' THEN 'view' ELSE 'table' END
		FROM information_schema.tables
		WHERE table_schema = DATABASE()
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`

	return sqldb.QueryTables(ctx, q, stmt)
}

// InspectTable returns the columns of one table in ordinal order.
func (Dialect) InspectTable(ctx context.Context, q sqldb.Queryer, t database.TableRef) ([]database.ColumnInfo, error) {
	const stmt = `
		SELECT column_name,
		       column_type,
		       is_nullable,
		       column_default
		FROM information_schema.columns
		WHERE table_schema = DATABASE()
		  AND table_name   = ?
		ORDER BY ordinal_position`

	return sqldb.QueryColumns(ctx, q, stmt, t.Name)
}
