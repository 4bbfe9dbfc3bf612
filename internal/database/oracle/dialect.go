package oracle

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/database/sqldb"
	"github.com/koustreak/connhub/internal/errs"
	"github.com/sijms/go-ora/v2/network"
)

// ORA- codes.
const (
	oraInvalidLogin      = 1017
	oraAccountLocked     = 28000
	oraUserCancel        = 1013
	oraNoListener        = 12541
	oraUnknownService    = 12514
	oraUnknownSID        = 12505
	oraConnectTimeout    = 12170
	oraTableNotFound     = 942
	oraInsufficientPrivs = 1031
	oraResourceBusy      = 54
)

var oraCode = regexp.MustCompile(`ORA-(\d{5})`)

// Dialect is the sqldb.Dialect for Oracle. Named parameters bind as :name.
type Dialect struct{}

func (Dialect) Engine() database.Engine { return database.EngineOracle }
func (Dialect) Probe() string           { return "SELECT 1 FROM DUAL" }
func (Dialect) NamedArgs() bool         { return true }

func (Dialect) MapError(err error, phase database.Phase, msg string) *errs.Error {
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}
	if code, ok := errorCode(err); ok {
		kind, reason := classifyCode(code, phase)
		return errs.Wrap(kind, msg, err).WithReason(reason)
	}
	return database.Fallback(err, phase, msg)
}

// errorCode extracts the ORA- number from a driver error.
func errorCode(err error) (int, bool) {
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) && oraErr.ErrCode != 0 {
		return oraErr.ErrCode, true
	}
	m := oraCode.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	return code, convErr == nil
}

func classifyCode(code int, phase database.Phase) (errs.ErrKind, errs.Reason) {
	switch {
	case code == oraInvalidLogin || code == oraAccountLocked:
		return errs.ErrKindConnectionFailed, errs.ReasonAuth
	case code == oraNoListener || code == oraUnknownService || code == oraUnknownSID || code == oraConnectTimeout:
		return errs.ErrKindConnectionFailed, errs.ReasonNetwork
	case code == oraUserCancel || code == oraResourceBusy:
		return phase.Kind(), errs.ReasonTimeout
	case code == oraInsufficientPrivs:
		return phase.Kind(), errs.ReasonAuth
	case code == oraTableNotFound:
		return phase.Kind(), errs.ReasonEngineRejected
	case code >= 900 && code <= 999:
		return phase.Kind(), errs.ReasonSyntax
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}

// ListTables returns the tables and views owned by the connected user.
func (Dialect) ListTables(ctx context.Context, q sqldb.Queryer) ([]database.TableRef, error) {
	const stmt = `
		SELECT USER, table_name, 'table' FROM user_tables
		UNION ALL
		SELECT USER, view_name, 'view' FROM user_views
		ORDER BY 2`

	return sqldb.QueryTables(ctx, q, stmt)
}

func (Dialect) InspectTable(ctx context.Context, q sqldb.Queryer, t database.TableRef) ([]database.ColumnInfo, error) {
	const stmt = `
		SELECT column_name,
		       data_type,
		       nullable,
		       data_default
		FROM user_tab_columns
		WHERE table_name = :1
		ORDER BY column_id`

	return sqldb.QueryColumns(ctx, q, stmt, t.Name)
}
