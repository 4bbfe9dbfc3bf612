package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
)

// PostgreSQL SQLSTATE codes.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgErrInvalidCatalogName = "3D000"
	pgErrTooManyConnections = "53300"
	pgErrSyntaxError        = "42601"
	pgErrQueryCanceled      = "57014"
	pgErrLockNotAvailable   = "55P03"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, phase database.Phase, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	// Postgres server-side error (SQLSTATE codes). Checked first: a connect
	// error wrapping a 28P01 is an auth failure, not a network one.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		kind, reason := classifySQLState(pgErr.Code, phase)
		return errs.Wrap(kind, fmt.Sprintf("%s: %s", msg, pgErr.Message), err).WithReason(reason)
	}

	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}
	if pgconn.Timeout(err) {
		return errs.Wrap(phase.Kind(), msg, err).WithReason(errs.ReasonTimeout)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonNetwork)
	}

	return database.Fallback(err, phase, msg)
}

func classifySQLState(code string, phase database.Phase) (errs.ErrKind, errs.Reason) {
	class := ""
	if len(code) >= 2 {
		class = code[:2]
	}

	switch {
	case class == "28":
		return errs.ErrKindConnectionFailed, errs.ReasonAuth
	case class == "08":
		return errs.ErrKindConnectionFailed, errs.ReasonNetwork
	case code == pgErrInvalidCatalogName, code == pgErrTooManyConnections:
		return errs.ErrKindConnectionFailed, errs.ReasonEngineRejected
	case code == pgErrSyntaxError:
		return phase.Kind(), errs.ReasonSyntax
	case code == pgErrQueryCanceled, code == pgErrLockNotAvailable:
		return phase.Kind(), errs.ReasonTimeout
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}
