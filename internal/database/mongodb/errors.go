package mongodb

import (
	"errors"
	"strings"

	"github.com/koustreak/connhub/internal/database"
	"github.com/koustreak/connhub/internal/errs"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Server error codes.
// Full list: https://www.mongodb.com/docs/manual/reference/error-codes/
const (
	codeBadValue             = 2
	codeFailedToParse        = 9
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
	codeNamespaceNotFound    = 26
	codeMaxTimeMSExpired     = 50
	codeInvalidPipeline      = 40324
)

// mapError translates driver errors into *errs.Error.
func mapError(err error, phase database.Phase, msg string) *errs.Error {
	if err == nil {
		return nil
	}
	if e, ok := database.ClassifyTransport(err, phase, msg); ok {
		return e
	}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		kind, reason := classifyCode(cmdErr.Code, phase)
		return errs.Wrap(kind, msg, err).WithReason(reason)
	}

	var selErr topology.ServerSelectionError
	if errors.As(err, &selErr) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonNetwork)
	}

	switch {
	case strings.Contains(strings.ToLower(err.Error()), "authentication failed"):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonAuth)
	case mongo.IsTimeout(err):
		return errs.Wrap(phase.Kind(), msg, err).WithReason(errs.ReasonTimeout)
	case mongo.IsNetworkError(err):
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonNetwork)
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return errs.Wrap(phase.Kind(), msg, err).WithReason(errs.ReasonEngineRejected)
	}
	return database.Fallback(err, phase, msg)
}

func classifyCode(code int32, phase database.Phase) (errs.ErrKind, errs.Reason) {
	switch code {
	case codeAuthenticationFailed:
		return errs.ErrKindConnectionFailed, errs.ReasonAuth
	case codeUnauthorized:
		return phase.Kind(), errs.ReasonAuth
	case codeMaxTimeMSExpired:
		return phase.Kind(), errs.ReasonTimeout
	case codeFailedToParse, codeBadValue, codeInvalidPipeline:
		return phase.Kind(), errs.ReasonSyntax
	case codeNamespaceNotFound:
		return phase.Kind(), errs.ReasonEngineRejected
	default:
		return phase.Kind(), errs.ReasonEngineRejected
	}
}
