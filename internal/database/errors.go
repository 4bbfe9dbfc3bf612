package database

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/koustreak/connhub/internal/errs"
)

// Phase says which operation an adapter error came from; it selects the
// error kind when nothing engine-specific matched.
type Phase int

const (
	PhaseConnect Phase = iota
	PhaseQuery
	PhaseSchema
)

// Kind returns the error kind reported for failures in this phase.
func (p Phase) Kind() errs.ErrKind {
	switch p {
	case PhaseConnect:
		return errs.ErrKindConnectionFailed
	case PhaseSchema:
		return errs.ErrKindSchemaFailed
	default:
		return errs.ErrKindQueryFailed
	}
}

// ClassifyTransport maps errors every driver shares: context deadlines,
// socket timeouts and network failures. ok is false when err is not one of
// those and the adapter should apply its own engine-specific mapping.
func ClassifyTransport(err error, phase Phase, msg string) (*errs.Error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return errs.Wrap(phase.Kind(), msg, err).WithReason(errs.ReasonTimeout), true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errs.Wrap(phase.Kind(), msg, err).WithReason(errs.ReasonTimeout), true
	}

	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err).WithReason(errs.ReasonNetwork), true
	}

	return nil, false
}

// Fallback wraps err with the phase kind when no mapping matched. Connect
// failures default to reason network; statement failures to engine_rejected.
func Fallback(err error, phase Phase, msg string) *errs.Error {
	e := errs.Wrap(phase.Kind(), msg, err)
	if phase == PhaseConnect {
		return e.WithReason(errs.ReasonNetwork)
	}
	return e.WithReason(errs.ReasonEngineRejected)
}
