// Package errs provides the unified error type used across all of connhub.
//
// Every subsystem (engine adapters, registry, manager, filestore, transport)
// wraps its native errors into *errs.Error before returning them to callers.
// Callers use the Is* predicates to handle errors without importing
// driver-specific packages.
//
// Usage:
//
//	// In an adapter — wrap native errors with a kind and a stable reason:
//	return errs.Wrap(errs.ErrKindConnectionFailed, "authentication failed", pgErr).
//	    WithReason(errs.ReasonAuth)
//
//	// In a handler — check error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrKind categorises an error without exposing engine-specific codes.
// All adapters (Postgres, MySQL, MongoDB, MinIO, …) map their native errors
// to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no live connection, no object, no bucket
	ErrKindConnectionFailed         // cannot reach or authenticate to the engine
	ErrKindTimeout                  // deadline exceeded / cancellation
	ErrKindQueryFailed              // statement rejected or failed
	ErrKindSchemaFailed             // introspection failed
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindDuplicateKey             // registry already holds the key
	ErrKindPermissionDenied         // access denied / quota exceeded
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindSchemaFailed:
		return "schema_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindDuplicateKey:
		return "duplicate_key"
	case ErrKindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Reason is a stable machine-readable code refining a kind.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonAuth              Reason = "auth"
	ReasonNetwork           Reason = "network"
	ReasonTimeout           Reason = "timeout"
	ReasonUnsupportedEngine Reason = "unsupported_engine"
	ReasonSyntax            Reason = "syntax"
	ReasonEngineRejected    Reason = "engine_rejected"
)

// Error is the single error type returned by all connhub subsystems.
type Error struct {
	Kind    ErrKind
	Reason  Reason
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code(), e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code(), e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Code returns "kind" or "kind.reason", e.g. "connection_failed.auth".
func (e *Error) Code() string {
	if e.Reason == ReasonNone {
		return e.Kind.String()
	}
	return e.Kind.String() + "." + string(e.Reason)
}

// WithReason sets the reason and returns e for chaining.
func (e *Error) WithReason(r Reason) *Error {
	e.Reason = r
	return e
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a formatted message.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a missing connection, object or bucket.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or cancellation,
// either as its own kind or as the reason of a connection/query/schema failure.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout || ReasonOf(err) == ReasonTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a statement failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

func IsSchemaFailed(err error) bool {
	return KindOf(err) == ErrKindSchemaFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

func IsDuplicateKey(err error) bool {
	return KindOf(err) == ErrKindDuplicateKey
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// KindOf extracts the ErrKind from the first *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// ReasonOf extracts the Reason from the first *Error in the chain.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// --- Redaction ---

const redactedMark = "[REDACTED]"

// Secrets shorter than this are only replaced where they stand alone, not
// inside longer words.
const minBareSecretLen = 4

// Redact returns err with every occurrence of the given secrets replaced.
// Drivers sometimes echo DSNs back in their messages; anything leaving an
// adapter passes through here. Kind and reason survive, the cause chain does
// not when a secret was found in it.
func Redact(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	active := secrets[:0:0]
	for _, s := range secrets {
		if s != "" {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return err
	}
	if msg := err.Error(); scrub(msg, active) == msg {
		return err
	}

	var e *Error
	if errors.As(err, &e) {
		out := &Error{Kind: e.Kind, Reason: e.Reason, Message: scrub(e.Message, active)}
		if e.Cause != nil {
			out.Cause = errors.New(scrub(e.Cause.Error(), active))
		}
		return out
	}
	return errors.New(scrub(err.Error(), active))
}

func scrub(s string, secrets []string) string {
	for _, sec := range secrets {
		if len(sec) < minBareSecretLen {
			s = scrubDelimited(s, sec)
			continue
		}
		s = strings.ReplaceAll(s, sec, redactedMark)
	}
	return s
}

// scrubDelimited replaces sec only where it is not flanked by a letter or
// digit.
func scrubDelimited(s, sec string) string {
	var b strings.Builder
	for {
		i := strings.Index(s, sec)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := i + len(sec)
		before, _ := utf8.DecodeLastRuneInString(s[:i])
		after, _ := utf8.DecodeRuneInString(s[end:])
		b.WriteString(s[:i])
		if isWordRune(before) || isWordRune(after) {
			b.WriteString(sec)
		} else {
			b.WriteString(redactedMark)
		}
		s = s[end:]
	}
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
