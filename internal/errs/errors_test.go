package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Code(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"kind only", New(ErrKindNotFound, "missing"), "not_found"},
		{"kind and reason", New(ErrKindConnectionFailed, "bad password").WithReason(ReasonAuth), "connection_failed.auth"},
		{"schema unsupported", New(ErrKindSchemaFailed, "x").WithReason(ReasonUnsupportedEngine), "schema_failed.unsupported_engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Code())
		})
	}
}

func TestError_MessageIncludesCause(t *testing.T) {
	err := Wrap(ErrKindQueryFailed, "query failed", errors.New("boom")).WithReason(ReasonSyntax)
	assert.Equal(t, "[query_failed.syntax] query failed: boom", err.Error())
	assert.Equal(t, "[not_found] gone", New(ErrKindNotFound, "gone").Error())
}

func TestPredicates_TraverseWrappedChain(t *testing.T) {
	base := Wrap(ErrKindConnectionFailed, "dial", context.DeadlineExceeded).WithReason(ReasonTimeout)
	wrapped := fmt.Errorf("connect: %w", base)

	assert.True(t, IsConnectionFailed(wrapped))
	assert.True(t, IsTimeout(wrapped), "reason timeout counts as timeout")
	assert.False(t, IsQueryFailed(wrapped))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	assert.Equal(t, ReasonTimeout, ReasonOf(wrapped))
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsTimeout(New(ErrKindTimeout, "t")))
	assert.True(t, IsNotFound(New(ErrKindNotFound, "n")))
	assert.True(t, IsSchemaFailed(New(ErrKindSchemaFailed, "s")))
	assert.True(t, IsInvalidInput(New(ErrKindInvalidInput, "i")))
	assert.True(t, IsDuplicateKey(New(ErrKindDuplicateKey, "d")))
	assert.True(t, IsPermissionDenied(New(ErrKindPermissionDenied, "p")))
	assert.Equal(t, ErrKindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, ReasonNone, ReasonOf(nil))
}

func TestRedact(t *testing.T) {
	t.Run("scrubs message and cause", func(t *testing.T) {
		src := Wrap(ErrKindConnectionFailed, "dial postgres://bob:hunter2@db", errors.New("auth hunter2 rejected")).
			WithReason(ReasonAuth)

		got := Redact(src, "hunter2")
		require.Error(t, got)
		assert.NotContains(t, got.Error(), "hunter2")
		assert.Contains(t, got.Error(), redactedMark)
		assert.True(t, IsConnectionFailed(got))
		assert.Equal(t, ReasonAuth, ReasonOf(got))
	})

	t.Run("plain error", func(t *testing.T) {
		got := Redact(errors.New("password=s3cret"), "s3cret")
		assert.Equal(t, "password="+redactedMark, got.Error())
	})

	t.Run("untouched when secret absent", func(t *testing.T) {
		src := New(ErrKindQueryFailed, "syntax error")
		assert.Same(t, src, Redact(src, "s3cret"))
	})

	t.Run("short secret only where it stands alone", func(t *testing.T) {
		src := New(ErrKindConnectionFailed, "login for p@postgres failed: password p rejected")
		var got *Error
		require.ErrorAs(t, Redact(src, "p"), &got)
		assert.Equal(t, "login for "+redactedMark+"@postgres failed: password "+redactedMark+" rejected", got.Message)

		inWords := New(ErrKindQueryFailed, "syntax error near SELECT")
		assert.Same(t, inWords, Redact(inWords, "e"))
	})

	t.Run("empty secrets ignored", func(t *testing.T) {
		src := New(ErrKindQueryFailed, "syntax error")
		assert.Same(t, src, Redact(src, "", ""))
		assert.Nil(t, Redact(nil, "x"))
	})
}
