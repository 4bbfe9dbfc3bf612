package minio

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/koustreak/connhub/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   errs.ErrKind
		reason errs.Reason
	}{
		{"missing key by status", miniogo.ErrorResponse{StatusCode: http.StatusNotFound, Code: "NoSuchKey"}, errs.ErrKindNotFound, errs.ReasonNone},
		{"missing bucket by code", miniogo.ErrorResponse{Code: "NoSuchBucket"}, errs.ErrKindNotFound, errs.ReasonNone},
		{"forbidden", miniogo.ErrorResponse{StatusCode: http.StatusForbidden}, errs.ErrKindPermissionDenied, errs.ReasonAuth},
		{"bad signature", miniogo.ErrorResponse{Code: "SignatureDoesNotMatch"}, errs.ErrKindPermissionDenied, errs.ReasonAuth},
		{"slow down", miniogo.ErrorResponse{Code: "SlowDown"}, errs.ErrKindTimeout, errs.ReasonTimeout},
		{"deadline", context.DeadlineExceeded, errs.ErrKindTimeout, errs.ReasonTimeout},
		{"other", errors.New("connection reset"), errs.ErrKindConnectionFailed, errs.ReasonNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapError(tt.err, "get object")
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.reason, got.Reason)
		})
	}

	assert.Nil(t, mapError(nil, "noop"))
}
