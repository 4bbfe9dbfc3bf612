package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/koustreak/connhub/internal/errs"
)

// maxBodyBytes bounds request bodies; statements and documents are small.
const maxBodyBytes = 1 << 20

// envelope is the shape of every JSON response.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: msg, Data: data})
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: status < 400, Message: msg})
}

// writeError maps err onto a status code. Messages of unclassified errors
// are not echoed.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := envelope{Message: "internal error"}

	var e *errs.Error
	if errors.As(err, &e) {
		body.Code = e.Code()
		if status != http.StatusInternalServerError {
			body.Message = e.Message
			if e.Cause != nil {
				body.Message += ": " + e.Cause.Error()
			}
		}
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	case errs.ErrKindDuplicateKey:
		return http.StatusConflict
	case errs.ErrKindConnectionFailed:
		return http.StatusBadGateway
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindQueryFailed, errs.ErrKindSchemaFailed:
		if errs.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst. Numbers stay json.Number until the
// caller converts them.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errs.New(errs.ErrKindInvalidInput, "request body is required")
		}
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid request body", err)
	}
	return nil
}

// plainJSON replaces json.Number with int64 or float64, recursively, so
// drivers receive native Go values.
func plainJSON(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, item := range t {
			t[k] = plainJSON(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = plainJSON(item)
		}
		return t
	default:
		return v
	}
}
