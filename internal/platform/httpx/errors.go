// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"
)

// Sentinel errors for transport-level failures.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrBadRequest = errors.New("malformed request")
)

// Coded is implemented by domain errors that carry a stable machine code.
type Coded interface {
	error
	Code() string
}

type detailed interface {
	Details() any
}

var codeStatus = map[string]int{
	"validation_failed":    http.StatusUnprocessableEntity,
	"snapshot_unresolved":  http.StatusUnprocessableEntity,
	"invalid_transition":   http.StatusUnprocessableEntity,
	"concurrency_conflict": http.StatusConflict,
	"quote_locked":         http.StatusConflict,
	"not_found":            http.StatusNotFound,
	"bad_request":          http.StatusBadRequest,
	"arithmetic_error":     http.StatusInternalServerError,
	"integrity_violation":  http.StatusInternalServerError,
}

// StatusFor returns the HTTP status a code maps to.
func StatusFor(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// RespondError maps domain errors to HTTP responses using RFC7807. Errors
// mapping to a 5xx status are logged and their message is not exposed.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	code := "internal_error"
	var coded Coded
	switch {
	case errors.As(err, &coded):
		code = coded.Code()
	case errors.Is(err, ErrNotFound):
		code = "not_found"
	case errors.Is(err, ErrBadRequest):
		code = "bad_request"
	}

	status := StatusFor(code)
	problem := ProblemDetail{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Code:   code,
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed",
			slog.String("code", code),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
	} else {
		problem.Detail = err.Error()
		var d detailed
		if errors.As(err, &d) {
			problem.Errors = d.Details()
		}
	}
	writeProblem(w, problem)
}
