package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/substratehq/substrate/contracts"
)

// API-level sentinels.
var (
	// ErrRunExists is returned when a run ID collides with a stored run.
	ErrRunExists = errors.New("run already exists")

	// ErrNotImplemented is returned for endpoints not yet implemented.
	ErrNotImplemented = errors.New("not implemented in V1")
)

// ErrorCode is the machine-readable code in error responses.
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "invalid_input"
	CodeDAGCycle       ErrorCode = "dag_cycle"
	CodeDAGInvalid     ErrorCode = "dag_invalid"
	CodeDepNotFound    ErrorCode = "dep_not_found"
	CodeRunNotFound    ErrorCode = "run_not_found"
	CodeRunExists      ErrorCode = "run_exists"
	CodeRunCompleted   ErrorCode = "run_completed"
	CodeRunAborted     ErrorCode = "run_aborted"
	CodeBudgetExceeded ErrorCode = "budget_exceeded"
	CodeTaskFailed     ErrorCode = "task_failed"
	CodeDeadlock       ErrorCode = "deadlock"
	CodeCancelled      ErrorCode = "cancelled"
	CodeTimeout        ErrorCode = "timeout"
	CodeNotImplemented ErrorCode = "not_implemented"
	CodeInternalError  ErrorCode = "internal_error"
)

// HTTPError pairs a domain error with its transport mapping.
type HTTPError struct {
	StatusCode int
	Code       ErrorCode
	Err        error
}

func (e *HTTPError) Error() string { return e.Err.Error() }
func (e *HTTPError) Unwrap() error { return e.Err }

// statusClientClosedRequest is the nginx convention for a request the
// client abandoned; stdlib has no name for it.
const statusClientClosedRequest = 499

// errorMappings is walked in order; the first sentinel the error wraps
// decides the response. Order matters where sentinels overlap in
// meaning (the more specific mapping sits first).
var errorMappings = []struct {
	sentinel error
	status   int
	code     ErrorCode
}{
	{contracts.ErrInvalidInput, http.StatusBadRequest, CodeInvalidInput},
	{contracts.ErrValidation, http.StatusBadRequest, CodeInvalidInput},
	{contracts.ErrDAGCycle, http.StatusUnprocessableEntity, CodeDAGCycle},
	{contracts.ErrDAGInvalid, http.StatusUnprocessableEntity, CodeDAGInvalid},
	{contracts.ErrDepNotFound, http.StatusUnprocessableEntity, CodeDepNotFound},
	{contracts.ErrRunNotFound, http.StatusNotFound, CodeRunNotFound},
	{contracts.ErrNotFound, http.StatusNotFound, CodeRunNotFound},
	{ErrRunExists, http.StatusConflict, CodeRunExists},
	{contracts.ErrConflict, http.StatusConflict, CodeRunExists},
	{contracts.ErrRunCompleted, http.StatusConflict, CodeRunCompleted},
	{contracts.ErrRunAborted, http.StatusConflict, CodeRunAborted},
	{contracts.ErrBudgetExceeded, http.StatusUnprocessableEntity, CodeBudgetExceeded},
	{contracts.ErrTaskFailed, http.StatusInternalServerError, CodeTaskFailed},
	{contracts.ErrDeadlock, http.StatusInternalServerError, CodeDeadlock},
	{context.Canceled, statusClientClosedRequest, CodeCancelled},
	{contracts.ErrTaskCancelled, statusClientClosedRequest, CodeCancelled},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, CodeTimeout},
	{contracts.ErrTaskTimeout, http.StatusGatewayTimeout, CodeTimeout},
	{ErrNotImplemented, http.StatusNotImplemented, CodeNotImplemented},
}

// MapError maps a domain error to its HTTP form. Unknown errors become
// 500 internal_error.
func MapError(err error) *HTTPError {
	if err == nil {
		return nil
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.sentinel) {
			return &HTTPError{m.status, m.code, err}
		}
	}
	return &HTTPError{http.StatusInternalServerError, CodeInternalError, err}
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, err error) {
	httpErr := MapError(err)
	if httpErr == nil {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.StatusCode)
	writeJSON(w, ErrorDTO{
		Code:    string(httpErr.Code),
		Message: httpErr.Error(),
	})
}
