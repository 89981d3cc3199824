// Package errors defines the standardized error taxonomy used across every
// component, along with the HTTP status mapping for the health/metrics surface.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorCode identifies the kind of failure a caller-facing operation hit.
type ErrorCode string

const (
	InvalidInput        ErrorCode = "InvalidInput"
	InvalidOutput       ErrorCode = "InvalidOutput"
	ToolNotFound        ErrorCode = "ToolNotFound"
	Timeout             ErrorCode = "Timeout"
	Cancelled           ErrorCode = "Cancelled"
	ResourceUnavailable ErrorCode = "ResourceUnavailable"
	TransientIO         ErrorCode = "TransientIO"
	StorageFailure      ErrorCode = "StorageFailure"
	Internal            ErrorCode = "Internal"
	DuplicateName       ErrorCode = "DuplicateName"
	AlreadyInitialized  ErrorCode = "AlreadyInitialized"
	NotFound            ErrorCode = "NotFound"
	ShuttingDown        ErrorCode = "ShuttingDown"
)

// Details carries structured, non-sensitive context about a failure.
type Details map[string]interface{}

// StandardError is the one error type every component boundary returns.
type StandardError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details Details   `json:"details,omitempty"`
	TraceID string    `json:"traceId,omitempty"`
}

func (e *StandardError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s: %s (trace=%s)", e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithTraceID returns a copy of the error carrying the given trace id.
func (e *StandardError) WithTraceID(traceID string) *StandardError {
	clone := *e
	clone.TraceID = traceID
	return &clone
}

// WithDetails returns a copy of the error with additional detail fields merged in.
func (e *StandardError) WithDetails(details Details) *StandardError {
	clone := *e
	merged := make(Details, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	clone.Details = merged
	return &clone
}

// Temporary reports whether retrying the operation that produced this error
// might succeed. Used by internal/retry's RetryIf predicate.
func (e *StandardError) Temporary() bool {
	switch e.Code {
	case TransientIO, ResourceUnavailable, Timeout, StorageFailure:
		return true
	default:
		return false
	}
}

// HTTPStatus maps the error code to the status the health/metrics surface
// should answer with.
func (e *StandardError) HTTPStatus() int {
	switch e.Code {
	case InvalidInput, InvalidOutput:
		return http.StatusBadRequest
	case ToolNotFound, NotFound:
		return http.StatusNotFound
	case Timeout:
		return http.StatusGatewayTimeout
	case Cancelled:
		return 499 // client closed request
	case ResourceUnavailable, ShuttingDown:
		return http.StatusServiceUnavailable
	case TransientIO, StorageFailure:
		return http.StatusBadGateway
	case DuplicateName, AlreadyInitialized:
		return http.StatusConflict
	case Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON renders the error as the JSON object embedded in the wire envelope's
// "error" field. Never includes anything beyond Code/Message/Details/TraceID -
// no stack traces, no internal state.
func (e *StandardError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WriteHTTPError writes the error as a JSON response with the mapped status code.
func WriteHTTPError(w http.ResponseWriter, err *StandardError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus())
	_ = json.NewEncoder(w).Encode(err)
}

func New(code ErrorCode, message string) *StandardError {
	return &StandardError{Code: code, Message: message}
}

func Newf(code ErrorCode, format string, args ...interface{}) *StandardError {
	return &StandardError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidInput(message string, details Details) *StandardError {
	return &StandardError{Code: InvalidInput, Message: message, Details: details}
}

func NewInvalidOutput(message string, details Details) *StandardError {
	return &StandardError{Code: InvalidOutput, Message: message, Details: details}
}

func NewToolNotFound(name string) *StandardError {
	return &StandardError{Code: ToolNotFound, Message: fmt.Sprintf("tool %q is not registered", name)}
}

func NewTimeout(operation string) *StandardError {
	return &StandardError{Code: Timeout, Message: fmt.Sprintf("%s exceeded its deadline", operation)}
}

func NewCancelled(operation string) *StandardError {
	return &StandardError{Code: Cancelled, Message: fmt.Sprintf("%s was cancelled", operation)}
}

func NewResourceUnavailable(resource string) *StandardError {
	return &StandardError{Code: ResourceUnavailable, Message: fmt.Sprintf("resource %q is unavailable", resource)}
}

func NewInternal(message string) *StandardError {
	return &StandardError{Code: Internal, Message: message}
}

// Is reports whether err is a *StandardError with the given code.
func Is(err error, code ErrorCode) bool {
	se, ok := err.(*StandardError)
	return ok && se.Code == code
}

// IsTemporary reports whether err is a *StandardError considered retryable.
func IsTemporary(err error) bool {
	se, ok := err.(*StandardError)
	return ok && se.Temporary()
}

// Common predicate helpers, mirroring the teacher's Is* family.
func IsNotFound(err error) bool            { return Is(err, NotFound) || Is(err, ToolNotFound) }
func IsTimeout(err error) bool             { return Is(err, Timeout) }
func IsResourceUnavailable(err error) bool { return Is(err, ResourceUnavailable) }
