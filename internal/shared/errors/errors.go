package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error classes shared by every module.
var (
	ErrInvalidParams       = errors.New("invalid params")
	ErrOverloaded          = errors.New("overloaded")
	ErrNotFound            = errors.New("not found")
	ErrNoProviderAvailable = errors.New("no provider available")
	ErrProviderError       = errors.New("provider error")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderRejected    = errors.New("provider rejected request")
	ErrStorage             = errors.New("storage error")
	ErrCancelled           = errors.New("cancelled")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInternal            = errors.New("internal error")
)

// Error codes carried on the wire and on failed tasks.
const (
	CodeInvalidParams       = "INVALID_PARAMS"
	CodeOverloaded          = "OVERLOADED"
	CodeNotFound            = "NOT_FOUND"
	CodeNoProviderAvailable = "NO_PROVIDER_AVAILABLE"
	CodeProviderError       = "PROVIDER_ERROR"
	CodeProviderTimeout     = "PROVIDER_TIMEOUT"
	CodeStorage             = "STORAGE_ERROR"
	CodeCancelled           = "CANCELLED"
	CodeDiscarded           = "DISCARDED"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInternal            = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status and error code.
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	StatusCode int            `json:"-"`
	Err        error          `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target matches this error.
func (e *AppError) Is(target error) bool {
	if t, ok := target.(*AppError); ok {
		return e.Code == t.Code
	}
	return errors.Is(e.Err, target)
}

// WithDetails adds details to the error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

// ErrorResponse represents the JSON error body.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ToResponse converts an AppError to ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Code: e.Code, Details: e.Details}
}

// InvalidParams creates a validation error. No task is created for it.
func InvalidParams(format string, args ...any) *AppError {
	return &AppError{
		Code:       CodeInvalidParams,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidParams,
	}
}

// Overloaded creates a backpressure rejection.
func Overloaded(waiting, ceiling int) *AppError {
	return &AppError{
		Code:       CodeOverloaded,
		Message:    fmt.Sprintf("queue is full (%d/%d waiting), retry later", waiting, ceiling),
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrOverloaded,
	}
}

// Unavailable rejects work the server cannot take right now.
func Unavailable(message string) *AppError {
	return &AppError{
		Code:       CodeOverloaded,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrOverloaded,
	}
}

// NotFound creates a not found error.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %s not found", resource, id),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NoProviderAvailable reports that no configured and healthy adapter serves a capability.
func NoProviderAvailable(capability string) *AppError {
	return &AppError{
		Code:       CodeNoProviderAvailable,
		Message:    fmt.Sprintf("no %s provider available", capability),
		StatusCode: http.StatusServiceUnavailable,
		Err:        ErrNoProviderAvailable,
	}
}

// ProviderError wraps a failed adapter call.
func ProviderError(provider string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("provider %s failed", provider),
		StatusCode: http.StatusBadGateway,
		Err:        errors.Join(ErrProviderError, err),
	}
}

// ProviderRejected wraps a provider failure that will not change on retry,
// such as a 4xx answer to a bad key or a malformed request.
func ProviderRejected(provider string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderError,
		Message:    fmt.Sprintf("provider %s rejected the request", provider),
		StatusCode: http.StatusBadGateway,
		Err:        errors.Join(ErrProviderError, ErrProviderRejected, err),
	}
}

// ProviderTimeout wraps an adapter call that overran its deadline.
func ProviderTimeout(provider string, err error) *AppError {
	return &AppError{
		Code:       CodeProviderTimeout,
		Message:    fmt.Sprintf("provider %s timed out", provider),
		StatusCode: http.StatusGatewayTimeout,
		Err:        errors.Join(ErrProviderTimeout, err),
	}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *AppError {
	return &AppError{
		Code:       CodeStorage,
		Message:    fmt.Sprintf("storage %s failed", op),
		StatusCode: http.StatusInternalServerError,
		Err:        errors.Join(ErrStorage, err),
	}
}

// Cancelled creates a cancellation error.
func Cancelled(reason string) *AppError {
	if reason == "" {
		reason = "task cancelled"
	}
	return &AppError{
		Code:       CodeCancelled,
		Message:    reason,
		StatusCode: http.StatusConflict,
		Err:        ErrCancelled,
	}
}

// Discarded creates the error of a pending task dropped by an operator.
// It unwraps to ErrCancelled so it is never retried.
func Discarded(reason string) *AppError {
	if reason == "" {
		reason = "discarded from queue"
	}
	return &AppError{
		Code:       CodeDiscarded,
		Message:    reason,
		StatusCode: http.StatusConflict,
		Err:        ErrCancelled,
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// Internal creates an internal error.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        errors.Join(ErrInternal, err),
	}
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidParams):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrOverloaded), errors.Is(err, ErrNoProviderAvailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Code returns the error code of err, CodeInternal for unclassified errors.
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}

	switch {
	case errors.Is(err, ErrInvalidParams):
		return CodeInvalidParams
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, ErrNoProviderAvailable):
		return CodeNoProviderAvailable
	case errors.Is(err, ErrProviderTimeout):
		return CodeProviderTimeout
	case errors.Is(err, ErrProviderError):
		return CodeProviderError
	case errors.Is(err, ErrCancelled):
		return CodeCancelled
	case errors.Is(err, ErrStorage):
		return CodeStorage
	default:
		return CodeInternal
	}
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether a provider call that failed with err may be tried again.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrNoProviderAvailable),
		errors.Is(err, ErrInvalidParams),
		errors.Is(err, ErrProviderRejected),
		errors.Is(err, ErrCancelled):
		return false
	default:
		return true
	}
}
