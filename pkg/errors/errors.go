package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors shared by the service and its stores.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")
)

// AppError is a client-facing error carrying a stable code and HTTP status.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newAppError(code string, status int, sentinel error, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status, Err: sentinel}
}

// NotFound creates a 404 error for the given resource kind and id.
func NotFound(resource, id string) *AppError {
	return newAppError("NOT_FOUND", http.StatusNotFound, ErrNotFound,
		fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists creates a 409 error for a uniqueness violation.
func AlreadyExists(resource, field, value string) *AppError {
	return newAppError("ALREADY_EXISTS", http.StatusConflict, ErrAlreadyExists,
		fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

func InvalidInput(message string) *AppError {
	return newAppError("INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput, message)
}

func Unauthorized(message string) *AppError {
	return newAppError("UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized, message)
}

// Conflict creates a 409 error for a write that lost a concurrency race.
func Conflict(message string) *AppError {
	return newAppError("CONFLICT", http.StatusConflict, ErrConflict, message)
}

// StoreUnavailable wraps a failure of the backing cart store. The cause is kept
// for logs but never rendered to clients.
func StoreUnavailable(err error) *AppError {
	return newAppError("STORE_UNAVAILABLE", http.StatusServiceUnavailable,
		errors.Join(ErrServiceUnavail, err), "cart store is unavailable")
}

var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrAlreadyExists, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// HTTPStatus returns the status carried by an AppError in err's chain, else
// the status of the first matching sentinel, else 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
