// Package apperror provides the structured error taxonomy shared by the
// workflow core and its adapters.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel kinds. Every AppError unwraps to exactly one of these so callers
// can branch with errors.Is without inspecting codes.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrForbidden             = errors.New("forbidden")
	ErrConflict              = errors.New("conflict")
	ErrValidation            = errors.New("validation error")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrUnauthorized          = errors.New("unauthorized")
)

// AppError is a structured application error with a machine-readable code.
type AppError struct {
	// Code is a machine-readable error code (e.g., "IDEA_NOT_FOUND").
	Code string `json:"code"`

	// Message is a human-readable error message.
	Message string `json:"message"`

	// Kind is one of the sentinel errors above.
	Kind error `json:"-"`

	// HTTPStatus is the corresponding HTTP status code.
	HTTPStatus int `json:"-"`

	// Params carries structured context for clients.
	Params map[string]interface{} `json:"params,omitempty"`

	// Err is the wrapped underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind and the wrapped cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// WithParams attaches structured parameters to the error.
func (e *AppError) WithParams(params map[string]interface{}) *AppError {
	if e == nil || len(params) == 0 {
		return e
	}
	e.Params = params
	return e
}

// WithCause records the underlying error.
func (e *AppError) WithCause(err error) *AppError {
	if e == nil {
		return e
	}
	e.Err = err
	return e
}

func newError(kind error, status int, code, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		Kind:       kind,
		HTTPStatus: status,
	}
}

// NotFound creates a 404 error.
func NotFound(code, message string) *AppError {
	return newError(ErrNotFound, http.StatusNotFound, code, message)
}

// InvalidTransition creates a 422 error for illegal workflow moves.
func InvalidTransition(code, message string) *AppError {
	return newError(ErrInvalidTransition, http.StatusUnprocessableEntity, code, message)
}

// Forbidden creates a 403 error.
func Forbidden(code, message string) *AppError {
	return newError(ErrForbidden, http.StatusForbidden, code, message)
}

// Conflict creates a 409 error.
func Conflict(code, message string) *AppError {
	return newError(ErrConflict, http.StatusConflict, code, message)
}

// Validation creates a 400 error.
func Validation(code, message string) *AppError {
	return newError(ErrValidation, http.StatusBadRequest, code, message)
}

// DependencyUnavailable creates a 503 error.
func DependencyUnavailable(code, message string) *AppError {
	return newError(ErrDependencyUnavailable, http.StatusServiceUnavailable, code, message)
}

// Unauthorized creates a 401 error.
func Unauthorized(code, message string) *AppError {
	return newError(ErrUnauthorized, http.StatusUnauthorized, code, message)
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf reports which sentinel kind err belongs to, or nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrNotFound, ErrInvalidTransition, ErrForbidden, ErrConflict,
		ErrValidation, ErrDependencyUnavailable, ErrUnauthorized,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
