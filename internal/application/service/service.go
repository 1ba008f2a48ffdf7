// Package service holds the application use cases of the idea pipeline. Every
// mutating operation takes the acting entity.Caller explicitly.
package service

import (
	"github.com/garyjia/idea-hub/internal/domain/entity"
	"github.com/garyjia/idea-hub/pkg/apperror"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Page limits applied when a caller passes none or too large a window
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100
)

// NormalizePage clamps a skip/limit window to the allowed range
func NormalizePage(page entity.Page) entity.Page {
	if page.Skip < 0 {
		page.Skip = 0
	}
	if page.Limit <= 0 {
		page.Limit = DefaultPageLimit
	}
	if page.Limit > MaxPageLimit {
		page.Limit = MaxPageLimit
	}
	return page
}

func forbidden(caller entity.Caller, action string, allowed ...entity.Role) error {
	return apperror.Forbidden(apperror.CodeRoleForbidden, "role may not perform this action").
		WithParams(map[string]interface{}{
			"role":    string(caller.Role),
			"action":  action,
			"allowed": allowed,
		})
}

func validation(message string, params map[string]interface{}) error {
	return apperror.Validation(apperror.CodeValidationFailed, message).WithParams(params)
}
