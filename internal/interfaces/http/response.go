package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/idea-hub/pkg/apperror"
)

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the error part of a failed response
type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

func writeOK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// writeError maps err to a status and envelope. Errors outside the AppError
// taxonomy are reported as 500 without their message.
func writeError(c *gin.Context, err error) {
	if appErr, ok := apperror.As(err); ok {
		status := appErr.HTTPStatus
		if status == 0 {
			status = statusForKind(apperror.KindOf(err))
		}
		c.JSON(status, Response{
			Success: false,
			Error: &ErrorBody{
				Code:    appErr.Code,
				Message: appErr.Message,
				Params:  appErr.Params,
			},
		})
		return
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &ErrorBody{
			Code:    "INTERNAL",
			Message: "internal server error",
		},
	})
}

func statusForKind(kind error) int {
	switch {
	case errors.Is(kind, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(kind, apperror.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(kind, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(kind, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(kind, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(kind, apperror.ErrDependencyUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(kind, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, message string, params map[string]interface{}) {
	writeError(c, apperror.Validation(apperror.CodeValidationFailed, message).WithParams(params))
}
