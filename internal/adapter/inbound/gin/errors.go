package gin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clipforge/server/internal/module/auth"
	"github.com/clipforge/server/internal/module/task"
	apperrors "github.com/clipforge/server/internal/shared/errors"
)

// handleError maps domain errors to HTTP responses.
func handleError(c *gin.Context, err error) {
	statusCode := apperrors.GetStatusCode(err)
	errorCode := apperrors.Code(err)
	message := apperrors.Message(err)

	switch {
	case errors.Is(err, task.ErrAlreadyTerminal):
		statusCode = http.StatusConflict
		errorCode = "ALREADY_TERMINAL"
		message = "Task already finished"

	case errors.Is(err, auth.ErrInvalidCredentials):
		statusCode = http.StatusUnauthorized
		errorCode = apperrors.CodeUnauthorized
		message = "Invalid credentials"

	case errors.Is(err, auth.ErrNotConfigured):
		statusCode = http.StatusServiceUnavailable
		errorCode = "AUTH_DISABLED"
		message = "Admin login is not configured"

	case errorCode == apperrors.CodeInternal:
		message = "Internal server error"
	}

	if statusCode >= http.StatusInternalServerError {
		_ = c.Error(err)
	}

	c.AbortWithStatusJSON(statusCode, apperrors.ErrorResponse{
		Error: message,
		Code:  errorCode,
	})
}

// badRequest responds to a malformed body.
func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, apperrors.ErrorResponse{
		Error: message,
		Code:  apperrors.CodeInvalidParams,
	})
}
