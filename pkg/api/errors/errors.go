package errors

import (
	"net/http"

	"github.com/greenofig/greenofig/pkg/domain"
	"github.com/greenofig/greenofig/pkg/logger"
	"github.com/greenofig/greenofig/pkg/models"
	"github.com/labstack/echo/v4"
)

var log = logger.Default()

// SetLogger replaces the logger used for error details
func SetLogger(l logger.Logger) {
	if l != nil {
		log = l
	}
}

// ValidationError returns a generic validation error without exposing internal details
func ValidationError(c echo.Context, err error) error {
	log.Warn("validation error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request data. Please check your input and try again.",
	})
}

// InternalError returns a generic internal server error
func InternalError(c echo.Context, err error) error {
	log.Error("internal error", "path", c.Request().URL.Path, "error", err)

	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// UnauthorizedError returns a generic unauthorized error
func UnauthorizedError(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: "You are not authorized to access this resource.",
	})
}

// FromDomain maps a domain error to its HTTP response. Errors without a
// client-facing code are logged and hidden behind a generic 500.
func FromDomain(c echo.Context, err error) error {
	switch domain.GetErrorCode(err) {
	case domain.ErrCodeNotFound:
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "not_found",
			Message: domain.GetErrorMessage(err),
		})
	case domain.ErrCodeConflict:
		log.Warn("conflict", "path", c.Request().URL.Path, "error", err)
		return c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "conflict",
			Message: domain.GetErrorMessage(err),
		})
	default:
		return InternalError(c, err)
	}
}
