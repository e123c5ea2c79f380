package response

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/unified-inbox/internal/apperrors"
)

type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func Ok(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data:    data,
	})
}

func OkWithMessage(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func Created(c echo.Context, message string, data any) error {
	return c.JSON(http.StatusCreated, SuccessResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func BadRequest(c echo.Context, err error) error {
	return errorJSON(c, http.StatusBadRequest, err.Error())
}

func BadRequestWithMessage(c echo.Context, message string) error {
	return errorJSON(c, http.StatusBadRequest, message)
}

func Unauthorized(c echo.Context) error {
	return errorJSON(c, http.StatusUnauthorized, "Invalid or missing API key")
}

func NotFound(c echo.Context, message string) error {
	return errorJSON(c, http.StatusNotFound, message)
}

func Conflict(c echo.Context, message string) error {
	return errorJSON(c, http.StatusConflict, message)
}

func TooManyRequests(c echo.Context, message string) error {
	return errorJSON(c, http.StatusTooManyRequests, message)
}

func ServiceUnavailable(c echo.Context, message string) error {
	return errorJSON(c, http.StatusServiceUnavailable, message)
}

func InternalServerError(c echo.Context, err error) error {
	return errorJSON(c, http.StatusInternalServerError, err.Error())
}

// FromError maps the application error taxonomy onto HTTP statuses.
func FromError(c echo.Context, err error) error {
	return errorJSON(c, StatusFor(err), err.Error())
}

func StatusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperrors.ErrTemplateNotFound),
		errors.Is(err, apperrors.ErrDestinationUnresolved),
		errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrTemplateInactive),
		errors.Is(err, apperrors.ErrDuplicate):
		return http.StatusConflict
	case apperrors.IsCredentialError(err), apperrors.IsAdapterError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{
		Success: false,
		Error:   message,
	})
}
