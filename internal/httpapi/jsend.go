package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// jsendResponse is the envelope of every API response: "success" with data,
// "fail" for client errors, "error" for server-side failures.
type jsendResponse struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

func success(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, jsendResponse{
		Status: "success",
		Data:   data,
	})
}

func fail(c echo.Context, code int, message string, data any) error {
	resp := jsendResponse{
		Status:  "fail",
		Message: message,
	}
	if data != nil {
		resp.Data = data
	}
	return c.JSON(code, resp)
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

// failTooLarge reports a batch above the payload limit along with the limit.
func failTooLarge(c echo.Context, message string, limit int) error {
	return fail(c, http.StatusRequestEntityTooLarge, message, map[string]any{
		"max_batch_size": limit,
	})
}

func internalError(c echo.Context, message string) error {
	return errorResponse(c, http.StatusInternalServerError, message)
}

func serviceUnavailable(c echo.Context, message string) error {
	return errorResponse(c, http.StatusServiceUnavailable, message)
}

func errorResponse(c echo.Context, code int, message string) error {
	return c.JSON(code, jsendResponse{
		Status:  "error",
		Message: message,
		Code:    code,
	})
}
