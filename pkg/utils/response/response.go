// Package response implements the JSON envelope every Terminal API REST
// endpoint replies with.
package response

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the envelope. Status is "success" or "error"; ErrorType
// carries the exception class (InputException, ServerException,
// UpstreamException) and Message the detail.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	ErrorType string      `json:"error_type,omitempty"`
	Message   string      `json:"message,omitempty"`
}

// SuccessResponse sends data in a success envelope with status 200
func SuccessResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{
		Status: "success",
		Data:   data,
	})
}

// ErrorResponse sends an error envelope with the given HTTP status
func ErrorResponse(c echo.Context, httpStatus int, errorType, message string) error {
	return c.JSON(httpStatus, Response{
		Status:    "error",
		ErrorType: errorType,
		Message:   message,
	})
}
