// Package httperr writes the error envelope shared by the run server's routes.
package httperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/service"
)

// JSON writes {"error":{"code":...,"message":...}} with status.
func JSON(c echo.Context, status int, code, message string) error {
	return c.JSON(status, domain.ErrorResponse{Error: domain.ErrorBody{Code: code, Message: message}})
}

// FromService maps a service error onto a status code and error code.
func FromService(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return JSON(c, http.StatusNotFound, domain.ErrorCodeNotFound, err.Error())
	case errors.Is(err, service.ErrInvalid):
		return JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, err.Error())
	case errors.Is(err, service.ErrPolicyBlocked):
		return JSON(c, http.StatusForbidden, domain.ErrorCodePolicyBlocked, err.Error())
	case errors.Is(err, service.ErrRunFinished):
		return JSON(c, http.StatusConflict, domain.ErrorCodeConflict, err.Error())
	}
	c.Logger().Errorf("request failed: %v", err)
	return JSON(c, http.StatusInternalServerError, domain.ErrorCodeInternal, "internal error")
}
