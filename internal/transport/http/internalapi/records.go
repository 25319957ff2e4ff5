package internalapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/transport/http/httperr"
)

// PublishRecord appends one record to a run and returns it with its cursor.
// POST /internal/runs/:run_id/records
func (h *Handler) PublishRecord(c echo.Context) error {
	var req domain.PublishRecordRequest
	if err := c.Bind(&req); err != nil {
		return httperr.JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, "invalid request body")
	}

	record, err := h.service.Publish(c.Request().Context(), c.Param("run_id"), req.Channel, req.Kind, req.Payload)
	if err != nil {
		return httperr.FromService(c, err)
	}
	return c.JSON(http.StatusCreated, record)
}
