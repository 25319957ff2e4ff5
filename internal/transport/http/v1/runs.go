package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/transport/http/httperr"
)

// CreateRun creates a run. Repeating the request with the same idempotency
// key returns the original run with 200 instead of 201.
// POST /api/v1/runs
func (h *Handler) CreateRun(c echo.Context) error {
	var req domain.CreateRunRequest
	if err := c.Bind(&req); err != nil {
		return httperr.JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, "invalid request body")
	}

	ctx := c.Request().Context()
	key := c.Request().Header.Get(domain.IdempotencyHeader)

	run, created, err := h.service.CreateRun(ctx, req.Spec, key)
	if err != nil {
		return httperr.FromService(c, err)
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	return c.JSON(status, domain.CreateRunResponse{
		RunID:        run.RunID,
		Status:       run.Status,
		CreatedAt:    run.CreatedAt.UnixMilli(),
		Deduplicated: !created,
	})
}

// GetRun returns a run.
// GET /api/v1/runs/:run_id
func (h *Handler) GetRun(c echo.Context) error {
	run, err := h.service.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return httperr.FromService(c, err)
	}
	return c.JSON(http.StatusOK, run)
}

// CancelRun stops a run. Cancelling a finished run reports its final status.
// POST /api/v1/runs/:run_id/cancel
func (h *Handler) CancelRun(c echo.Context) error {
	run, err := h.service.CancelRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return httperr.FromService(c, err)
	}
	return c.JSON(http.StatusOK, domain.CancelRunResponse{RunID: run.RunID, Status: run.Status})
}

// GetRunEvents returns the records after a cursor.
// GET /api/v1/runs/:run_id/events?afterSeq=N&limit=M
func (h *Handler) GetRunEvents(c echo.Context) error {
	runID := c.Param("run_id")
	afterSeq, err := parseAfterSeq(c)
	if err != nil {
		return httperr.JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, err.Error())
	}
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if val, err := strconv.Atoi(l); err == nil {
			limit = val
		}
	}

	records, hasMore, err := h.service.EventsAfter(c.Request().Context(), runID, afterSeq, limit)
	if err != nil {
		return httperr.FromService(c, err)
	}
	return c.JSON(http.StatusOK, domain.EventsResponse{RunID: runID, Records: records, HasMore: hasMore})
}

// parseAfterSeq reads the resume cursor from the afterSeq query parameter or,
// failing that, the Last-Event-ID header. The larger of the two wins.
func parseAfterSeq(c echo.Context) (int64, error) {
	var afterSeq int64
	if v := c.QueryParam("afterSeq"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, errInvalidCursor(v)
		}
		afterSeq = n
	}
	if v := c.Request().Header.Get("Last-Event-ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, errInvalidCursor(v)
		}
		afterSeq = max(afterSeq, n)
	}
	return afterSeq, nil
}

type errInvalidCursor string

func (e errInvalidCursor) Error() string {
	return "invalid cursor " + strconv.Quote(string(e))
}
