package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/sse"
	"github.com/xiaot623/gogo/runstream/internal/transport/http/httperr"
)

const (
	defaultPollInterval = 200 * time.Millisecond
	wsWriteWait         = 10 * time.Second
)

// errStreamEnded is returned when a finished run has nothing after the cursor.
var errStreamEnded = errors.New("run finished before the requested cursor")

// StreamRun streams the records of a run via SSE, starting after afterSeq or
// Last-Event-ID. The stream closes after the terminal record.
// GET /api/v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")
	afterSeq, err := parseAfterSeq(c)
	if err != nil {
		return httperr.JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, err.Error())
	}
	if err := h.resumable(ctx, runID, afterSeq); err != nil {
		return streamError(c, err)
	}

	w := c.Response()
	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	w.Flush()
	defer h.trackStream("sse")()

	err = h.follow(ctx, runID, afterSeq, func(rec domain.Record) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		return sse.Write(w, sse.Event{
			ID:    strconv.FormatInt(rec.Seq, 10),
			Event: domain.EventName(rec.Channel, rec.Kind),
			Data:  string(data),
		})
	}, func() error {
		return sse.WriteComment(w, "keep-alive")
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("run stream failed", "run_id", runID, "error", err)
	}
	// Headers are committed; errors cannot be reported to the client anymore.
	return nil
}

// StreamRunWS streams the records of a run over a websocket, one text frame
// per record, and closes normally after the terminal record.
// GET /api/v1/runs/:run_id/ws
func (h *Handler) StreamRunWS(c echo.Context) error {
	runID := c.Param("run_id")
	afterSeq, err := parseAfterSeq(c)
	if err != nil {
		return httperr.JSON(c, http.StatusBadRequest, domain.ErrorCodeInvalidRequest, err.Error())
	}
	if err := h.resumable(c.Request().Context(), runID, afterSeq); err != nil {
		return streamError(c, err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("failed to upgrade websocket", "run_id", runID, "error", err)
		return nil
	}
	defer conn.Close()
	defer h.trackStream("ws")()

	// A hijacked request's context does not end with the client, the read
	// loop does.
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	err = h.follow(ctx, runID, afterSeq, func(rec domain.Record) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteMessage(websocket.TextMessage, data)
	}, func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
	})
	switch {
	case err == nil:
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	case ctx.Err() == nil:
		h.logger.Warn("run websocket failed", "run_id", runID, "error", err)
	}
	return nil
}

// resumable rejects streams of unknown runs and of finished runs that have
// nothing left after afterSeq, so clients do not reconnect forever.
func (h *Handler) resumable(ctx context.Context, runID string, afterSeq int64) error {
	run, err := h.service.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.IsTerminal() {
		return nil
	}
	records, _, err := h.service.EventsAfter(ctx, runID, afterSeq, 1)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return errStreamEnded
	}
	return nil
}

func streamError(c echo.Context, err error) error {
	if errors.Is(err, errStreamEnded) {
		return httperr.JSON(c, http.StatusGone, domain.ErrorCodeConflict, err.Error())
	}
	return httperr.FromService(c, err)
}

// follow replays the records after afterSeq through emit and then tails the
// log until the terminal record was emitted. New records are picked up on hub
// wake-ups or, when a wake-up was dropped, on the next poll. keepAlive runs
// while the stream is idle.
func (h *Handler) follow(ctx context.Context, runID string, afterSeq int64, emit func(domain.Record) error, keepAlive func() error) error {
	sub := h.service.Subscribe(runID)
	defer sub.Close()

	pollInterval := h.config.StreamPollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	poll := time.NewTicker(pollInterval)
	defer poll.Stop()

	var keepAliveC <-chan time.Time
	if h.config.StreamKeepAlive > 0 {
		keep := time.NewTicker(h.config.StreamKeepAlive)
		defer keep.Stop()
		keepAliveC = keep.C
	}

	cursor := afterSeq
	finished := false
	for {
		records, hasMore, err := h.service.EventsAfter(ctx, runID, cursor, h.config.StreamBatchSize)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := emit(rec); err != nil {
				return err
			}
			cursor = rec.Seq
			if domain.IsTerminalRecord(rec.Channel, rec.Kind) {
				return nil
			}
		}
		if hasMore {
			continue
		}
		if len(records) == 0 {
			if finished {
				return nil
			}
			run, err := h.service.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			if run.Status.IsTerminal() {
				// The terminal record may have landed after the read above.
				finished = true
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.Notify:
		case <-poll.C:
		case <-keepAliveC:
			if err := keepAlive(); err != nil {
				return err
			}
		}
	}
}
