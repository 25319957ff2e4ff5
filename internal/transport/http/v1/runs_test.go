package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/hub"
	"github.com/xiaot623/gogo/runstream/internal/policy"
	"github.com/xiaot623/gogo/runstream/internal/repository"
	"github.com/xiaot623/gogo/runstream/internal/service"
)

func newTestHandler(t *testing.T, optFns ...func(cfg *config.Config)) (*Handler, *service.Service) {
	t.Helper()
	cfg := &config.Config{
		MaxTargets:           3,
		IdempotencyCacheSize: 16,
		StreamPollInterval:   20 * time.Millisecond,
		StreamBatchSize:      100,
	}
	for _, fn := range optFns {
		fn(cfg)
	}
	db, err := repository.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy, cfg.MaxTargets)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	h := hub.New(nil)
	go h.Run(ctx)

	svc, err := service.New(db, policyEngine, h, cfg, nil)
	if err != nil {
		t.Fatalf("service.New failed: %v", err)
	}
	return NewHandler(svc, cfg, nil), svc
}

const twoTargets = `{"spec":{"targets":[{"backend":"openai","model":"gpt"},{"backend":"anthropic","model":"claude"}]}}`

func createRequest(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(domain.IdempotencyHeader, key)
	}
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) domain.ErrorBody {
	t.Helper()
	var resp domain.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestCreateRunIdempotent(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	if err := h.CreateRun(e.NewContext(createRequest(twoTargets, "tok-1"), rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var first domain.CreateRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if first.RunID == "" || first.Status != domain.RunStatusPending || first.Deduplicated {
		t.Fatalf("unexpected response: %+v", first)
	}

	rec = httptest.NewRecorder()
	if err := h.CreateRun(e.NewContext(createRequest(twoTargets, "tok-1"), rec)); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", rec.Code)
	}
	var second domain.CreateRunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if second.RunID != first.RunID || !second.Deduplicated {
		t.Fatalf("expected the same run, got %+v", second)
	}
}

func TestCreateRunValidation(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	cases := []struct {
		name   string
		body   string
		key    string
		status int
		code   string
	}{
		{"missing key", twoTargets, "", http.StatusBadRequest, domain.ErrorCodeInvalidRequest},
		{"bad json", `{"spec":`, "k", http.StatusBadRequest, domain.ErrorCodeInvalidRequest},
		{"no targets", `{"spec":{"targets":[]}}`, "k", http.StatusBadRequest, domain.ErrorCodeInvalidRequest},
		{"too many targets", `{"spec":{"targets":[{"backend":"a"},{"backend":"b"},{"backend":"c"},{"backend":"d"}]}}`, "k", http.StatusForbidden, domain.ErrorCodePolicyBlocked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := h.CreateRun(e.NewContext(createRequest(tc.body, tc.key), rec)); err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got.Code != tc.code {
				t.Fatalf("expected code %s, got %+v", tc.code, got)
			}
		})
	}
}

func TestGetRunNotFound(t *testing.T) {
	e := echo.New()
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/runs/run_missing", nil), rec)
	c.SetParamNames("run_id")
	c.SetParamValues("run_missing")
	if err := h.GetRun(c); err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decodeError(t, rec); got.Code != domain.ErrorCodeNotFound {
		t.Fatalf("unexpected error: %+v", got)
	}
}

func TestCancelRun(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	ctx := context.Background()

	run, _, err := svc.CreateRun(ctx, domain.RunSpec{Targets: []domain.Target{{Backend: "a"}}}, "k")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)
		c.SetParamNames("run_id")
		c.SetParamValues(run.RunID)
		if err := h.CancelRun(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d", i, rec.Code)
		}
		var resp domain.CancelRunResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Status != domain.RunStatusCancelled {
			t.Fatalf("cancel %d: unexpected status %s", i, resp.Status)
		}
	}

	records, _, err := svc.EventsAfter(ctx, run.RunID, 0, 0)
	if err != nil {
		t.Fatalf("EventsAfter failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one cancellation record, got %d", len(records))
	}
}

func TestGetRunEvents(t *testing.T) {
	e := echo.New()
	h, svc := newTestHandler(t)
	ctx := context.Background()

	run, _, err := svc.CreateRun(ctx, domain.RunSpec{Targets: []domain.Target{{Backend: "a"}}}, "k")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	for _, kind := range []domain.Kind{domain.KindStart, domain.KindDone} {
		if _, err := svc.Publish(ctx, run.RunID, domain.ChannelRun, kind, nil); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	get := func(target string) (*httptest.ResponseRecorder, domain.EventsResponse) {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), rec)
		c.SetParamNames("run_id")
		c.SetParamValues(run.RunID)
		if err := h.GetRunEvents(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		var resp domain.EventsResponse
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode failed: %v", err)
			}
		}
		return rec, resp
	}

	_, page := get("/?afterSeq=0&limit=1")
	if len(page.Records) != 1 || page.Records[0].Seq != 1 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}
	_, page = get("/?afterSeq=1")
	if len(page.Records) != 1 || page.Records[0].Kind != domain.KindDone || page.HasMore {
		t.Fatalf("unexpected second page: %+v", page)
	}
	_, page = get("/?afterSeq=2")
	if page.Records == nil || len(page.Records) != 0 {
		t.Fatalf("expected an empty list, got %+v", page.Records)
	}

	rec, _ := get("/?afterSeq=abc")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad cursor, got %d", rec.Code)
	}
}

func TestParseAfterSeq(t *testing.T) {
	e := echo.New()

	cases := []struct {
		query   string
		lastID  string
		want    int64
		wantErr bool
	}{
		{"", "", 0, false},
		{"afterSeq=4", "", 4, false},
		{"", "7", 7, false},
		{"afterSeq=4", "7", 7, false},
		{"afterSeq=9", "7", 9, false},
		{"afterSeq=-1", "", 0, true},
		{"", "x", 0, true},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
		if tc.lastID != "" {
			req.Header.Set("Last-Event-ID", tc.lastID)
		}
		got, err := parseAfterSeq(e.NewContext(req, httptest.NewRecorder()))
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q/%q: unexpected error %v", tc.query, tc.lastID, err)
		}
		if got != tc.want {
			t.Fatalf("%q/%q: expected %d, got %d", tc.query, tc.lastID, tc.want, got)
		}
	}
}
