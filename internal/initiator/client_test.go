package initiator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

var testSpec = domain.RunSpec{Title: "race", Targets: []domain.Target{{Backend: "openai", Model: "gpt"}}}

// idempotentServer hands out one run id per token.
type idempotentServer struct {
	mu    sync.Mutex
	runs  map[string]string
	calls atomic.Int32
}

func (s *idempotentServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.calls.Add(1)
	var req domain.CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Spec.Targets) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: domain.ErrorBody{Code: domain.ErrorCodeInvalidRequest, Message: "bad spec"}})
		return
	}
	token := r.Header.Get(domain.IdempotencyHeader)

	s.mu.Lock()
	runID, dup := s.runs[token]
	if !dup {
		runID = "run_" + token
		s.runs[token] = runID
	}
	s.mu.Unlock()

	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.CreateRunResponse{RunID: runID, Status: domain.RunStatusPending, Deduplicated: dup})
}

func TestSubmitIdempotent(t *testing.T) {
	srv := &idempotentServer{runs: map[string]string{}}
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()
	c := NewClient(httpSrv.URL, time.Second)

	first, err := c.Submit(context.Background(), testSpec, "tok-1")
	require.NoError(t, err)
	second, err := c.Submit(context.Background(), testSpec, "tok-1")
	require.NoError(t, err)
	other, err := c.Submit(context.Background(), testSpec, "tok-2")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	resp, err := c.Create(context.Background(), testSpec, "tok-1")
	require.NoError(t, err)
	assert.True(t, resp.Deduplicated)
}

func TestSubmitMissingToken(t *testing.T) {
	srv := &idempotentServer{runs: map[string]string{}}
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	_, err := NewClient(httpSrv.URL, time.Second).Submit(context.Background(), testSpec, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Zero(t, srv.calls.Load(), "no request is sent without a token")
}

func TestSubmitServerError(t *testing.T) {
	srv := &idempotentServer{runs: map[string]string{}}
	httpSrv := httptest.NewServer(srv)
	defer httpSrv.Close()

	_, err := NewClient(httpSrv.URL, time.Second).Submit(context.Background(), domain.RunSpec{}, "tok")
	var se *SubmitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, domain.ErrorCodeInvalidRequest, se.Code)
	assert.Equal(t, "bad spec", se.Message)
	assert.False(t, IsRetryable(err))
}

func TestSubmitEmptyRunID(t *testing.T) {
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"PENDING"}`))
	}))
	defer httpSrv.Close()

	_, err := NewClient(httpSrv.URL, time.Second).Submit(context.Background(), testSpec, "tok")
	assert.ErrorContains(t, err, "empty run_id")
}

func TestSubmitTransportErrorIsRetryable(t *testing.T) {
	httpSrv := httptest.NewServer(http.NotFoundHandler())
	url := httpSrv.URL
	httpSrv.Close()

	_, err := NewClient(url, time.Second).Submit(context.Background(), testSpec, "tok")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestSubmitWithRetry(t *testing.T) {
	var calls atomic.Int32
	var tokens sync.Map
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokens.Store(r.Header.Get(domain.IdempotencyHeader), true)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"run_id":"run_9","status":"PENDING"}`))
	}))
	defer httpSrv.Close()

	runID, err := NewClient(httpSrv.URL, time.Second).SubmitWithRetry(context.Background(), testSpec, "tok", 5, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "run_9", runID)
	assert.Equal(t, int32(3), calls.Load())

	n := 0
	tokens.Range(func(key, _ any) bool {
		n++
		assert.Equal(t, "tok", key)
		return true
	})
	assert.Equal(t, 1, n, "every attempt reuses the token")
}

func TestSubmitWithRetryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer httpSrv.Close()

	_, err := NewClient(httpSrv.URL, time.Second).SubmitWithRetry(context.Background(), testSpec, "tok", 5, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCancelRemoteAndGetRun(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.CancelRunResponse{RunID: r.PathValue("id"), Status: domain.RunStatusCancelled})
	})
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.Run{RunID: r.PathValue("id"), Status: domain.RunStatusActive})
	})
	mux.HandleFunc("GET /api/v1/runs/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4", r.URL.Query().Get("afterSeq"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(domain.EventsResponse{RunID: r.PathValue("id"), Records: []domain.Record{{Seq: 5, Channel: domain.ChannelRun, Kind: domain.KindDone}}})
	})
	httpSrv := httptest.NewServer(mux)
	defer httpSrv.Close()
	c := NewClient(httpSrv.URL, time.Second)

	cancelled, err := c.CancelRemote(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCancelled, cancelled.Status)

	run, err := c.GetRun(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.RunID)
	assert.Equal(t, domain.RunStatusActive, run.Status)

	events, err := c.Events(context.Background(), "run_1", 4, 10)
	require.NoError(t, err)
	require.Len(t, events.Records, 1)
	assert.Equal(t, int64(5), events.Records[0].Seq)
}

func TestNewIdempotencyToken(t *testing.T) {
	a, b := NewIdempotencyToken(), NewIdempotencyToken()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
