// Package initiator provides an HTTP client that creates, inspects and cancels
// runs on the run server.
package initiator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// ErrMissingToken is returned by Submit when no idempotency token is supplied.
var ErrMissingToken = errors.New("idempotency token is required")

// SubmitError is a non-2xx answer from the run server.
type SubmitError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SubmitError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run server returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("run server returned status %d: %s", e.StatusCode, e.Message)
}

// transportError marks failures where the request may not have reached the
// server, so retrying with the same token is safe.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// IsRetryable reports whether err may succeed when retried with the same
// idempotency token.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *SubmitError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// NewIdempotencyToken returns a fresh opaque token.
func NewIdempotencyToken() string {
	return uuid.New().String()
}

// Client is an HTTP client for the public run API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new client. timeout bounds each request; zero means no
// timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewClientWithHTTP creates a client around an existing http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

// Submit calls POST /api/v1/runs and returns the run id. Repeating a call with
// the same token yields the same run id.
func (c *Client) Submit(ctx context.Context, spec domain.RunSpec, token string) (string, error) {
	resp, err := c.Create(ctx, spec, token)
	if err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// Create is Submit returning the full server response.
func (c *Client) Create(ctx context.Context, spec domain.RunSpec, token string) (*domain.CreateRunResponse, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	header := http.Header{}
	header.Set(domain.IdempotencyHeader, token)

	var created domain.CreateRunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs", header, domain.CreateRunRequest{Spec: spec}, &created); err != nil {
		return nil, err
	}
	if created.RunID == "" {
		return nil, errors.New("run server returned an empty run_id")
	}
	return &created, nil
}

// SubmitWithRetry retries retryable failures with the same token, up to
// attempts calls in total, waiting delay between them.
func (c *Client) SubmitWithRetry(ctx context.Context, spec domain.RunSpec, token string, attempts int, delay time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("submit interrupted: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
		runID, err := c.Submit(ctx, spec, token)
		if err == nil {
			return runID, nil
		}
		if !IsRetryable(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("submit failed after %d attempts: %w", attempts, lastErr)
}

// GetRun calls GET /api/v1/runs/:run_id.
func (c *Client) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+url.PathEscape(runID), nil, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// CancelRemote calls POST /api/v1/runs/:run_id/cancel. It asks the server to
// stop the run and is independent of cancelling a local subscription.
func (c *Client) CancelRemote(ctx context.Context, runID string) (*domain.CancelRunResponse, error) {
	var resp domain.CancelRunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/cancel", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events calls GET /api/v1/runs/:run_id/events, the pull form of the history.
func (c *Client) Events(ctx context.Context, runID string, afterSeq int64, limit int) (*domain.EventsResponse, error) {
	q := url.Values{}
	q.Set("afterSeq", fmt.Sprint(afterSeq))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp domain.EventsResponse
	path := "/api/v1/runs/" + url.PathEscape(runID) + "/events?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request interrupted: %w", ctx.Err())
		}
		return &transportError{err: fmt.Errorf("failed to reach run server: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		submitErr := &SubmitError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp domain.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			submitErr.Code = errResp.Error.Code
			submitErr.Message = errResp.Error.Message
		}
		return submitErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &transportError{err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}
