package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/sse"
)

// OpenParams identifies where a connection resumes.
type OpenParams struct {
	RunID    string
	AfterSeq int64
}

// RecordReader yields raw records from one connection. Next returns io.EOF when
// the server closed the connection cleanly.
type RecordReader interface {
	Next() (domain.RawRecord, error)
	Close() error
}

// Transport opens one connection of a push channel.
type Transport interface {
	Open(ctx context.Context, params OpenParams) (RecordReader, error)
}

// SSETransport reads records from the server-sent events endpoint.
type SSETransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewSSETransport creates a transport for baseURL. The client must not set a
// total timeout since a stream stays open for the whole run. A nil client uses
// a dedicated one without timeout.
func NewSSETransport(baseURL string, client *http.Client) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Open issues the streaming request.
func (t *SSETransport) Open(ctx context.Context, params OpenParams) (RecordReader, error) {
	endpoint := runURL(t.baseURL, params.RunID, "stream", params.AfterSeq)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set("Cache-Control", "no-cache")
	if params.AfterSeq > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(params.AfterSeq, 10))
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}
	return &sseReader{body: resp.Body, reader: sse.NewReader(resp.Body)}, nil
}

type sseReader struct {
	body   io.ReadCloser
	reader *sse.Reader
}

func (r *sseReader) Next() (domain.RawRecord, error) {
	ev, err := r.reader.Next()
	if err != nil {
		return domain.RawRecord{}, err
	}
	return domain.RawRecord{ID: ev.ID, Event: ev.Event, Data: []byte(ev.Data)}, nil
}

func (r *sseReader) Close() error {
	return r.body.Close()
}

func runURL(base, runID, suffix string, afterSeq int64) string {
	q := url.Values{}
	q.Set("afterSeq", strconv.FormatInt(afterSeq, 10))
	return fmt.Sprintf("%s/api/v1/runs/%s/%s?%s", base, url.PathEscape(runID), suffix, q.Encode())
}

// statusError converts a non-200 response into an error, decoding the server's
// error envelope when present.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	var errResp domain.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}
	if permanentStatus(resp.StatusCode) {
		return &PermanentError{StatusCode: resp.StatusCode, Message: message}
	}
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, message)
}
