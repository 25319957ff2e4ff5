package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// WSTransport reads records from the websocket endpoint. Every text frame is
// one record.
type WSTransport struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewWSTransport creates a transport for baseURL. http and https schemes are
// mapped to ws and wss.
func NewWSTransport(baseURL string, dialer *websocket.Dialer) *WSTransport {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return &WSTransport{baseURL: base, dialer: dialer}
}

// Open dials the websocket endpoint.
func (t *WSTransport) Open(ctx context.Context, params OpenParams) (RecordReader, error) {
	endpoint := runURL(t.baseURL, params.RunID, "ws", params.AfterSeq)
	conn, resp, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && errors.Is(err, websocket.ErrBadHandshake) {
			defer resp.Body.Close()
			return nil, statusError(resp)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	r := &wsReader{conn: conn}
	// ReadMessage does not observe ctx; closing the conn unblocks it.
	r.stop = context.AfterFunc(ctx, func() { conn.Close() })
	return r, nil
}

type wsReader struct {
	conn      *websocket.Conn
	stop      func() bool
	closeOnce sync.Once
}

func (r *wsReader) Next() (domain.RawRecord, error) {
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return domain.RawRecord{}, io.EOF
			}
			return domain.RawRecord{}, err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		return domain.RawRecord{Data: data}, nil
	}
}

func (r *wsReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.stop()
		err = r.conn.Close()
	})
	return err
}
