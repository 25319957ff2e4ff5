package sse

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderParsesEvents(t *testing.T) {
	stream := ": keep-alive\n\n" +
		"id: 1\nevent: run.start\ndata: {\"seq\":1}\n\n" +
		"id: 2\r\nevent: item.delta\r\ndata: line one\r\ndata: line two\r\nretry: 1500\r\n\r\n" +
		"event: noise\n\n" +
		"data: [DONE]\n\n" +
		"data:no-space-trailing"

	r := NewReader(strings.NewReader(stream))

	ev, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{ID: "1", Event: "run.start", Data: `{"seq":1}`}, ev)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "2", ev.ID)
	assert.Equal(t, "line one\nline two", ev.Data)
	assert.Equal(t, 1500, ev.Retry)

	ev, err = r.Next()
	require.NoError(t, err)
	assert.True(t, ev.Done())

	ev, err = r.Next()
	require.NoError(t, err)
	assert.Equal(t, "no-space-trailing", ev.Data)

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestWriteRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Write(rec, Event{ID: "9", Event: "item.done", Data: "a\nb"}))
	require.NoError(t, WriteComment(rec, "ping"))

	assert.True(t, rec.Flushed)
	assert.Equal(t, "id: 9\nevent: item.done\ndata: a\ndata: b\n\n: ping\n\n", rec.Body.String())

	ev, err := NewReader(bytes.NewReader(rec.Body.Bytes())).Next()
	require.NoError(t, err)
	assert.Equal(t, "a\nb", ev.Data)
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	assert.Equal(t, ContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
}
