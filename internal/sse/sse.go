// Package sse reads and writes text/event-stream frames.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// ContentType is the media type of an SSE stream.
const ContentType = "text/event-stream"

// DoneSentinel is the data value some servers send to mark the end of a stream.
const DoneSentinel = "[DONE]"

// maxLineSize bounds a single SSE line. Records carry bounded previews so this
// only guards against a misbehaving server.
const maxLineSize = 1 << 20

// Event represents a parsed SSE event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // reconnection hint in milliseconds, 0 if absent
}

// Done reports whether the event is the end-of-stream sentinel.
func (e Event) Done() bool {
	return strings.TrimSpace(e.Data) == DoneSentinel
}

// Reader parses an SSE stream one event at a time.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next returns the next event that carries data. It returns io.EOF when the
// stream ends cleanly; a trailing event without a blank line is still returned.
func (r *Reader) Next() (Event, error) {
	var (
		event   Event
		data    []string
		hasData bool
	)

	for r.scanner.Scan() {
		// Tolerate CRLF line endings
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		// Empty line marks end of event
		if line == "" {
			if hasData {
				event.Data = strings.Join(data, "\n")
				return event, nil
			}
			event = Event{}
			continue
		}

		// Comments are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "retry":
			if ms, err := strconv.Atoi(value); err == nil {
				event.Retry = ms
			}
		}
		// Ignore other fields
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}

	// Handle any remaining event
	if hasData {
		event.Data = strings.Join(data, "\n")
		return event, nil
	}
	return Event{}, io.EOF
}

// Write writes a single event in SSE format and flushes w if possible.
func Write(w io.Writer, event Event) error {
	var b strings.Builder
	if event.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", event.ID)
	}
	if event.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", event.Event)
	}
	if event.Retry > 0 {
		fmt.Fprintf(&b, "retry: %d\n", event.Retry)
	}
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	flush(w)
	return nil
}

// WriteComment writes a comment line, used as a keep-alive.
func WriteComment(w io.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	flush(w)
	return nil
}

// SetHeaders sets the response headers of an SSE stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", ContentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

func flush(w io.Writer) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
