package domain

import (
	"encoding/json"
	"fmt"
)

// RawRecord is a single undecoded record as delivered by a push channel.
type RawRecord struct {
	ID    string // transport-level id (SSE "id:"), informational only
	Event string // transport-level event name, informational only
	Data  []byte
}

// Record is the wire form of one entry in a run's event history.
type Record struct {
	Seq     int64           `json:"seq"`
	RunID   string          `json:"run_id,omitempty"`
	Channel Channel         `json:"channel"`
	Kind    Kind            `json:"kind"`
	Ts      int64           `json:"ts,omitempty"` // Unix milliseconds
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Header is the part of a record the stream client needs to track resumption.
type Header struct {
	Seq     int64   `json:"seq"`
	Channel Channel `json:"channel"`
	Kind    Kind    `json:"kind"`
}

// Terminal reports whether the header belongs to a run-level terminal record.
func (h Header) Terminal() bool {
	return IsTerminalRecord(h.Channel, h.Kind)
}

// PeekHeader decodes only the cursor and tags of a raw record.
func PeekHeader(data []byte) (Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return Header{}, fmt.Errorf("failed to decode record header: %w", err)
	}
	return h, nil
}

// ItemStartPayload is the payload of item.start.
type ItemStartPayload struct {
	ItemID string `json:"item_id"`
	Label  string `json:"label,omitempty"`
}

// ItemDeltaPayload is the payload of item.delta (incremental output).
type ItemDeltaPayload struct {
	ItemID string `json:"item_id"`
	Text   string `json:"text"`
}

// ItemFirstSignalPayload is the payload of item.first_signal.
type ItemFirstSignalPayload struct {
	ItemID    string `json:"item_id"`
	LatencyMs int64  `json:"latency_ms"`
}

// ItemDonePayload is the payload of item.done. Preview, when present, is the
// canonical final excerpt and replaces any accumulated output.
type ItemDonePayload struct {
	ItemID    string  `json:"item_id"`
	LatencyMs int64   `json:"latency_ms"`
	Preview   *string `json:"preview,omitempty"`
}

// ItemErrorPayload is the payload of item.error.
type ItemErrorPayload struct {
	ItemID  string `json:"item_id"`
	Message string `json:"message"`
}

// RunErrorPayload is the payload of run.error.
type RunErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RunStartPayload is the payload of run.start.
type RunStartPayload struct {
	Items []ItemStartPayload `json:"items,omitempty"`
}
