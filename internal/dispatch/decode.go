package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

var (
	// ErrMalformed is returned for records that cannot be decoded or validated.
	ErrMalformed = errors.New("malformed record")
	// ErrStale is returned for records whose cursor is not past the last applied one.
	ErrStale = errors.New("stale record")
)

// Envelope is a decoded and validated record.
type Envelope struct {
	Seq     int64
	RunID   string
	Channel domain.Channel
	Kind    domain.Kind
	// ItemID is set for item-channel records.
	ItemID string
	// Payload holds one of the domain payload structs, or nil for run.done.
	Payload any
}

// Decode parses a raw record and validates its tags, cursor and payload.
func Decode(raw domain.RawRecord) (Envelope, error) {
	data := bytes.TrimSpace(raw.Data)
	if len(data) == 0 || data[0] != '{' {
		return Envelope{}, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	var rec domain.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if rec.Seq <= 0 {
		return Envelope{}, fmt.Errorf("%w: missing cursor", ErrMalformed)
	}
	if !rec.Channel.Valid(rec.Kind) {
		return Envelope{}, fmt.Errorf("%w: unknown kind %q on channel %q", ErrMalformed, rec.Kind, rec.Channel)
	}

	env := Envelope{Seq: rec.Seq, RunID: rec.RunID, Channel: rec.Channel, Kind: rec.Kind}
	var err error
	if rec.Channel == domain.ChannelRun {
		env.Payload, err = decodeRunPayload(rec.Kind, rec.Payload)
	} else {
		env.ItemID, env.Payload, err = decodeItemPayload(rec.Kind, rec.Payload)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %s.%s: %v", ErrMalformed, rec.Channel, rec.Kind, err)
	}
	return env, nil
}

func decodeRunPayload(kind domain.Kind, raw json.RawMessage) (any, error) {
	switch kind {
	case domain.KindStart:
		var p domain.RunStartPayload
		return p, unmarshalOptional(raw, &p)
	case domain.KindError:
		var p domain.RunErrorPayload
		return p, unmarshalOptional(raw, &p)
	}
	return nil, nil
}

func decodeItemPayload(kind domain.Kind, raw json.RawMessage) (string, any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil, errors.New("payload is required")
	}

	var (
		itemID  string
		latency int64
		payload any
		err     error
	)
	switch kind {
	case domain.KindStart:
		var p domain.ItemStartPayload
		err = json.Unmarshal(raw, &p)
		itemID, payload = p.ItemID, p
	case domain.KindDelta:
		var p domain.ItemDeltaPayload
		err = json.Unmarshal(raw, &p)
		itemID, payload = p.ItemID, p
	case domain.KindFirstSignal:
		var p domain.ItemFirstSignalPayload
		err = json.Unmarshal(raw, &p)
		itemID, latency, payload = p.ItemID, p.LatencyMs, p
	case domain.KindDone:
		var p domain.ItemDonePayload
		err = json.Unmarshal(raw, &p)
		itemID, latency, payload = p.ItemID, p.LatencyMs, p
	case domain.KindError:
		var p domain.ItemErrorPayload
		err = json.Unmarshal(raw, &p)
		itemID, payload = p.ItemID, p
	}
	if err != nil {
		return "", nil, err
	}
	if itemID == "" {
		return "", nil, errors.New("item_id is required")
	}
	if latency < 0 {
		return "", nil, fmt.Errorf("negative latency %d", latency)
	}
	return itemID, payload, nil
}

func unmarshalOptional(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}
