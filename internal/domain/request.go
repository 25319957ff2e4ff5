package domain

import "encoding/json"

// IdempotencyHeader carries the caller-supplied idempotency token on run creation.
const IdempotencyHeader = "Idempotency-Key"

// CreateRunRequest represents the request to create a run.
type CreateRunRequest struct {
	Spec RunSpec `json:"spec"`
}

// CreateRunResponse represents the response from creating a run.
type CreateRunResponse struct {
	RunID        string    `json:"run_id"`
	Status       RunStatus `json:"status"`
	CreatedAt    int64     `json:"created_at"`
	Deduplicated bool      `json:"deduplicated,omitempty"`
}

// CancelRunResponse represents the response from cancelling a run.
type CancelRunResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}

// PublishRecordRequest is sent by workers to append a record to a run.
type PublishRecordRequest struct {
	Channel Channel         `json:"channel"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventsResponse is the pull form of a run's history.
type EventsResponse struct {
	RunID   string   `json:"run_id"`
	Records []Record `json:"records"`
	HasMore bool     `json:"has_more"`
}

// ErrorBody is the structured error carried by ErrorResponse.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope returned by the run server.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error codes returned by the run server.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeConflict       = "conflict"
	ErrorCodePolicyBlocked  = "policy_blocked"
	ErrorCodeInternal       = "internal"
	ErrorCodeCancelled      = "cancelled"
)
