package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when the subscription was cancelled by the caller.
	// The context error is wrapped alongside it.
	ErrCancelled = errors.New("stream cancelled")
	// ErrRetriesExhausted is matched by *ExhaustedError.
	ErrRetriesExhausted = errors.New("stream reconnect attempts exhausted")
	// ErrClosed describes a connection that ended before the run did.
	ErrClosed = errors.New("stream closed before the run finished")
)

// ExhaustedError is returned when the push channel kept failing without
// delivering new records.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("stream reconnect attempts exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// PermanentError is a rejection that reconnecting cannot fix, such as an unknown
// run id.
type PermanentError struct {
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("stream rejected with status %d", e.StatusCode)
	}
	return fmt.Sprintf("stream rejected with status %d: %s", e.StatusCode, e.Message)
}

// permanentStatus reports whether an HTTP status means the request will never
// succeed as is.
func permanentStatus(code int) bool {
	return code >= 400 && code < 500 && code != 408 && code != 429
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %w", ErrCancelled, err)
}
