// Package repository defines the run server's storage interface and its SQLite
// implementation.
package repository

import (
	"context"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// Store defines the interface for run and event persistence. Lookups return a
// nil value and a nil error when nothing matches.
type Store interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.Run, idempotencyKey string) (created bool, err error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	GetRunByIdempotencyKey(ctx context.Context, key string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	UpdateRunCompleted(ctx context.Context, runID string, status domain.RunStatus, errData []byte) error

	// Event operations
	AppendEvent(ctx context.Context, record *domain.Record) error
	GetEventsAfter(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Record, error)

	Close() error
}
