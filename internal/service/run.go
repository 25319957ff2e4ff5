package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/policy"
)

// CreateRun creates a run for spec, or returns the run previously created with
// the same idempotency key. created reports whether a new run was made.
func (s *Service) CreateRun(ctx context.Context, spec domain.RunSpec, key string) (run *domain.Run, created bool, err error) {
	if key == "" {
		return nil, false, fmt.Errorf("%w: %s header is required", ErrInvalid, domain.IdempotencyHeader)
	}

	if runID, ok := s.keys.Get(key); ok {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get run: %w", err)
		}
		if run != nil {
			return run, false, nil
		}
		s.keys.Remove(key)
	}

	spec = spec.Dedupe()
	if err := spec.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if s.policyEngine != nil {
		decision, reason, err := s.policyEngine.Evaluate(ctx, spec)
		if err != nil {
			return nil, false, fmt.Errorf("policy evaluation failed: %w", err)
		}
		if decision == policy.DecisionBlock {
			s.logger.Info("run blocked by policy", "reason", reason)
			return nil, false, fmt.Errorf("%w: %s", ErrPolicyBlocked, reason)
		}
	}

	run = &domain.Run{
		RunID:     "run_" + uuid.New().String()[:8],
		Spec:      spec,
		Status:    domain.RunStatusPending,
		CreatedAt: time.Now(),
	}
	created, err = s.store.CreateRun(ctx, run, key)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create run: %w", err)
	}
	s.keys.Add(key, run.RunID)

	if created {
		s.logger.Info("run created", "run_id", run.RunID, "targets", len(spec.Targets))
	} else {
		s.logger.Info("run deduplicated", "run_id", run.RunID)
	}
	return run, created, nil
}

// GetRun returns a run or ErrNotFound.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, nil
}

// CancelRun ends the run with a run.error record carrying the cancelled code.
// Cancelling a finished run returns it unchanged.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	payload, err := json.Marshal(domain.RunErrorPayload{Code: domain.ErrorCodeCancelled, Message: "run cancelled"})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if _, err := s.Publish(ctx, runID, domain.ChannelRun, domain.KindError, payload); err != nil && !isFinished(err) {
		return nil, err
	}
	return s.GetRun(ctx, runID)
}
