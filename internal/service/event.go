package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/runstream/internal/dispatch"
	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// Publish appends a record to a run and wakes up its streams. Run-level records
// update the run status; nothing can be appended after a terminal record.
func (s *Service) Publish(ctx context.Context, runID string, channel domain.Channel, kind domain.Kind, payload json.RawMessage) (*domain.Record, error) {
	record := &domain.Record{RunID: runID, Channel: channel, Kind: kind, Payload: payload}
	if err := validate(*record); err != nil {
		return nil, err
	}

	s.appendMu.Lock()
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		s.appendMu.Unlock()
		return nil, err
	}
	if run.Status.IsTerminal() {
		s.appendMu.Unlock()
		return nil, fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrRunFinished)
	}
	if err := s.store.AppendEvent(ctx, record); err != nil {
		s.appendMu.Unlock()
		return nil, fmt.Errorf("failed to append record: %w", err)
	}
	err = s.advanceStatus(ctx, run, record)
	s.appendMu.Unlock()
	if err != nil {
		return nil, err
	}

	s.logger.Debug("record appended", "run_id", runID, "seq", record.Seq, "event", domain.EventName(channel, kind))
	_ = s.hub.Broadcast(runID, record.Seq)
	return record, nil
}

func (s *Service) advanceStatus(ctx context.Context, run *domain.Run, record *domain.Record) error {
	var err error
	switch {
	case record.Channel == domain.ChannelRun && record.Kind == domain.KindDone:
		err = s.store.UpdateRunCompleted(ctx, run.RunID, domain.RunStatusCompleted, nil)
	case record.Channel == domain.ChannelRun && record.Kind == domain.KindError:
		status := domain.RunStatusFailed
		var p domain.RunErrorPayload
		if json.Unmarshal(record.Payload, &p) == nil && p.Code == domain.ErrorCodeCancelled {
			status = domain.RunStatusCancelled
		}
		err = s.store.UpdateRunCompleted(ctx, run.RunID, status, record.Payload)
		s.logger.Info("run ended", "run_id", run.RunID, "status", status)
	case run.Status == domain.RunStatusPending:
		err = s.store.UpdateRunStatus(ctx, run.RunID, domain.RunStatusActive)
	}
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// validate checks a record the same way subscribers will decode it.
func validate(record domain.Record) error {
	record.Seq = 1
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := dispatch.Decode(domain.RawRecord{Data: data}); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// EventsAfter returns up to limit records with seq > afterSeq and whether more
// are available.
func (s *Service) EventsAfter(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Record, bool, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, false, err
	}
	if limit <= 0 {
		limit = s.config.StreamBatchSize
	}
	if limit <= 0 {
		limit = 100
	}
	records, err := s.store.GetEventsAfter(ctx, runID, afterSeq, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get records: %w", err)
	}
	hasMore := len(records) > limit
	if hasMore {
		records = records[:limit]
	}
	if records == nil {
		records = []domain.Record{}
	}
	return records, hasMore, nil
}

func isFinished(err error) bool {
	return errors.Is(err, ErrRunFinished)
}
