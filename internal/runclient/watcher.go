// Package runclient ties the run client together: it submits a run, opens the
// resumable stream and feeds every record through the dispatcher into a run
// aggregator owned by the returned Subscription.
package runclient

import (
	"context"
	"errors"

	"github.com/xiaot623/gogo/runstream/internal/aggregate"
	"github.com/xiaot623/gogo/runstream/internal/config"
	"github.com/xiaot623/gogo/runstream/internal/dispatch"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/initiator"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/stream"
	"github.com/xiaot623/gogo/runstream/internal/tracker"
)

// Options configures a Watcher.
type Options struct {
	Logger          logging.Logger
	TrackerOptions  []tracker.Option
	DispatchMetrics *dispatch.Metrics
}

// Watcher creates run subscriptions.
type Watcher struct {
	initiator *initiator.Client
	streams   *stream.Client
	opts      Options
}

// NewWatcher creates a Watcher from its collaborators.
func NewWatcher(runs *initiator.Client, streams *stream.Client, optFns ...func(o *Options)) *Watcher {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Watcher{initiator: runs, streams: streams, opts: opts}
}

// NewFromConfig builds a Watcher and its initiator from client configuration.
func NewFromConfig(cfg *config.ClientConfig, logger logging.Logger) (*Watcher, *initiator.Client) {
	var transport stream.Transport
	if cfg.Transport == "ws" {
		transport = stream.NewWSTransport(cfg.ServerURL, nil)
	} else {
		transport = stream.NewSSETransport(cfg.ServerURL, nil)
	}
	streams := stream.New(transport, func(o *stream.Options) {
		o.MaxReconnects = cfg.MaxReconnects
		o.ReconnectDelay = cfg.ReconnectDelay
		o.Logger = logger
	})
	runs := initiator.NewClient(cfg.ServerURL, cfg.SubmitTimeout)
	return NewWatcher(runs, streams, func(o *Options) {
		o.Logger = logger
		o.TrackerOptions = []tracker.Option{tracker.WithMaxPreview(cfg.PreviewMaxChars)}
	}), runs
}

// SetupFunc runs against a new subscription's aggregator before its stream
// starts, so subscribers registered there observe every applied record.
type SetupFunc func(agg *aggregate.Aggregator)

// Start submits spec and subscribes to the new run. Nothing is tracked until
// the server has returned a run id.
func (w *Watcher) Start(ctx context.Context, spec domain.RunSpec, token string, setup ...SetupFunc) (*Subscription, error) {
	spec = spec.Dedupe()
	runID, err := w.initiator.Submit(ctx, spec, token)
	if err != nil {
		return nil, err
	}
	w.opts.Logger.Info("run submitted", "run_id", runID, "targets", len(spec.Targets))
	return w.attach(ctx, runID, 0, &spec, setup), nil
}

// Attach subscribes to an existing run, resuming after afterSeq.
func (w *Watcher) Attach(ctx context.Context, runID string, afterSeq int64, setup ...SetupFunc) *Subscription {
	return w.attach(ctx, runID, afterSeq, nil, setup)
}

func (w *Watcher) attach(ctx context.Context, runID string, afterSeq int64, spec *domain.RunSpec, setup []SetupFunc) *Subscription {
	logger := logging.With(w.opts.Logger, "run_id", runID)
	agg := aggregate.New(ctx, runID, func(o *aggregate.Options) {
		o.TrackerOptions = w.opts.TrackerOptions
		o.Logger = logger
	})
	if spec != nil {
		agg.RegisterSpec(*spec)
	}
	for _, fn := range setup {
		fn(agg)
	}

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(logger), dispatch.WithLastApplied(afterSeq)}
	if w.opts.DispatchMetrics != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(w.opts.DispatchMetrics))
	}

	sub := &Subscription{
		runID:      runID,
		agg:        agg,
		dispatcher: dispatch.New(agg, dispatchOpts...),
		done:       make(chan struct{}),
	}
	go sub.run(ctx, w.streams, afterSeq, logger)
	return sub
}

// Subscription is one live run subscription. It owns its aggregator.
type Subscription struct {
	runID      string
	agg        *aggregate.Aggregator
	dispatcher *dispatch.Dispatcher

	done chan struct{}
	err  error
}

func (s *Subscription) run(parent context.Context, streams *stream.Client, afterSeq int64, logger logging.Logger) {
	defer close(s.done)

	err := streams.Open(s.agg.Context(), s.runID, afterSeq, func(rec domain.RawRecord) {
		_ = s.dispatcher.Dispatch(rec)
	})
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrCancelled):
		// Cancelling the parent context counts as a local cancel.
		if parent.Err() != nil {
			s.agg.Cancel()
		}
		err = nil
	default:
		logger.Error("run stream failed", "error", err, "last_applied", s.dispatcher.LastApplied())
	}
	s.err = err
	s.agg.Close()

	stats := s.dispatcher.Stats()
	logger.Info("run subscription ended", "status", s.agg.Status(),
		"accepted", stats.Accepted, "malformed", stats.Malformed, "stale", stats.Stale)
}

// RunID returns the run id.
func (s *Subscription) RunID() string { return s.runID }

// Wait blocks until the stream stops. It returns nil when the run ended or was
// cancelled, and the stream error when reconnects were exhausted or the server
// refused the subscription.
func (s *Subscription) Wait() error {
	<-s.done
	return s.err
}

// Done is closed when the stream has stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops the stream and marks the run CANCELLED locally. It does not
// cancel the run on the server.
func (s *Subscription) Cancel() { s.agg.Cancel() }

// View returns the current sorted item view.
func (s *Subscription) View() []aggregate.ItemView { return s.agg.View() }

// Aggregator exposes the run aggregator for status queries and subscriptions.
func (s *Subscription) Aggregator() *aggregate.Aggregator { return s.agg }

// Stats returns the dispatcher counters.
func (s *Subscription) Stats() dispatch.Stats { return s.dispatcher.Stats() }

// LastApplied returns the cursor to resume from with Attach.
func (s *Subscription) LastApplied() int64 { return s.dispatcher.LastApplied() }
