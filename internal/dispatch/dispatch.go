// Package dispatch decodes raw stream records and routes them to the run
// aggregator. Records that fail to decode, or whose cursor is not past the last
// applied one, are dropped and counted rather than surfaced to the run.
package dispatch

import (
	"sync"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/logging"
)

// Sink receives decoded records. *aggregate.Aggregator implements it.
type Sink interface {
	ApplyRun(kind domain.Kind, payload any) bool
	ApplyItem(itemID string, kind domain.Kind, payload any) bool
}

// Stats counts the outcome of every dispatched record.
type Stats struct {
	Accepted  int64 `json:"accepted"`
	Malformed int64 `json:"malformed"`
	Stale     int64 `json:"stale"`
}

// Total returns the number of records seen.
func (s Stats) Total() int64 {
	return s.Accepted + s.Malformed + s.Stale
}

// Dispatcher is safe for concurrent use, though records are expected to arrive
// from a single stream goroutine.
type Dispatcher struct {
	sink    Sink
	logger  logging.Logger
	metrics *Metrics

	mu          sync.Mutex
	lastApplied int64
	stats       Stats
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger used for rejected records.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

// WithMetrics sets the prometheus collectors. Passing nil disables export.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithLastApplied sets the initial cursor when attaching to a run mid-stream.
func WithLastApplied(seq int64) Option {
	return func(d *Dispatcher) { d.lastApplied = seq }
}

// New creates a Dispatcher that forwards to sink.
func New(sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		logger:  logging.NoOpLogger{},
		metrics: DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch decodes raw and forwards it to the sink. The returned error wraps
// ErrMalformed or ErrStale and is informational only.
func (d *Dispatcher) Dispatch(raw domain.RawRecord) error {
	env, err := Decode(raw)
	if err != nil {
		d.reject(reasonMalformed)
		d.logger.Warn("malformed record dropped", "error", err)
		return err
	}

	d.mu.Lock()
	if env.Seq <= d.lastApplied {
		last := d.lastApplied
		d.mu.Unlock()
		d.reject(reasonStale)
		d.logger.Debug("stale record dropped", "seq", env.Seq, "last_applied", last)
		return ErrStale
	}
	d.lastApplied = env.Seq
	d.stats.Accepted++
	d.mu.Unlock()
	d.metrics.accept()

	// The sink runs subscriber callbacks, so mu must not be held here.
	if env.Channel == domain.ChannelRun {
		d.sink.ApplyRun(env.Kind, env.Payload)
	} else {
		d.sink.ApplyItem(env.ItemID, env.Kind, env.Payload)
	}
	return nil
}

const (
	reasonMalformed = "malformed"
	reasonStale     = "stale"
)

func (d *Dispatcher) reject(reason string) {
	d.mu.Lock()
	if reason == reasonStale {
		d.stats.Stale++
	} else {
		d.stats.Malformed++
	}
	d.mu.Unlock()
	d.metrics.reject(reason)
}

// LastApplied returns the cursor of the last applied record.
func (d *Dispatcher) LastApplied() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastApplied
}

// Stats returns a copy of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// RejectionRate returns the share of records dropped, or 0 before any record.
func (d *Dispatcher) RejectionRate() float64 {
	s := d.Stats()
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Malformed+s.Stale) / float64(total)
}
