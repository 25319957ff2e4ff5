// Package stream implements the resumable push-channel client of a run. It
// delivers raw records in arrival order, tracks the highest cursor observed and
// transparently reconnects with that cursor until the run ends, the caller
// cancels, or the reconnect budget runs out.
package stream

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"golang.org/x/time/rate"

	"github.com/xiaot623/gogo/runstream/internal/dispatch"
	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/logging"
)

const (
	DefaultMaxReconnects  = 20
	DefaultReconnectDelay = time.Second
)

// Options configures a Client.
type Options struct {
	// MaxReconnects bounds consecutive reconnects that deliver no new record.
	MaxReconnects int
	// ReconnectDelay is the minimum spacing between connection attempts.
	ReconnectDelay time.Duration
	Logger         logging.Logger
	Metrics        *Metrics
}

// Client subscribes to run streams through a Transport.
type Client struct {
	transport Transport
	opts      Options
}

// New creates a Client.
func New(transport Transport, optFns ...func(o *Options)) *Client {
	opts := Options{
		MaxReconnects:  DefaultMaxReconnects,
		ReconnectDelay: DefaultReconnectDelay,
		Logger:         logging.NoOpLogger{},
		Metrics:        DefaultMetrics(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxReconnects < 0 {
		opts.MaxReconnects = 0
	}
	return &Client{transport: transport, opts: opts}
}

// Open subscribes to runID starting after afterSeq and calls onRecord for every
// record, including ones it cannot parse. It blocks until the run ends (nil),
// ctx is cancelled (ErrCancelled), the server rejects the subscription
// (*PermanentError) or reconnects are exhausted (*ExhaustedError).
func (c *Client) Open(ctx context.Context, runID string, afterSeq int64, onRecord func(domain.RawRecord)) error {
	logger := logging.With(c.opts.Logger, "run_id", runID)
	limit := rate.Inf
	if c.opts.ReconnectDelay > 0 {
		limit = rate.Every(c.opts.ReconnectDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	cursor := afterSeq
	reconnects := 0
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return cancelled(err)
		}
		if reconnects > c.opts.MaxReconnects {
			logger.Warn("giving up on stream", "attempts", c.opts.MaxReconnects, "error", lastErr)
			return &ExhaustedError{Attempts: c.opts.MaxReconnects, LastErr: lastErr}
		}
		if err := limiter.Wait(ctx); err != nil {
			return cancelled(err)
		}
		if reconnects > 0 {
			c.opts.Metrics.reconnect()
			logger.Info("reconnecting stream", "after_seq", cursor, "attempt", reconnects)
		}

		progressed, terminal, err := c.session(ctx, runID, &cursor, onRecord)
		if terminal {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return cancelled(ctxErr)
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			logger.Error("stream rejected", "status", perm.StatusCode, "error", perm.Message)
			return perm
		}
		if err == nil {
			err = ErrClosed
		}
		lastErr = err
		if progressed {
			reconnects = 0
		}
		reconnects++
		logger.Debug("stream connection ended", "after_seq", cursor, "error", err)
	}
}

// session runs one connection. cursor is advanced past every record that
// decodes; a record that fails validation is delivered but neither moves the
// cursor nor ends the stream, even when its tags name a terminal record.
func (c *Client) session(ctx context.Context, runID string, cursor *int64, onRecord func(domain.RawRecord)) (progressed, terminal bool, err error) {
	reader, err := c.transport.Open(ctx, OpenParams{RunID: runID, AfterSeq: *cursor})
	if err != nil {
		return false, false, err
	}
	defer reader.Close()

	for {
		rec, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			return progressed, false, err
		}
		if ctx.Err() != nil {
			return progressed, false, nil
		}
		c.opts.Metrics.record()
		onRecord(rec)

		env, err := dispatch.Decode(rec)
		if err != nil {
			c.opts.Logger.Debug("record does not advance the cursor", "run_id", runID, "error", err)
			continue
		}
		if env.Seq > *cursor {
			*cursor = env.Seq
			progressed = true
		}
		if domain.IsTerminalRecord(env.Channel, env.Kind) {
			return progressed, true, nil
		}
	}
}

// Records is the iterator form of Open. Breaking out of the loop cancels the
// subscription. A non-nil error is yielded once, last, for any outcome other
// than a finished run or a break.
func (c *Client) Records(ctx context.Context, runID string, afterSeq int64) iter.Seq2[domain.RawRecord, error] {
	return func(yield func(domain.RawRecord, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		err := c.Open(ctx, runID, afterSeq, func(rec domain.RawRecord) {
			if stopped {
				return
			}
			if !yield(rec, nil) {
				stopped = true
				cancel()
			}
		})
		if stopped || err == nil {
			return
		}
		yield(domain.RawRecord{}, err)
	}
}
