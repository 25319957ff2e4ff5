// Package hub wakes up stream handlers when new records are appended to the run
// they follow.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runstream/internal/logging"
)

// ErrBufferFull is returned when the broadcast queue is full.
var ErrBufferFull = errors.New("hub buffer full")

// Subscriber follows one run. Notify receives a value after new records were
// appended; wake-ups coalesce so a slow reader only sees the latest.
type Subscriber struct {
	ID     string
	RunID  string
	Notify chan struct{}
	hub    *Hub
	once   sync.Once
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscriber) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// runMessage is queued by Broadcast.
type runMessage struct {
	RunID string
	Seq   int64
}

// Hub manages run subscribers.
type Hub struct {
	// Subscribers indexed by run id, then subscriber id
	runs map[string]map[string]*Subscriber

	broadcast chan runMessage
	logger    logging.Logger

	mu sync.RWMutex
}

// New creates a new Hub.
func New(logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Hub{
		runs:      make(map[string]map[string]*Subscriber),
		broadcast: make(chan runMessage, 256),
		logger:    logger,
	}
}

// Run delivers broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg runMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.runs[msg.RunID] {
		select {
		case sub.Notify <- struct{}{}:
		default:
			// A wake-up is already pending.
		}
	}
}

// Subscribe registers a subscriber for runID.
func (h *Hub) Subscribe(runID string) *Subscriber {
	sub := &Subscriber{
		ID:     uuid.New().String(),
		RunID:  runID,
		Notify: make(chan struct{}, 1),
		hub:    h,
	}

	h.mu.Lock()
	if h.runs[runID] == nil {
		h.runs[runID] = make(map[string]*Subscriber)
	}
	h.runs[runID][sub.ID] = sub
	h.mu.Unlock()

	h.logger.Debug("stream subscribed", "run_id", runID, "subscriber_id", sub.ID)
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if subs, ok := h.runs[sub.RunID]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.runs, sub.RunID)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("stream unsubscribed", "run_id", sub.RunID, "subscriber_id", sub.ID)
}

// Broadcast announces that runID has records up to seq. It never blocks;
// subscribers fall back to polling when a broadcast is dropped.
func (h *Hub) Broadcast(runID string, seq int64) error {
	select {
	case h.broadcast <- runMessage{RunID: runID, Seq: seq}:
		return nil
	default:
		h.logger.Warn("hub buffer full, dropping wake-up", "run_id", runID, "seq", seq)
		return ErrBufferFull
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.runs {
		n += len(subs)
	}
	return n
}

// RunCount returns the number of runs with at least one subscriber.
func (h *Hub) RunCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.runs)
}
