// Package tracker implements the per-item state machine of a run:
//
//	Pending -> Running -> {Done, Error}
//
// Done and Error are absorbing: once entered every later record for the item is
// ignored, which makes the tracker safe against redelivery after a reconnect.
// All transitions are synchronous and never block.
package tracker

import (
	"time"
	"unicode/utf8"

	"github.com/xiaot623/gogo/runstream/internal/domain"
)

// DefaultMaxPreview is the default bound on the preview length in characters.
const DefaultMaxPreview = 512

// Snapshot is an immutable copy of a tracker's state.
type Snapshot struct {
	ItemID             string            `json:"item_id"`
	Label              string            `json:"label,omitempty"`
	GroupKey           string            `json:"group_key,omitempty"`
	Status             domain.ItemStatus `json:"status"`
	FirstSignalLatency *time.Duration    `json:"first_signal_latency,omitempty"`
	TotalLatency       *time.Duration    `json:"total_latency,omitempty"`
	Preview            string            `json:"preview"`
	ErrorDetail        *string           `json:"error_detail,omitempty"`
	StartedAt          time.Time         `json:"started_at,omitzero"`
	UpdatedAt          time.Time         `json:"updated_at,omitzero"`
}

// Tracker owns the state of one run item. It is not safe for concurrent use;
// the aggregator serializes access.
type Tracker struct {
	itemID     string
	label      string
	groupKey   string
	maxPreview int

	status      domain.ItemStatus
	firstSignal *time.Duration
	total       *time.Duration
	preview     []rune
	errDetail   *string

	startedAt time.Time
	updatedAt time.Time
	now       func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMaxPreview sets the preview bound in characters. Non-positive values are ignored.
func WithMaxPreview(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxPreview = n
		}
	}
}

// WithLabel sets the display label.
func WithLabel(label string) Option {
	return func(t *Tracker) { t.label = label }
}

// WithGroupKey records the grouping key the item was registered under.
func WithGroupKey(key string) Option {
	return func(t *Tracker) { t.groupKey = key }
}

// WithClock overrides the wall clock used for StartedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates a Pending tracker.
func New(itemID string, opts ...Option) *Tracker {
	t := &Tracker{
		itemID:     itemID,
		maxPreview: DefaultMaxPreview,
		status:     domain.ItemStatusPending,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ID returns the item id.
func (t *Tracker) ID() string { return t.itemID }

// Status returns the current status.
func (t *Tracker) Status() domain.ItemStatus { return t.status }

// SetLabel updates the display label unless the item is terminal.
func (t *Tracker) SetLabel(label string) {
	if label != "" && !t.status.IsTerminal() {
		t.label = label
	}
}

// Start moves Pending to Running.
func (t *Tracker) Start() bool {
	if t.status != domain.ItemStatusPending {
		return false
	}
	t.status = domain.ItemStatusRunning
	t.startedAt = t.now()
	t.touch()
	return true
}

// Output appends incremental text while Running and keeps only the newest
// maxPreview characters.
func (t *Tracker) Output(text string) bool {
	if t.status != domain.ItemStatusRunning {
		return false
	}
	if text == "" {
		return true
	}
	t.appendPreview(text)
	t.touch()
	return true
}

func (t *Tracker) appendPreview(text string) {
	t.preview = append(t.preview, []rune(text)...)
	if over := len(t.preview) - t.maxPreview; over > 0 {
		// Copy so the dropped prefix can be collected.
		t.preview = append([]rune(nil), t.preview[over:]...)
	}
}

// FirstSignal records the first-signal latency once, while Running.
func (t *Tracker) FirstSignal(latency time.Duration) bool {
	if t.status != domain.ItemStatusRunning || t.firstSignal != nil || latency < 0 {
		return false
	}
	t.firstSignal = &latency
	t.touch()
	return true
}

// Done moves Running to Done and records the total latency. A non-nil
// finalPreview replaces the accumulated preview.
func (t *Tracker) Done(latency time.Duration, finalPreview *string) bool {
	if t.status != domain.ItemStatusRunning || latency < 0 {
		return false
	}
	if t.firstSignal != nil && latency < *t.firstSignal {
		latency = *t.firstSignal
	}
	t.total = &latency
	if finalPreview != nil {
		t.preview = nil
		t.appendPreview(*finalPreview)
	}
	t.status = domain.ItemStatusDone
	t.touch()
	return true
}

// Fail moves Pending or Running to Error.
func (t *Tracker) Fail(detail string) bool {
	if t.status.IsTerminal() {
		return false
	}
	t.status = domain.ItemStatusError
	t.errDetail = &detail
	t.touch()
	return true
}

// Apply routes a decoded item record to the matching transition.
func (t *Tracker) Apply(kind domain.Kind, payload any) bool {
	switch p := payload.(type) {
	case domain.ItemStartPayload:
		t.SetLabel(p.Label)
		return kind == domain.KindStart && t.Start()
	case domain.ItemDeltaPayload:
		return kind == domain.KindDelta && t.Output(p.Text)
	case domain.ItemFirstSignalPayload:
		return kind == domain.KindFirstSignal && t.FirstSignal(time.Duration(p.LatencyMs)*time.Millisecond)
	case domain.ItemDonePayload:
		return kind == domain.KindDone && t.Done(time.Duration(p.LatencyMs)*time.Millisecond, p.Preview)
	case domain.ItemErrorPayload:
		return kind == domain.KindError && t.Fail(p.Message)
	}
	return false
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	s := Snapshot{
		ItemID:    t.itemID,
		Label:     t.label,
		GroupKey:  t.groupKey,
		Status:    t.status,
		Preview:   string(t.preview),
		StartedAt: t.startedAt,
		UpdatedAt: t.updatedAt,
	}
	if t.firstSignal != nil {
		v := *t.firstSignal
		s.FirstSignalLatency = &v
	}
	if t.total != nil {
		v := *t.total
		s.TotalLatency = &v
	}
	if t.errDetail != nil {
		v := *t.errDetail
		s.ErrorDetail = &v
	}
	return s
}

// PreviewLen returns the preview length in characters.
func (s Snapshot) PreviewLen() int {
	return utf8.RuneCountInString(s.Preview)
}

func (t *Tracker) touch() {
	t.updatedAt = t.now()
}
