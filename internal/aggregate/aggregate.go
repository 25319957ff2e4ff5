// Package aggregate owns the trackers of one run subscription and derives the
// run-level view from them: a freshly sorted snapshot list, completion and
// failure detection, and the cancellation handle shared with the stream client.
package aggregate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xiaot623/gogo/runstream/internal/domain"
	"github.com/xiaot623/gogo/runstream/internal/logging"
	"github.com/xiaot623/gogo/runstream/internal/tracker"
)

// RunError is the terminal error reported on the run channel.
type RunError struct {
	Code    string
	Message string
}

func (e *RunError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("run failed (%s): %s", e.Code, e.Message)
	}
	return "run failed: " + e.Message
}

// ItemView is one row of the live view.
type ItemView struct {
	tracker.Snapshot
	// Abandoned is set when the run finished while the item was still
	// non-terminal. The item status itself is left as recorded.
	Abandoned bool `json:"abandoned,omitempty"`
}

// ChangeType tells subscribers what changed.
type ChangeType string

const (
	ChangeItem ChangeType = "item"
	ChangeRun  ChangeType = "run"
)

// Change is delivered to subscribers after every applied transition.
type Change struct {
	Type      ChangeType
	ItemID    string
	RunStatus domain.RunStatus
}

// Options configures an Aggregator.
type Options struct {
	// TrackerOptions are applied to every tracker the aggregator creates.
	TrackerOptions []tracker.Option
	Logger         logging.Logger
}

// Aggregator is the exclusive owner of a run's trackers.
type Aggregator struct {
	runID  string
	ctx    context.Context
	cancel context.CancelFunc
	opts   Options

	mu       sync.RWMutex
	status   domain.RunStatus
	complete bool
	runErr   *RunError
	trackers map[string]*tracker.Tracker
	order    []string          // first-sight order, used as the stable tie-break
	aliases  map[string]string // item id -> canonical item id
	groups   map[string]string // group key -> canonical item id
	done     chan struct{}

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates an Aggregator for runID. Cancelling parent has the same effect on
// the stream as Cancel, but only Cancel marks the run CANCELLED.
func New(parent context.Context, runID string, optFns ...func(o *Options)) *Aggregator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	ctx, cancel := context.WithCancel(parent)
	return &Aggregator{
		runID:    runID,
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		status:   domain.RunStatusPending,
		trackers: make(map[string]*tracker.Tracker),
		aliases:  make(map[string]string),
		groups:   make(map[string]string),
		done:     make(chan struct{}),
		subs:     make(map[int]func(Change)),
	}
}

// RunID returns the run identifier.
func (a *Aggregator) RunID() string { return a.runID }

// Context is the shared cancel token. It is done after Cancel.
func (a *Aggregator) Context() context.Context { return a.ctx }

// Done is closed once the run is complete.
func (a *Aggregator) Done() <-chan struct{} { return a.done }

// Register pre-registers an item. When another item already holds groupKey the
// new id becomes an alias and records for it are routed to the existing
// tracker. It returns the canonical item id.
func (a *Aggregator) Register(itemID, label, groupKey string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if canonical, ok := a.aliases[itemID]; ok {
		return canonical
	}
	if groupKey != "" {
		_, tracked := a.trackers[itemID]
		if canonical, ok := a.groups[groupKey]; ok && canonical != itemID && !tracked {
			a.aliases[itemID] = canonical
			a.opts.Logger.Debug("item deduplicated", "run_id", a.runID, "item_id", itemID, "canonical", canonical)
			return canonical
		}
	}
	t := a.trackerLocked(itemID, tracker.WithGroupKey(groupKey))
	t.SetLabel(label)
	if groupKey != "" {
		a.groups[groupKey] = itemID
	}
	return itemID
}

// RegisterSpec registers every target of a deduplicated spec.
func (a *Aggregator) RegisterSpec(spec domain.RunSpec) {
	for _, target := range spec.Targets {
		a.Register(target.ItemID, target.Label, target.GroupKey())
	}
}

// ApplyRun applies a run-channel record. The first terminal record wins and
// nothing is applied after local cancellation.
func (a *Aggregator) ApplyRun(kind domain.Kind, payload any) bool {
	a.mu.Lock()
	if a.complete {
		a.mu.Unlock()
		return false
	}

	switch kind {
	case domain.KindStart:
		if a.status != domain.RunStatusPending {
			a.mu.Unlock()
			return false
		}
		a.status = domain.RunStatusActive
		if p, ok := payload.(domain.RunStartPayload); ok {
			for _, item := range p.Items {
				a.trackerLocked(a.resolveLocked(item.ItemID)).SetLabel(item.Label)
			}
		}
	case domain.KindDone:
		a.finishLocked(domain.RunStatusCompleted, nil)
	case domain.KindError:
		runErr := &RunError{Message: "unknown error"}
		if p, ok := payload.(domain.RunErrorPayload); ok {
			runErr = &RunError{Code: p.Code, Message: p.Message}
		}
		status := domain.RunStatusFailed
		if runErr.Code == domain.ErrorCodeCancelled {
			status = domain.RunStatusCancelled
		}
		a.finishLocked(status, runErr)
	default:
		a.mu.Unlock()
		return false
	}
	status := a.status
	a.mu.Unlock()

	a.opts.Logger.Debug("run record applied", "run_id", a.runID, "kind", kind, "status", status)
	a.notify(Change{Type: ChangeRun, RunStatus: status})
	return true
}

// ApplyItem routes an item-channel record to its tracker, creating the tracker
// on first sight.
func (a *Aggregator) ApplyItem(itemID string, kind domain.Kind, payload any) bool {
	a.mu.Lock()
	if a.complete {
		// Cancelled or finished runs keep their recorded item states.
		a.mu.Unlock()
		return false
	}
	canonical := a.resolveLocked(itemID)
	applied := a.trackerLocked(canonical).Apply(kind, payload)
	if applied && a.status == domain.RunStatusPending {
		a.status = domain.RunStatusActive
	}
	status := a.status
	a.mu.Unlock()

	if applied {
		a.notify(Change{Type: ChangeItem, ItemID: canonical, RunStatus: status})
	}
	return applied
}

// Cancel triggers the shared cancel token and marks the run CANCELLED locally.
// Item states are not touched. Calling Cancel more than once is harmless.
func (a *Aggregator) Cancel() {
	a.cancel()

	a.mu.Lock()
	if a.complete {
		a.mu.Unlock()
		return
	}
	a.finishLocked(domain.RunStatusCancelled, nil)
	a.mu.Unlock()

	a.opts.Logger.Info("run cancelled locally", "run_id", a.runID)
	a.notify(Change{Type: ChangeRun, RunStatus: domain.RunStatusCancelled})
}

// Close releases the cancel token without changing the run status.
func (a *Aggregator) Close() {
	a.cancel()
}

// IsComplete reports whether a run-level terminal record was observed or the
// run was cancelled. Items may still be non-terminal.
func (a *Aggregator) IsComplete() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.complete
}

// Status returns the run status.
func (a *Aggregator) Status() domain.RunStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

// Err returns the run-level error if the run failed.
func (a *Aggregator) Err() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.runErr == nil {
		return nil
	}
	return a.runErr
}

// Item returns the snapshot of one item.
func (a *Aggregator) Item(itemID string) (ItemView, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	t, ok := a.trackers[a.resolveLocked(itemID)]
	if !ok {
		return ItemView{}, false
	}
	return a.viewLocked(t), true
}

// Len returns the number of tracked items.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.order)
}

// View returns a snapshot of every item sorted by ascending first-signal
// latency, then ascending total latency. Missing values sort last and ties
// keep first-sight order. The order is recomputed on every call.
func (a *Aggregator) View() []ItemView {
	a.mu.RLock()
	views := make([]ItemView, 0, len(a.order))
	for _, id := range a.order {
		views = append(views, a.viewLocked(a.trackers[id]))
	}
	a.mu.RUnlock()

	SortViews(views)
	return views
}

// SortViews sorts views in place by the live ordering.
func SortViews(views []ItemView) {
	slices.SortStableFunc(views, func(x, y ItemView) int {
		if c := compareOptional(x.FirstSignalLatency, y.FirstSignalLatency); c != 0 {
			return c
		}
		return compareOptional(x.TotalLatency, y.TotalLatency)
	})
}

// compareOptional orders present values ascending before absent ones.
func compareOptional(x, y *time.Duration) int {
	switch {
	case x != nil && y != nil:
		return cmp.Compare(*x, *y)
	case x != nil:
		return -1
	case y != nil:
		return 1
	default:
		return 0
	}
}

// Subscribe registers fn to be called after every applied change. Callbacks
// run synchronously on the goroutine that applied the record and must not
// block. The returned function unsubscribes.
func (a *Aggregator) Subscribe(fn func(Change)) (unsubscribe func()) {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subMu.Lock()
			delete(a.subs, id)
			a.subMu.Unlock()
		})
	}
}

func (a *Aggregator) notify(change Change) {
	a.subMu.Lock()
	fns := make([]func(Change), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.subMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

func (a *Aggregator) finishLocked(status domain.RunStatus, runErr *RunError) {
	a.status = status
	a.runErr = runErr
	a.complete = true
	close(a.done)
}

func (a *Aggregator) resolveLocked(itemID string) string {
	if canonical, ok := a.aliases[itemID]; ok {
		return canonical
	}
	return itemID
}

func (a *Aggregator) trackerLocked(itemID string, extra ...tracker.Option) *tracker.Tracker {
	if t, ok := a.trackers[itemID]; ok {
		return t
	}
	t := tracker.New(itemID, append(slices.Clone(a.opts.TrackerOptions), extra...)...)
	a.trackers[itemID] = t
	a.order = append(a.order, itemID)
	return t
}

func (a *Aggregator) viewLocked(t *tracker.Tracker) ItemView {
	snap := t.Snapshot()
	return ItemView{
		Snapshot:  snap,
		Abandoned: a.complete && !snap.Status.IsTerminal(),
	}
}
