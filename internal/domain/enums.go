// Package domain defines the core domain models shared by the run client and the
// reference run server.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusActive    RunStatus = "ACTIVE"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal reports whether no further run-level transition is expected.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ItemStatus represents the tracker state of a single run item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "PENDING"
	ItemStatusRunning ItemStatus = "RUNNING"
	ItemStatusDone    ItemStatus = "DONE"
	ItemStatusError   ItemStatus = "ERROR"
)

// IsTerminal reports whether the status is absorbing.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusDone || s == ItemStatusError
}

// Channel tags a record as run-scoped or item-scoped.
type Channel string

const (
	ChannelRun  Channel = "run"
	ChannelItem Channel = "item"
)

// Kind is the record kind within a channel.
type Kind string

const (
	KindStart       Kind = "start"
	KindDone        Kind = "done"
	KindError       Kind = "error"
	KindDelta       Kind = "delta"
	KindFirstSignal Kind = "first_signal"
)

// Valid reports whether kind is allowed on the channel.
func (c Channel) Valid(kind Kind) bool {
	switch c {
	case ChannelRun:
		return kind == KindStart || kind == KindDone || kind == KindError
	case ChannelItem:
		switch kind {
		case KindStart, KindDelta, KindFirstSignal, KindDone, KindError:
			return true
		}
	}
	return false
}

// EventName is the SSE event name used for a record, e.g. "item.done".
func EventName(c Channel, k Kind) string {
	return string(c) + "." + string(k)
}

// IsTerminalRecord reports whether a record ends the run stream.
func IsTerminalRecord(c Channel, k Kind) bool {
	return c == ChannelRun && (k == KindDone || k == KindError)
}
