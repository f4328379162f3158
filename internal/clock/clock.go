// Package clock provides the virtual-time and real-time clock
// implementations shared by the backtest engine and the orchestrator.
package clock

import "time"

// EventKind tags what kind of scheduled firing produced an Event.
type EventKind string

const (
	EventKindTimer EventKind = "timer"
	EventKindAlert EventKind = "alert"
)

// Event is the record passed to a timer/alert callback when it fires.
// It carries only the facts of the firing; callbacks choose how to react.
type Event struct {
	Name     string
	Kind     EventKind
	FireTime time.Time
}

// Callback reacts to a fired Event.
type Callback func(Event)

// Clock is the shared contract implemented by RealClock and SimClock.
// Both variants are single-owner for their lifetime: a RealClock is
// owned by the process, a SimClock by the single backtest replay using it.
type Clock interface {
	// Now returns the current time as understood by this clock.
	Now() time.Time
	// NowMs returns Now() in Unix milliseconds.
	NowMs() int64
	// UTCNow returns Now() normalized to UTC.
	UTCNow() time.Time
	// SetTimer registers a recurring callback firing every interval,
	// starting at Now()+interval. Replaces any existing timer/alert
	// of the same name.
	SetTimer(name string, interval time.Duration, cb Callback) error
	// SetAlert registers a one-shot callback to fire at triggerTime.
	// Replaces any existing timer/alert of the same name. A triggerTime
	// not after Now() fires on the very next advance/tick.
	SetAlert(name string, triggerTime time.Time, cb Callback) error
	// Cancel removes a named timer or alert. Canceling an unknown name
	// is a no-op.
	Cancel(name string)
}
