package clock

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// simTimer is a recurring schedule entry. seq is the registration order,
// used as the tie-break for firings that land on the same timestamp —
// reused across every occurrence of the same timer so ties resolve by
// registration order, not by push order within one advance.
type simTimer struct {
	name        string
	interval    time.Duration
	nextTrigger time.Time
	cb          Callback
	seq         int
}

type simAlert struct {
	name        string
	triggerTime time.Time
	cb          Callback
	seq         int
	fired       bool
}

// firingHeap is a min-heap of pending firings for one advance, ordered by
// (fireTime, seq) so same-timestamp firings pop in registration order.
type firingHeap []*firingItem

type firingItem struct {
	fireTime time.Time
	seq      int
	kind     EventKind
	timer    *simTimer
	alert    *simAlert
}

func (h firingHeap) Len() int { return len(h) }
func (h firingHeap) Less(i, j int) bool {
	if h[i].fireTime.Equal(h[j].fireTime) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireTime.Before(h[j].fireTime)
}
func (h firingHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *firingHeap) Push(x any)   { *h = append(*h, x.(*firingItem)) }
func (h *firingHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SimClock is a deterministic virtual clock. Its current time advances
// only through AdvanceTo/AdvanceBy/SetTime — never from a wall-clock
// read — so a replay driven by the same bar sequence, configuration, and
// timer/alert registrations is fully reproducible.
type SimClock struct {
	mu      sync.Mutex
	current time.Time
	timers  map[string]*simTimer
	alerts  map[string]*simAlert
	nextSeq int
}

// NewSimClock creates a SimClock seeded to the given start time.
func NewSimClock(start time.Time) *SimClock {
	return &SimClock{
		current: start,
		timers:  make(map[string]*simTimer),
		alerts:  make(map[string]*simAlert),
	}
}

func (c *SimClock) Now() time.Time { //nolint:revive // interface method
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *SimClock) NowMs() int64 {
	return c.Now().UnixMilli()
}

func (c *SimClock) UTCNow() time.Time {
	return c.Now().UTC()
}

func (c *SimClock) SetTimer(name string, interval time.Duration, cb Callback) error {
	if interval <= 0 {
		return fmt.Errorf("clock: timer %q interval must be positive", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.alerts, name)
	c.nextSeq++
	c.timers[name] = &simTimer{
		name:        name,
		interval:    interval,
		nextTrigger: c.current.Add(interval),
		cb:          cb,
		seq:         c.nextSeq,
	}
	return nil
}

func (c *SimClock) SetAlert(name string, triggerTime time.Time, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, name)
	c.nextSeq++
	c.alerts[name] = &simAlert{
		name:        name,
		triggerTime: triggerTime,
		cb:          cb,
		seq:         c.nextSeq,
	}
	return nil
}

func (c *SimClock) Cancel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, name)
	delete(c.alerts, name)
}

// AdvanceTo moves the clock forward to T, firing every timer/alert due at
// or before T in timestamp order (ties broken by registration order),
// and returns the ordered list of events that fired. T must not be
// before the current time.
func (c *SimClock) AdvanceTo(t time.Time) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t.Before(c.current) {
		return nil, fmt.Errorf("clock: AdvanceTo(%s) is before current time %s", t, c.current)
	}

	h := &firingHeap{}
	heap.Init(h)
	for _, tm := range c.timers {
		if !tm.nextTrigger.After(t) {
			heap.Push(h, &firingItem{fireTime: tm.nextTrigger, seq: tm.seq, kind: EventKindTimer, timer: tm})
		}
	}
	for _, al := range c.alerts {
		if !al.fired && !al.triggerTime.After(t) {
			heap.Push(h, &firingItem{fireTime: al.triggerTime, seq: al.seq, kind: EventKindAlert, alert: al})
		}
	}

	var events []Event
	for h.Len() > 0 {
		item := heap.Pop(h).(*firingItem)
		c.current = item.fireTime

		var ev Event
		switch item.kind {
		case EventKindTimer:
			ev = Event{Name: item.timer.name, Kind: EventKindTimer, FireTime: item.fireTime}
			item.timer.cb(ev)
			item.timer.nextTrigger = item.timer.nextTrigger.Add(item.timer.interval)
			if !item.timer.nextTrigger.After(t) {
				heap.Push(h, &firingItem{fireTime: item.timer.nextTrigger, seq: item.timer.seq, kind: EventKindTimer, timer: item.timer})
			}
		case EventKindAlert:
			ev = Event{Name: item.alert.name, Kind: EventKindAlert, FireTime: item.fireTime}
			item.alert.cb(ev)
			item.alert.fired = true
		}
		events = append(events, ev)
	}

	c.current = t
	return events, nil
}

// AdvanceBy moves the clock forward by delta. delta must be non-negative.
func (c *SimClock) AdvanceBy(delta time.Duration) ([]Event, error) {
	if delta < 0 {
		return nil, fmt.Errorf("clock: AdvanceBy delta must be non-negative, got %s", delta)
	}
	c.mu.Lock()
	target := c.current.Add(delta)
	c.mu.Unlock()
	return c.AdvanceTo(target)
}

// SetTime jumps the clock directly to t, firing any events due along the
// way — equivalent to AdvanceTo, exposed under the contract's own name
// for callers that think of it as "set the date" rather than "advance".
func (c *SimClock) SetTime(t time.Time) ([]Event, error) {
	return c.AdvanceTo(t)
}

var _ Clock = (*SimClock)(nil)
