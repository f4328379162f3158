package clock

import (
	"sync"
	"time"
)

// pollInterval is the RealClock's firing-check cadence. The clock
// contract only requires "≥10Hz suffices"; 20ms keeps firings within a
// tight tolerance of their scheduled time without busy-looping.
const pollInterval = 20 * time.Millisecond

type realTimer struct {
	interval    time.Duration
	nextTrigger time.Time
	cb          Callback
}

type realAlert struct {
	triggerTime time.Time
	cb          Callback
	fired       bool
}

// RealClock drives timers and alerts from system time via a polling
// loop, started on construction and stopped by Stop.
type RealClock struct {
	mu      sync.Mutex
	timers  map[string]*realTimer
	alerts  map[string]*realAlert
	ticker  *time.Ticker
	stopCh  chan struct{}
	stopped sync.Once
}

// NewRealClock creates and starts a RealClock.
func NewRealClock() *RealClock {
	c := &RealClock{
		timers: make(map[string]*realTimer),
		alerts: make(map[string]*realAlert),
		ticker: time.NewTicker(pollInterval),
		stopCh: make(chan struct{}),
	}
	go c.pollLoop()
	return c
}

func (c *RealClock) pollLoop() {
	for {
		select {
		case <-c.stopCh:
			return
		case now := <-c.ticker.C:
			c.fireDue(now)
		}
	}
}

func (c *RealClock) fireDue(now time.Time) {
	c.mu.Lock()
	var toFire []Event
	var callbacks []Callback

	for name, tm := range c.timers {
		for !tm.nextTrigger.After(now) {
			toFire = append(toFire, Event{Name: name, Kind: EventKindTimer, FireTime: tm.nextTrigger})
			callbacks = append(callbacks, tm.cb)
			tm.nextTrigger = tm.nextTrigger.Add(tm.interval)
		}
	}
	for name, al := range c.alerts {
		if !al.fired && !al.triggerTime.After(now) {
			toFire = append(toFire, Event{Name: name, Kind: EventKindAlert, FireTime: al.triggerTime})
			callbacks = append(callbacks, al.cb)
			al.fired = true
		}
	}
	c.mu.Unlock()

	for i, ev := range toFire {
		callbacks[i](ev)
	}
}

func (c *RealClock) Now() time.Time { //nolint:revive // interface method
	return time.Now()
}

func (c *RealClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

func (c *RealClock) UTCNow() time.Time {
	return time.Now().UTC()
}

func (c *RealClock) SetTimer(name string, interval time.Duration, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.alerts, name)
	c.timers[name] = &realTimer{
		interval:    interval,
		nextTrigger: time.Now().Add(interval),
		cb:          cb,
	}
	return nil
}

func (c *RealClock) SetAlert(name string, triggerTime time.Time, cb Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, name)
	c.alerts[name] = &realAlert{triggerTime: triggerTime, cb: cb}
	return nil
}

func (c *RealClock) Cancel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.timers, name)
	delete(c.alerts, name)
}

// Stop halts the polling loop. A stopped RealClock no longer fires
// timers or alerts.
func (c *RealClock) Stop() {
	c.stopped.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

var _ Clock = (*RealClock)(nil)
