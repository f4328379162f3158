package clock_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/execution-pipeline/internal/clock"
)

func TestSimClockMonotonicity(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewSimClock(start)

	deltas := []time.Duration{time.Second, 0, 5 * time.Minute, time.Hour, 2 * time.Hour}
	prev := c.Now()
	for _, d := range deltas {
		if _, err := c.AdvanceBy(d); err != nil {
			t.Fatalf("AdvanceBy(%s) failed: %v", d, err)
		}
		if c.Now().Before(prev) {
			t.Fatalf("clock went backwards: %s < %s", c.Now(), prev)
		}
		prev = c.Now()
	}
}

func TestSimClockEventOrderingAndTieBreak(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewSimClock(start)

	fireAt := start.Add(10 * time.Second)
	var order []string

	// Registered in this order; both alerts fire at the same instant, so
	// ties must resolve by registration order: "first" before "second".
	if err := c.SetAlert("first", fireAt, func(ev clock.Event) {
		order = append(order, ev.Name)
	}); err != nil {
		t.Fatalf("SetAlert failed: %v", err)
	}
	if err := c.SetAlert("second", fireAt, func(ev clock.Event) {
		order = append(order, ev.Name)
	}); err != nil {
		t.Fatalf("SetAlert failed: %v", err)
	}

	events, err := c.AdvanceTo(start.Add(time.Minute))
	if err != nil {
		t.Fatalf("AdvanceTo failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].FireTime.Before(events[i-1].FireTime) {
			t.Fatalf("events not sorted by fire time ascending")
		}
	}
	if order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected FIFO tie-break [first second], got %v", order)
	}
}

func TestSimClockTimerRescheduling(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewSimClock(start)

	interval := 10 * time.Second
	var fireTimes []time.Time
	if err := c.SetTimer("tick", interval, func(ev clock.Event) {
		fireTimes = append(fireTimes, ev.FireTime)
	}); err != nil {
		t.Fatalf("SetTimer failed: %v", err)
	}

	// Window of 35s should fire at +10, +20, +30: floor(35/10) = 3 times.
	if _, err := c.AdvanceTo(start.Add(35 * time.Second)); err != nil {
		t.Fatalf("AdvanceTo failed: %v", err)
	}

	maxFirings := int(35*time.Second/interval) + 1
	if len(fireTimes) > maxFirings {
		t.Fatalf("timer fired %d times, exceeds bound %d", len(fireTimes), maxFirings)
	}
	if len(fireTimes) != 3 {
		t.Fatalf("expected 3 firings, got %d", len(fireTimes))
	}
	for i, ft := range fireTimes {
		expected := start.Add(time.Duration(i+1) * interval)
		if !ft.Equal(expected) {
			t.Errorf("firing %d: expected %s, got %s", i, expected, ft)
		}
	}
}

func TestSimClockAdvanceToRejectsPast(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewSimClock(start)

	if _, err := c.AdvanceBy(time.Minute); err != nil {
		t.Fatalf("AdvanceBy failed: %v", err)
	}
	if _, err := c.AdvanceTo(start); err == nil {
		t.Fatal("expected error advancing to a time before current")
	}
}

func TestSimClockCancel(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewSimClock(start)

	fired := false
	if err := c.SetAlert("a", start.Add(time.Second), func(clock.Event) {
		fired = true
	}); err != nil {
		t.Fatalf("SetAlert failed: %v", err)
	}
	c.Cancel("a")

	if _, err := c.AdvanceBy(time.Minute); err != nil {
		t.Fatalf("AdvanceBy failed: %v", err)
	}
	if fired {
		t.Fatal("canceled alert should not have fired")
	}
}
