// Package timectrl is the time source shared by the generators, the builder
// and the simulated equipment.
package timectrl

import (
	"context"
	"sync"
	"time"
)

// Clock is what code reads the time from instead of calling time.Now.
type Clock interface {
	Now() time.Time
	// After delivers the clock's time once d has elapsed on it.
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

// System returns the wall clock.
func System() Clock { return systemClock{} }

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// OrSystem returns c, or the wall clock when c is nil.
func OrSystem(c Clock) Clock {
	if c == nil {
		return System()
	}
	return c
}

// Advancer is a clock that only moves when told to.
type Advancer interface {
	Clock
	Advance(d time.Duration) time.Time
}

// Sleep lets d pass on c. An Advancer is moved forward instead of waited on,
// so simulated slews and exposures finish immediately in wall time.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	if a, ok := c.(Advancer); ok {
		a.Advance(d)
		return ctx.Err()
	}
	select {
	case <-OrSystem(c).After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type timer struct {
	due time.Time
	ch  chan time.Time
}

// TimeController is a virtual clock. Time stands still until Advance or
// SetTime moves it, and pending After timers fire as their due time passes.
// Concurrent Advance calls add up, which is how the simulator accounts for
// overlapping device work.
type TimeController struct {
	mu     sync.Mutex
	now    time.Time
	timers []timer
}

// NewTimeController returns a controller reading start.
func NewTimeController(start time.Time) *TimeController {
	return &TimeController{now: start}
}

func (tc *TimeController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.now
}

func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if d <= 0 {
		ch <- tc.now
		return ch
	}
	tc.timers = append(tc.timers, timer{due: tc.now.Add(d), ch: ch})
	return ch
}

// Advance moves the clock forward by d and returns the new time.
func (tc *TimeController) Advance(d time.Duration) time.Time {
	tc.mu.Lock()
	tc.now = tc.now.Add(d)
	now := tc.now
	due := tc.takeDueLocked()
	tc.mu.Unlock()
	deliver(due, now)
	return now
}

// SetTime jumps to t. Moving backwards never fires a timer.
func (tc *TimeController) SetTime(t time.Time) {
	tc.mu.Lock()
	tc.now = t
	due := tc.takeDueLocked()
	tc.mu.Unlock()
	deliver(due, t)
}

// Pending reports how many After timers have not fired yet.
func (tc *TimeController) Pending() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.timers)
}

func (tc *TimeController) takeDueLocked() []timer {
	var due []timer
	kept := tc.timers[:0]
	for _, t := range tc.timers {
		if t.due.After(tc.now) {
			kept = append(kept, t)
		} else {
			due = append(due, t)
		}
	}
	tc.timers = kept
	return due
}

// deliver never blocks: every timer channel has room for one value.
func deliver(due []timer, now time.Time) {
	for _, t := range due {
		t.ch <- now
	}
}

var _ Advancer = (*TimeController)(nil)
