package timectrl

import (
	"context"
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func TestSetTimeJumps(t *testing.T) {
	tc := NewTimeController(epoch)
	target := epoch.Add(42 * time.Second)
	tc.SetTime(target)
	if got := tc.Now(); !got.Equal(target) {
		t.Fatalf("Now() = %v, want %v", got, target)
	}
}

func TestAfterFiresOnceDue(t *testing.T) {
	tc := NewTimeController(epoch)

	ch := tc.After(2 * time.Minute)
	tc.Advance(time.Minute)
	select {
	case <-ch:
		t.Fatalf("timer fired before it was due")
	default:
	}
	if tc.Pending() != 1 {
		t.Fatalf("Pending() = %d, want 1", tc.Pending())
	}

	tc.Advance(time.Minute)
	select {
	case got := <-ch:
		if want := epoch.Add(2 * time.Minute); !got.Equal(want) {
			t.Fatalf("timer fired at %v, want %v", got, want)
		}
	default:
		t.Fatalf("timer did not fire once due")
	}
	if tc.Pending() != 0 {
		t.Fatalf("fired timer still pending")
	}
}

func TestAfterNonPositiveFiresImmediately(t *testing.T) {
	tc := NewTimeController(epoch)
	select {
	case got := <-tc.After(0):
		if !got.Equal(epoch) {
			t.Fatalf("got %v, want %v", got, epoch)
		}
	default:
		t.Fatalf("zero-length timer did not fire")
	}
}

func TestSleepAdvancesVirtualClock(t *testing.T) {
	tc := NewTimeController(epoch)
	if err := Sleep(context.Background(), tc, 90*time.Second); err != nil {
		t.Fatalf("Sleep: %v", err)
	}
	if got := tc.Now(); !got.Equal(epoch.Add(90 * time.Second)) {
		t.Fatalf("Now() = %v after Sleep", got)
	}
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, System(), time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep on a cancelled context = %v", err)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := Sleep(ctx, System(), time.Hour); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Sleep past the deadline = %v", err)
	}
}

func TestSystemClockIsDefault(t *testing.T) {
	if _, ok := OrSystem(nil).(systemClock); !ok {
		t.Fatalf("OrSystem(nil) did not return the wall clock")
	}
	tc := NewTimeController(epoch)
	if OrSystem(tc) != Clock(tc) {
		t.Fatalf("OrSystem replaced a non-nil clock")
	}
}
