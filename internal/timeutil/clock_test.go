package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now() = %v, before %v", got, before)
	}
}

func TestRealClock_NewTimer(t *testing.T) {
	timer := RealClock{}.NewTimer(time.Millisecond)
	select {
	case <-timer.C():
	case <-time.After(time.Second):
		t.Fatal("real timer did not fire")
	}
	if timer.Stop() {
		t.Error("Stop on a fired timer should report false")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Advance(time.Minute)
	if got := c.Now(); !got.Equal(start.Add(time.Minute)) {
		t.Errorf("Now() = %v, want %v", got, start.Add(time.Minute))
	}
}

func TestMockClock_Timer(t *testing.T) {
	c := NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	timer := c.NewTimer(5 * time.Second)
	if c.PendingTimers() != 1 {
		t.Fatalf("PendingTimers = %d, want 1", c.PendingTimers())
	}

	c.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	if c.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d after firing", c.PendingTimers())
	}
}

func TestMockClock_TimerStop(t *testing.T) {
	c := NewMockClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	timer := c.NewTimer(time.Second)
	if !timer.Stop() {
		t.Error("Stop on an active timer should report true")
	}
	c.Advance(time.Hour)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
	if c.PendingTimers() != 0 {
		t.Errorf("PendingTimers = %d after Stop", c.PendingTimers())
	}
}
