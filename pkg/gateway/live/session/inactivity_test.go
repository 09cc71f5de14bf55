package session

import (
	"testing"
	"time"
)

func TestInactivityMonitor_WarnsThenRecovers(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClock{now: start}
	m := newInactivityMonitor(2*time.Minute, 25*time.Second, 1, start)

	fc.Advance(time.Minute)
	if got := m.Observe(fc.Now()); got != inactivityNone {
		t.Fatalf("action=%v before threshold, want none", got)
	}

	fc.Advance(time.Minute + time.Second)
	if got := m.Observe(fc.Now()); got != inactivityWarn {
		t.Fatalf("action=%v past threshold, want warn", got)
	}
	if !m.Warning() {
		t.Fatal("monitor should be in warning state")
	}

	// Candidate answers inside the response window.
	fc.Advance(10 * time.Second)
	m.Touch(fc.Now())
	if m.Warning() {
		t.Fatal("touch should clear the warning")
	}
	if got := m.Observe(fc.Now()); got != inactivityNone {
		t.Fatalf("action=%v after recovery, want none", got)
	}
}

func TestInactivityMonitor_WindowElapsesSilent(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClock{now: start}
	m := newInactivityMonitor(2*time.Minute, 25*time.Second, 1, start)

	fc.Advance(2*time.Minute + time.Second)
	if got := m.Observe(fc.Now()); got != inactivityWarn {
		t.Fatalf("action=%v, want warn", got)
	}

	fc.Advance(24 * time.Second)
	if got := m.Observe(fc.Now()); got != inactivityNone {
		t.Fatalf("action=%v inside window, want none", got)
	}

	fc.Advance(2 * time.Second)
	if got := m.Observe(fc.Now()); got != inactivityFinish {
		t.Fatalf("action=%v after silent window, want finish", got)
	}
}

func TestInactivityMonitor_SecondThresholdSkipsPrompt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClock{now: start}
	m := newInactivityMonitor(2*time.Minute, 25*time.Second, 1, start)

	fc.Advance(2*time.Minute + time.Second)
	if got := m.Observe(fc.Now()); got != inactivityWarn {
		t.Fatalf("action=%v, want warn", got)
	}

	// Recover, then go silent again: the budget is spent, no second prompt.
	fc.Advance(5 * time.Second)
	m.Touch(fc.Now())

	fc.Advance(2*time.Minute + time.Second)
	if got := m.Observe(fc.Now()); got != inactivityFinish {
		t.Fatalf("action=%v on second crossing, want finish", got)
	}
}

func TestInactivityMonitor_TouchDoesNotRefundPrompt(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fc := &fakeClock{now: start}
	m := newInactivityMonitor(time.Minute, 10*time.Second, 1, start)

	fc.Advance(61 * time.Second)
	if got := m.Observe(fc.Now()); got != inactivityWarn {
		t.Fatalf("action=%v, want warn", got)
	}
	m.Touch(fc.Now())
	if m.prompts != 1 {
		t.Fatalf("prompts=%d after recovery, want 1", m.prompts)
	}
}
