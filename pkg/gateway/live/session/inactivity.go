package session

import "time"

type inactivityAction int

const (
	inactivityNone inactivityAction = iota
	inactivityWarn
	inactivityFinish
)

// inactivityMonitor is a two-stage state machine over candidate activity.
// The loop polls Observe on a fixed cadence; all elapsed-time decisions are
// made against the caller's clock, never a wall timer.
//
// Active: elapsed past the threshold spends one warning from the budget and
// opens the response window. Warning: any interaction returns to Active; a
// silent window, or a threshold crossing with the budget spent, times the
// session out.
type inactivityMonitor struct {
	threshold time.Duration
	window    time.Duration
	budget    int

	prompts      int
	warning      bool
	lastActivity time.Time
	warnedAt     time.Time
}

func newInactivityMonitor(threshold, window time.Duration, budget int, start time.Time) *inactivityMonitor {
	return &inactivityMonitor{
		threshold:    threshold,
		window:       window,
		budget:       budget,
		lastActivity: start,
	}
}

// Touch records an interaction. Answering during the response window clears
// the warning but does not refund the spent prompt.
func (m *inactivityMonitor) Touch(now time.Time) {
	m.lastActivity = now
	m.warning = false
}

func (m *inactivityMonitor) Warning() bool {
	return m.warning
}

func (m *inactivityMonitor) Observe(now time.Time) inactivityAction {
	if m.warning {
		if now.Sub(m.warnedAt) >= m.window {
			return inactivityFinish
		}
		return inactivityNone
	}
	if now.Sub(m.lastActivity) < m.threshold {
		return inactivityNone
	}
	if m.prompts >= m.budget {
		return inactivityFinish
	}
	m.prompts++
	m.warning = true
	m.warnedAt = now
	return inactivityWarn
}
