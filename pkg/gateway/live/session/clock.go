package session

import "time"

// SessionClock tracks the absolute session deadline. The deadline is armed
// once at construction; wall timers only wake the loop, every decision is made
// against the injected clock.
type SessionClock struct {
	startedAt time.Time
	total     time.Duration
	now       func() time.Time
}

func NewSessionClock(startedAt time.Time, total time.Duration, now func() time.Time) *SessionClock {
	if now == nil {
		now = time.Now
	}
	return &SessionClock{startedAt: startedAt, total: total, now: now}
}

func (c *SessionClock) ElapsedMS() int64 {
	return c.now().Sub(c.startedAt).Milliseconds()
}

// Remaining is floored at zero once the deadline passes.
func (c *SessionClock) Remaining() time.Duration {
	remaining := c.total - c.now().Sub(c.startedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (c *SessionClock) Expired() bool {
	return c.Remaining() <= 0
}
