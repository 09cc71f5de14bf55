// Package lifecycle holds the process lifecycle state shared across handlers.
package lifecycle

import "sync/atomic"

// Lifecycle flips to draining during graceful shutdown so readiness probes
// fail and new interview sessions are refused while live ones wind down.
type Lifecycle struct {
	draining atomic.Bool
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}
