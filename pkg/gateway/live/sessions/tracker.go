// Package sessions tracks the live interview sessions of one gateway process
// so shutdown can warn, wait for, and finally cancel them.
package sessions

import (
	"context"
	"sync"
)

// Handle is what the tracker can do to a live interview: ask it to stop, or
// push a warning frame to its candidate.
type Handle struct {
	Cancel func()
	Warn   func(code, message string) error
}

type Tracker struct {
	mu   sync.Mutex
	live map[string]*tracked
	wg   sync.WaitGroup
}

type tracked struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[string]*tracked)}
}

// Register adds a session under its id and returns the matching unregister.
// Re-registering an id evicts the previous entry, releasing its Wait slot.
func (t *Tracker) Register(sessionID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}

	entry := &tracked{handle: h}

	t.mu.Lock()
	if t.live == nil {
		t.live = make(map[string]*tracked)
	}
	prev := t.live[sessionID]
	t.live[sessionID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if prev != nil {
		t.release(sessionID, prev)
	}
	return func() { t.release(sessionID, entry) }
}

func (t *Tracker) release(sessionID string, entry *tracked) {
	if t == nil || entry == nil {
		return
	}
	entry.once.Do(func() {
		t.mu.Lock()
		if t.live != nil && t.live[sessionID] == entry {
			delete(t.live, sessionID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// WarnAll pushes a warning to every live session, best-effort. Warn callbacks
// run outside the tracker lock.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}

	var warns []func(code, message string) error
	t.mu.Lock()
	for _, entry := range t.live {
		if entry == nil || entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	t.mu.Unlock()

	for _, warn := range warns {
		_ = warn(code, message)
		sent++
	}
	return sent
}

// CancelAll asks every live session to stop.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}

	var cancels []func()
	t.mu.Lock()
	for _, entry := range t.live {
		if entry == nil || entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	t.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered, or the context
// ends. It reports whether the tracker fully drained.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
