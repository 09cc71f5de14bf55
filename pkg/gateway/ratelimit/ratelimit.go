// Package ratelimit gates interview session admission. Limits are in-memory
// and single-process: a token bucket per principal for session starts, plus a
// process-wide cap on concurrently running sessions.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	// New sessions per minute per principal. 0 disables the rate check.
	StartsPerMinute float64
	Burst           int

	// Process-wide cap on live sessions. 0 disables the cap.
	MaxConcurrentSessions int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	sessionSem chan struct{}

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	mu sync.Mutex

	tb tokenBucket

	lastSeen time.Time
}

type tokenBucket struct {
	rps      float64
	capacity float64

	tokens float64
	last   time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	l := &Limiter{
		cfg: cfg,
		m:   make(map[string]*principalLimiter),
	}
	if cfg.MaxConcurrentSessions > 0 {
		l.sessionSem = make(chan struct{}, cfg.MaxConcurrentSessions)
	}
	return l
}

func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	// 16 bytes => 32 hex chars; enough to avoid collisions in practice.
	return "k_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int
	Permit     *Permit
}

// AcquireSession decides whether a new interview may start for the principal.
// On success the caller must Release the permit when the session finishes.
func (l *Limiter) AcquireSession(principal string, now time.Time) Decision {
	if principal == "" {
		principal = "anonymous"
	}

	if l.cfg.StartsPerMinute > 0 && l.cfg.Burst > 0 {
		pl := l.getOrCreate(principal, now)
		pl.touch(now)
		ok, retryAfter := pl.allowToken(now, l.cfg.StartsPerMinute/60.0, l.cfg.Burst)
		if !ok {
			return Decision{Allowed: false, RetryAfter: retryAfter}
		}
	}

	if l.sessionSem != nil {
		select {
		case l.sessionSem <- struct{}{}:
			return Decision{
				Allowed: true,
				Permit:  &Permit{release: func() { <-l.sessionSem }},
			}
		default:
			return Decision{Allowed: false, RetryAfter: 30}
		}
	}

	return Decision{Allowed: true, Permit: &Permit{release: func() {}}}
}

func (l *Limiter) getOrCreate(principal string, now time.Time) *principalLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.m) >= l.cfg.MaxEntries {
		l.gcLocked(now)
		// If still too big, drop one arbitrary entry (bounded memory > perfect fairness).
		if len(l.m) >= l.cfg.MaxEntries {
			for k := range l.m {
				delete(l.m, k)
				break
			}
		}
	}

	pl, ok := l.m[principal]
	if !ok {
		pl = &principalLimiter{lastSeen: now}
		l.m[principal] = pl
	}
	return pl
}

func (l *Limiter) gcLocked(now time.Time) {
	cutoff := now.Add(-l.cfg.EntryTTL)
	for k, pl := range l.m {
		pl.mu.Lock()
		stale := pl.lastSeen.Before(cutoff)
		pl.mu.Unlock()
		if stale {
			delete(l.m, k)
		}
	}
}

func (pl *principalLimiter) touch(now time.Time) {
	pl.mu.Lock()
	pl.lastSeen = now
	pl.mu.Unlock()
}

func (pl *principalLimiter) allowToken(now time.Time, rps float64, burst int) (bool, int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	tb := &pl.tb
	if tb.last.IsZero() {
		tb.rps = rps
		tb.capacity = float64(burst)
		tb.tokens = tb.capacity
		tb.last = now
	}
	// Config changes apply lazily per principal.
	tb.rps = rps
	tb.capacity = float64(burst)

	elapsed := now.Sub(tb.last).Seconds()
	if elapsed > 0 {
		tb.tokens = math.Min(tb.capacity, tb.tokens+elapsed*tb.rps)
		tb.last = now
	}

	if tb.tokens >= 1 {
		tb.tokens -= 1
		return true, 0
	}

	need := 1 - tb.tokens
	wait := need / tb.rps
	retryAfter := int(math.Ceil(wait))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return false, retryAfter
}
