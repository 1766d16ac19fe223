// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Plateful Contributors

package httpapi

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Throttling configuration.
const (
	// lockoutDuration is the time a client is locked out after too many failures.
	lockoutDuration = 15 * time.Minute

	// lockoutThreshold is the number of failures that triggers a lockout.
	lockoutThreshold = 7

	// maxDelay caps the progressive delay before lockout kicks in.
	maxDelay = 32 * time.Second

	// idleExpiry is how long an entry without activity is kept.
	idleExpiry = 30 * time.Minute
)

// throttleEntry tracks the failure state of one client address.
type throttleEntry struct {
	failures    int
	notBefore   time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

// Throttle applies per-address progressive delays to credential endpoints.
// Failures back off exponentially (1s, 2s, 4s... capped at 32s); at the
// lockout threshold the address is blocked outright for lockoutDuration.
// A successful attempt clears the address.
type Throttle struct {
	mu      sync.Mutex
	entries map[string]*throttleEntry
	now     func() time.Time
}

// NewThrottle creates an empty throttle.
func NewThrottle() *Throttle {
	return &Throttle{
		entries: make(map[string]*throttleEntry),
		now:     time.Now,
	}
}

// check returns how long the address must still wait, or zero if the
// attempt may proceed.
func (t *Throttle) check(addr string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[addr]
	if !ok {
		return 0
	}

	now := t.now()
	e.lastSeen = now
	if e.lockedUntil.After(now) {
		return e.lockedUntil.Sub(now)
	}
	if e.notBefore.After(now) {
		return e.notBefore.Sub(now)
	}
	return 0
}

// RecordFailure registers a failed attempt for the address.
func (t *Throttle) RecordFailure(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	e, ok := t.entries[addr]
	if !ok {
		e = &throttleEntry{}
		t.entries[addr] = e
	}
	e.failures++
	e.lastSeen = now

	if e.failures >= lockoutThreshold {
		e.lockedUntil = now.Add(lockoutDuration)
		return
	}

	// Progressive delay: 2^(failures-1) seconds, capped.
	delay := time.Duration(1<<(e.failures-1)) * time.Second
	if delay > maxDelay {
		delay = maxDelay
	}
	e.notBefore = now.Add(delay)
}

// RecordSuccess clears the failure state for the address.
func (t *Throttle) RecordSuccess(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, addr)
}

// pruneLocked drops entries idle past expiry. Caller holds the mutex.
func (t *Throttle) pruneLocked(now time.Time) {
	for addr, e := range t.entries {
		if now.Sub(e.lastSeen) > idleExpiry && !e.lockedUntil.After(now) {
			delete(t.entries, addr)
		}
	}
}

// Middleware rejects throttled clients with 429 before the handler runs.
func (t *Throttle) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		wait := t.check(c.ClientIP())
		if wait <= 0 {
			c.Next()
			return
		}

		seconds := int(wait.Round(time.Second).Seconds())
		if seconds < 1 {
			seconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{
			Error: apiError{Code: "RATE_LIMITED", Message: "too many attempts, try again later"},
		})
	}
}
