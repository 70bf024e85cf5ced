package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Eviction policy for idle clients. A visitor that has not hit a credential
// endpoint for idleTTL is forgotten; the sweep runs often enough that the map
// stays proportional to the set of recently active clients, not to everyone
// who ever tried to log in.
const (
	idleTTL       = 10 * time.Minute
	sweepInterval = time.Minute
)

// visitor tracks the token balance for one rate-limit key.
type visitor struct {
	balance  float64
	lastSeen time.Time
}

// take refills the balance for the time elapsed since the last request, then
// tries to spend one token. It reports whether the request may proceed.
func (v *visitor) take(now time.Time, perSecond, cap float64) bool {
	v.balance += now.Sub(v.lastSeen).Seconds() * perSecond
	if v.balance > cap {
		v.balance = cap
	}
	v.lastSeen = now

	if v.balance < 1 {
		return false
	}
	v.balance--
	return true
}

// MemoryLimiter is a per-key token bucket held in process memory. It shields
// the login and signup endpoints from brute forcing in single-instance
// deployments; a multi-instance deployment would substitute a shared Limiter
// behind the same interface.
type MemoryLimiter struct {
	perSecond float64
	burst     int

	mu       sync.Mutex
	visitors map[string]*visitor

	closeOnce sync.Once
	done      chan struct{}
}

// NewMemoryLimiter builds a limiter allowing perSecond sustained requests per
// key with bursts up to burst. These map to SAKSFLYT_RATE_LIMIT_RPS and
// SAKSFLYT_RATE_LIMIT_BURST. Call Close to stop the idle-eviction sweep.
func NewMemoryLimiter(perSecond float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		perSecond: perSecond,
		burst:     burst,
		visitors:  make(map[string]*visitor),
		done:      make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

// Allow spends one token for key, reporting false when the key is over its
// budget. A key's first request starts from a full bucket.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	v, ok := m.visitors[key]
	if !ok {
		m.visitors[key] = &visitor{balance: float64(m.burst) - 1, lastSeen: now}
		return true, nil
	}
	return v.take(now, m.perSecond, float64(m.burst)), nil
}

// Close stops the eviction sweep. Safe to call more than once.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictIdle(time.Now().Add(-idleTTL))
		}
	}
}

func (m *MemoryLimiter) evictIdle(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, v := range m.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(m.visitors, key)
		}
	}
}
