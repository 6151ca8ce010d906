package traffic

import (
	"sync"
	"time"
)

// RateLimiter keeps a sliding window of request timestamps per key. Keys are
// arbitrary strings: plain IPs for the public beacon limiter, composite keys
// like "login:1.2.3.4" for the brute-force counters.
//
// The number of tracked keys is capped; crossing the cap triggers a sweep that
// drops keys whose newest timestamp already fell out of the window, so a
// distributed scan cannot grow the map without bound.
type RateLimiter struct {
	clock   Clock
	maxKeys int

	mu   sync.Mutex
	hits map[string][]time.Time
}

func NewRateLimiter(clock Clock, maxKeys int) *RateLimiter {
	if clock == nil {
		clock = SystemClock()
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}
	return &RateLimiter{
		clock:   clock,
		maxKeys: maxKeys,
		hits:    make(map[string][]time.Time),
	}
}

// Allow reports whether another request fits the window. The caller decides
// what a rejection means: the public beacons answer with a soft rate_limited
// flag, they never error.
func (l *RateLimiter) Allow(key string, window time.Duration, max int) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := trimBefore(l.hits[key], now.Add(-window))
	if len(stamps) >= max {
		l.hits[key] = stamps
		return false
	}

	l.hits[key] = append(stamps, now)
	if len(l.hits) > l.maxKeys {
		l.sweepLocked(now, window)
	}
	return true
}

// Observe appends the current time to the key's rolling buffer, drops entries
// older than retention and returns the buffer size. The threat detector uses
// this for its 5-minute per-IP and per-login buffers.
func (l *RateLimiter) Observe(key string, retention time.Duration) int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := append(trimBefore(l.hits[key], now.Add(-retention)), now)
	l.hits[key] = stamps
	if len(l.hits) > l.maxKeys {
		l.sweepLocked(now, retention)
	}
	return len(stamps)
}

// CountSince counts the key's entries inside the window without recording a
// new one.
func (l *RateLimiter) CountSince(key string, window time.Duration) int {
	cutoff := l.clock.Now().Add(-window)

	l.mu.Lock()
	defer l.mu.Unlock()

	count := 0
	for _, ts := range l.hits[key] {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}

// KeyCount returns the number of tracked keys.
func (l *RateLimiter) KeyCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

func (l *RateLimiter) sweepLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	for key, stamps := range l.hits {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[idx:]...)
}
