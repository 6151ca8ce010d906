package traffic

import (
	"sync"
	"time"

	"sentinel/internal/config"
)

// nonRealIdentities never count as users: loopback traffic and the sentinels a
// proxy layer substitutes when no client address is known.
var nonRealIdentities = map[string]struct{}{
	"127.0.0.1": {},
	"::1":       {},
	"localhost": {},
	"unknown":   {},
	"":          {},
}

func isNonReal(key string) bool {
	_, found := nonRealIdentities[key]
	return found
}

// NonRealIdentities returns the placeholder identities, for query exclusion.
func NonRealIdentities() []string {
	out := make([]string, 0, len(nonRealIdentities))
	for key := range nonRealIdentities {
		out = append(out, key)
	}
	return out
}

// HeartbeatTracker records last-seen timestamps per IP and per fingerprint,
// and the separate admin tags that exempt an identity from blocking. Entries
// going stale only makes reads report offline; physical eviction happens during
// the size-capped cleanup, not on read.
type HeartbeatTracker struct {
	clock Clock

	mu        sync.Mutex
	beats     map[string]time.Time
	fpBeats   map[string]time.Time
	adminIPs  map[string]time.Time
	adminFPs  map[string]time.Time
}

func NewHeartbeatTracker(clock Clock) *HeartbeatTracker {
	if clock == nil {
		clock = SystemClock()
	}
	return &HeartbeatTracker{
		clock:    clock,
		beats:    make(map[string]time.Time),
		fpBeats:  make(map[string]time.Time),
		adminIPs: make(map[string]time.Time),
		adminFPs: make(map[string]time.Time),
	}
}

// Touch records a heartbeat for an IP. Non-real identities are ignored.
func (h *HeartbeatTracker) Touch(ip string) {
	if isNonReal(ip) {
		return
	}
	cfg := config.GetConfig()
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats[ip] = now
	if len(h.beats) > cfg.Heartbeat.MaxEntries {
		cleanupOlderThan(h.beats, now.Add(-cfg.HeartbeatCleanupAfter()))
	}
}

// TouchFingerprint records a heartbeat for a device fingerprint.
func (h *HeartbeatTracker) TouchFingerprint(fp string) {
	if fp == "" {
		return
	}
	cfg := config.GetConfig()
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.fpBeats[fp] = now
	if len(h.fpBeats) > cfg.Heartbeat.MaxEntries {
		cleanupOlderThan(h.fpBeats, now.Add(-cfg.HeartbeatCleanupAfter()))
	}
}

// IsOnline reports whether the IP sent a heartbeat inside the online window.
func (h *HeartbeatTracker) IsOnline(ip string) bool {
	cutoff := h.clock.Now().Add(-config.GetConfig().OnlineWindow())

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats[ip].After(cutoff)
}

// IsFingerprintOnline reports whether the fingerprint heartbeat is fresh.
func (h *HeartbeatTracker) IsFingerprintOnline(fp string) bool {
	if fp == "" {
		return false
	}
	cutoff := h.clock.Now().Add(-config.GetConfig().OnlineWindow())

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fpBeats[fp].After(cutoff)
}

// OnlineCount counts IPs with a heartbeat inside the online window.
func (h *HeartbeatTracker) OnlineCount() int {
	cutoff := h.clock.Now().Add(-config.GetConfig().OnlineWindow())

	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for _, seen := range h.beats {
		if seen.After(cutoff) {
			count++
		}
	}
	return count
}

// TagAdmin marks an IP as belonging to a verified administrator.
func (h *HeartbeatTracker) TagAdmin(ip string) {
	if isNonReal(ip) {
		return
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.adminIPs[ip] = now
}

// TagAdminFingerprint marks a fingerprint as belonging to a verified administrator.
func (h *HeartbeatTracker) TagAdminFingerprint(fp string) {
	if fp == "" {
		return
	}
	now := h.clock.Now()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.adminFPs[fp] = now
}

// IsAdmin reports whether the IP carries a fresh admin tag.
func (h *HeartbeatTracker) IsAdmin(ip string) bool {
	cutoff := h.clock.Now().Add(-config.GetConfig().AdminWindow())

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adminIPs[ip].After(cutoff)
}

// IsAdminFingerprint reports whether the fingerprint carries a fresh admin tag.
func (h *HeartbeatTracker) IsAdminFingerprint(fp string) bool {
	if fp == "" {
		return false
	}
	cutoff := h.clock.Now().Add(-config.GetConfig().AdminWindow())

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.adminFPs[fp].After(cutoff)
}

func cleanupOlderThan(entries map[string]time.Time, cutoff time.Time) {
	for key, seen := range entries {
		if !seen.After(cutoff) {
			delete(entries, key)
		}
	}
}
