package traffic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

// Paths never written to the request log.
var unloggedPaths = map[string]struct{}{
	"/docs":         {},
	"/redoc":        {},
	"/openapi.json": {},
	"/health":       {},
}

// Prefixes of the engine's own surface, excluded so beacons and dashboard
// polling don't flood the log. Login stays logged: the brute-force rule
// needs to see it.
var unloggedPrefixes = []string{
	"/admin/traffic",
	"/admin-heartbeat",
	"/visit",
	"/heartbeat",
	"/check-ip",
	"/register-fingerprint",
}

// Observation is the per-request signal bundle handed to the engine after the
// response went out.
type Observation struct {
	IP              string
	Method          string
	Path            string
	StatusCode      int
	UserAgent       string
	FingerprintHash string
	ResponseTimeMS  int
}

// Stats is the dashboard summary.
type Stats struct {
	RequestsToday   int64 `json:"requests_today"`
	OnlineIPs       int   `json:"online_ips"`
	SuspiciousToday int64 `json:"suspicious_today"`
	BlockedTotal    int64 `json:"blocked_total"`
}

// Engine wires the admission sets, heartbeats, detection rules, fingerprint
// matching and geo resolution into one front door. Admission decisions read
// only in-memory state; everything that touches the store runs on the worker
// pool after the response.
type Engine struct {
	clock       Clock
	store       Store
	hearts      *HeartbeatTracker
	registry    *BlockRegistry
	detector    *ThreatDetector
	matcher     *Matcher
	resolver    *GeoResolver
	publicRates *RateLimiter
	pool        *WorkerPool
}

func NewEngine(store Store, provider GeoProvider, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	maxKeys := config.GetConfig().Limits.MaxRateKeys

	eng := &Engine{
		clock:       clock,
		store:       store,
		hearts:      NewHeartbeatTracker(clock),
		publicRates: NewRateLimiter(clock, maxKeys),
		resolver:    NewGeoResolver(store, provider),
		pool:        NewWorkerPool(4, 1024),
	}
	eng.detector = NewThreatDetector(clock, NewRateLimiter(clock, maxKeys), eng.hearts)
	eng.registry = NewBlockRegistry(store, eng.hearts, eng.blockDetails)
	eng.matcher = NewMatcher(eng.registry)
	return eng
}

// Hydrate loads the blocked sets. Call once before serving.
func (e *Engine) Hydrate(ctx context.Context) error {
	return e.registry.Hydrate(ctx)
}

// Refresh re-reads the blocked sets from the store, picking up blocks issued
// by other instances.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.registry.Hydrate(ctx)
}

// Close drains the worker pool.
func (e *Engine) Close() {
	e.pool.Close()
}

// Admit is the hot-path gate: pure in-memory lookups against the blocked IP,
// device and hardware sets.
func (e *Engine) Admit(ip, fpHash, hwHash string) bool {
	if e.registry.IsBlocked(ip) {
		return false
	}
	if e.registry.IsDeviceBlocked(fpHash) {
		return false
	}
	if e.registry.IsHardwareBlocked(hwHash) {
		return false
	}
	return true
}

// PublicAllow applies the beacon rate limit for one address.
func (e *Engine) PublicAllow(ip string) bool {
	cfg := config.GetConfig()
	return e.publicRates.Allow(ip, cfg.PublicRateWindow(), cfg.PublicRate.MaxRequests)
}

// Heartbeat refreshes the online state of an IP and, optionally, a fingerprint.
func (e *Engine) Heartbeat(ip, fpHash string) {
	e.hearts.Touch(ip)
	if fpHash != "" {
		e.hearts.TouchFingerprint(fpHash)
	}
}

// AdminHeartbeat refreshes online state and tags both identities as admin,
// exempting them from detection and blocking while the tag is fresh.
func (e *Engine) AdminHeartbeat(ip, fpHash string) {
	e.Heartbeat(ip, fpHash)
	e.hearts.TagAdmin(ip)
	if fpHash != "" {
		e.hearts.TagAdminFingerprint(fpHash)
	}
}

func (e *Engine) OnlineCount() int                   { return e.hearts.OnlineCount() }
func (e *Engine) IsOnline(ip string) bool            { return e.hearts.IsOnline(ip) }
func (e *Engine) IsFingerprintOnline(fp string) bool { return e.hearts.IsFingerprintOnline(fp) }
func (e *Engine) IsAdminIP(ip string) bool           { return e.hearts.IsAdmin(ip) }
func (e *Engine) IsAdminFingerprint(fp string) bool  { return e.hearts.IsAdminFingerprint(fp) }

// CachedGeo exposes the resolver's in-process cache for dashboard reads.
func (e *Engine) CachedGeo(ip string) (GeoInfo, bool) { return e.resolver.CachedGeo(ip) }

// ResolveGeo resolves an address, consulting caches and the provider.
func (e *Engine) ResolveGeo(ctx context.Context, ip string) GeoInfo {
	return e.resolver.Resolve(ctx, ip)
}

// ShouldLog excludes the engine's own endpoints and documentation paths from
// the request log.
func (e *Engine) ShouldLog(path string) bool {
	if query := strings.IndexByte(path, '?'); query >= 0 {
		path = path[:query]
	}
	if _, skip := unloggedPaths[path]; skip {
		return false
	}
	for _, prefix := range unloggedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

// ObserveRequest queues the post-response work for a request: heartbeats, geo
// resolution, logging, detection and auto-blocking. Returns false when the
// queue was full and the observation was dropped.
func (e *Engine) ObserveRequest(obs Observation) bool {
	return e.pool.Submit("observe", func() {
		e.observe(context.Background(), obs)
	})
}

func (e *Engine) observe(ctx context.Context, obs Observation) {
	if isNonReal(obs.IP) {
		return
	}
	// The user agent column is varchar(500); oversized values would fail
	// the insert and drop the row.
	if len(obs.UserAgent) > 500 {
		obs.UserAgent = obs.UserAgent[:500]
	}
	now := e.clock.Now()

	e.hearts.Touch(obs.IP)
	if obs.FingerprintHash != "" {
		e.hearts.TouchFingerprint(obs.FingerprintHash)
	}

	geo := e.resolver.Resolve(ctx, obs.IP)

	if e.ShouldLog(obs.Path) {
		row := domain.TrafficLog{
			IP:              obs.IP,
			Method:          obs.Method,
			Path:            obs.Path,
			StatusCode:      obs.StatusCode,
			UserAgent:       obs.UserAgent,
			Country:         geo.Country,
			City:            geo.City,
			IsVPN:           geo.IsVPN,
			VPNProvider:     geo.Provider,
			ResponseTimeMS:  obs.ResponseTimeMS,
			FingerprintHash: obs.FingerprintHash,
		}
		if err := e.store.InsertTrafficLog(ctx, row); err != nil {
			log.Debug("Failed to insert traffic log", "ip", obs.IP, "error", err)
		}
	}

	events := e.detector.Evaluate(obs.IP, obs.Method, obs.Path, obs.UserAgent, now)
	for _, evt := range events {
		if err := e.store.InsertSuspiciousEvent(ctx, evt); err != nil {
			log.Debug("Failed to insert suspicious event", "ip", obs.IP, "error", err)
		}
		if evt.AutoBlocked && !e.registry.IsBlocked(obs.IP) {
			reason := fmt.Sprintf("auto: %s", evt.Event)
			if err := e.registry.BlockIP(ctx, obs.IP, reason, BlockedBySystem); err != nil {
				log.Warn("Auto-block failed", "ip", obs.IP, "event", evt.Event, "error", err)
			}
		}
	}
}

// RegisterFingerprint records a device sighting and reports whether the device
// is blocked. A hardware or fuzzy match against a blocked device propagates
// the block to the new hash and the presenting IP.
func (e *Engine) RegisterFingerprint(ctx context.Context, ip, fpHash string, comps domain.FingerprintComponents) (bool, error) {
	if fpHash == "" {
		return false, nil
	}

	match := e.matcher.Check(fpHash, comps)
	switch match.Kind {
	case MatchExact:
		return true, nil

	case MatchHardware, MatchFuzzy:
		var reason string
		if match.Kind == MatchHardware {
			reason = fmt.Sprintf("auto: hardware match (%s)", shortHash(match.MatchedHash))
		} else {
			reason = fmt.Sprintf("auto: fuzzy match (%d%%) with %s", match.Score, shortHash(match.MatchedHash))
		}
		if err := e.registry.BlockDevice(ctx, fpHash, reason, BlockedBySystem, comps); err != nil {
			log.Warn("Failed to propagate device block", "fingerprint", shortHash(fpHash), "error", err)
		}
		if ip != "" && !isNonReal(ip) && !e.hearts.IsAdmin(ip) {
			if err := e.registry.BlockIP(ctx, ip, reason, BlockedBySystem); err != nil {
				log.Warn("Failed to block matched device IP", "ip", ip, "error", err)
			}
		}
		return true, nil
	}

	if err := e.registry.RecordFingerprint(ctx, ip, fpHash, comps); err != nil {
		return false, err
	}
	return false, nil
}

// TrackVisit records a page view in the request log.
func (e *Engine) TrackVisit(ip, page, userAgent, fpHash string) bool {
	return e.ObserveRequest(Observation{
		IP:              ip,
		Method:          "PAGE",
		Path:            page,
		StatusCode:      200,
		UserAgent:       userAgent,
		FingerprintHash: fpHash,
	})
}

// Administrative passthroughs.

func (e *Engine) BlockIP(ctx context.Context, ip, reason string) error {
	return e.registry.BlockIP(ctx, ip, reason, BlockedByAdmin)
}

func (e *Engine) UnblockIP(ctx context.Context, ip string) error {
	return e.registry.UnblockIP(ctx, ip)
}

func (e *Engine) BlockDevice(ctx context.Context, fpHash, reason string, comps domain.FingerprintComponents) error {
	return e.registry.BlockDevice(ctx, fpHash, reason, BlockedByAdmin, comps)
}

func (e *Engine) UnblockDevice(ctx context.Context, fpHash string) error {
	return e.registry.UnblockDevice(ctx, fpHash)
}

func (e *Engine) UpdateDeviceReason(ctx context.Context, fpHash, reason string) error {
	err := e.store.UpdateBlockedDeviceReason(ctx, fpHash, reason)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistenceUnavailable, err)
}

// Stats summarizes the day so far, in UTC.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	now := e.clock.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	requests, err := e.store.CountTrafficLogsSince(ctx, dayStart)
	if err != nil {
		return Stats{}, fmt.Errorf("count traffic logs: %w", err)
	}
	suspicious, err := e.store.CountSuspiciousEventsSince(ctx, dayStart)
	if err != nil {
		return Stats{}, fmt.Errorf("count suspicious events: %w", err)
	}
	blocked, err := e.store.CountBlockedIPs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count blocked ips: %w", err)
	}

	return Stats{
		RequestsToday:   requests,
		OnlineIPs:       e.hearts.OnlineCount(),
		SuspiciousToday: suspicious,
		BlockedTotal:    blocked,
	}, nil
}

func (e *Engine) blockDetails(ip string) IPBlockDetails {
	details := IPBlockDetails{
		RequestCount: e.detector.Rates().CountSince(ip, detectorRetention),
	}
	if geo, found := e.resolver.CachedGeo(ip); found {
		details.Country = geo.Country
		details.IsVPN = geo.IsVPN
	}
	return details
}
