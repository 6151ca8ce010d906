package traffic

import (
	"fmt"
	"strings"
	"time"

	"sentinel/internal/config"
	"sentinel/internal/domain"
)

const detectorRetention = 5 * time.Minute

// Tokens that betray common scanners and attack tools in a User-Agent.
var scannerSignatures = []string{
	"nmap", "nikto", "sqlmap", "dirbuster", "gobuster",
	"wpscan", "masscan", "zmap", "shodan", "censys",
	"nuclei", "ffuf", "feroxbuster", "burpsuite", "hydra",
	"metasploit", "openvas", "nessus", "qualys", "acunetix",
}

var sqlSignatures = []string{
	"' or ", "' and ", "union select", "drop table",
	"insert into", "delete from", "1=1", "' or '1'='1",
	"char(", "concat(", "benchmark(", "sleep(",
	"waitfor delay", "pg_sleep", "load_file", "0x",
}

var traversalSignatures = []string{"../", `..\`, "%2e%2e", "%252e"}

var authPathHints = []string{"/login", "/auth/", "/signin", "/send-code", "/verify"}

// AdminChecker answers whether an identity currently carries an admin tag.
type AdminChecker interface {
	IsAdmin(ip string) bool
}

// ThreatDetector evaluates a single request's signals against the attack
// signatures and rate thresholds. It owns its rolling 5-minute buffers (per IP
// and per login key), separate from the public beacon limiter.
type ThreatDetector struct {
	clock  Clock
	rates  *RateLimiter
	admins AdminChecker
}

func NewThreatDetector(clock Clock, rates *RateLimiter, admins AdminChecker) *ThreatDetector {
	if clock == nil {
		clock = SystemClock()
	}
	if rates == nil {
		rates = NewRateLimiter(clock, config.GetConfig().Limits.MaxRateKeys)
	}
	return &ThreatDetector{clock: clock, rates: rates, admins: admins}
}

// Rates exposes the detector's buffers so block records can snapshot the
// request count at block time.
func (d *ThreatDetector) Rates() *RateLimiter {
	return d.rates
}

// Evaluate runs every rule against the request and returns the events that
// fired. A single request can trigger several rules. Admin-tagged IPs are
// exempt entirely: no events, not even silently logged ones.
func (d *ThreatDetector) Evaluate(ip, method, path, userAgent string, now time.Time) []domain.SuspiciousEvent {
	if d.admins != nil && d.admins.IsAdmin(ip) {
		return nil
	}

	cfg := config.GetConfig()
	var events []domain.SuspiciousEvent

	// 1. Request rate over the last window, from the rolling 5-minute buffer.
	d.rates.Observe(ip, detectorRetention)
	recent := d.rates.CountSince(ip, cfg.RateWindow())
	if recent > cfg.Detection.RateSuspicious {
		events = append(events, domain.SuspiciousEvent{
			IP:          ip,
			Event:       "rate_limit",
			Severity:    domain.SeverityHigh,
			Details:     fmt.Sprintf("%d requests in %ds (limit: %d)", recent, cfg.Detection.RateWindowSeconds, cfg.Detection.RateSuspicious),
			Path:        path,
			AutoBlocked: recent > cfg.Detection.RateAutoBlock,
		})
	}

	// 2. Known scanner tooling in the User-Agent.
	uaLower := strings.ToLower(userAgent)
	for _, token := range scannerSignatures {
		if strings.Contains(uaLower, token) {
			events = append(events, domain.SuspiciousEvent{
				IP:          ip,
				Event:       "scanner",
				Severity:    domain.SeverityHigh,
				Details:     fmt.Sprintf("scanner detected: %s", token),
				Path:        path,
				AutoBlocked: true,
			})
			break
		}
	}

	// 3. SQL injection patterns in path or User-Agent.
	checkStr := strings.ToLower(path) + " " + uaLower
	for _, pattern := range sqlSignatures {
		if strings.Contains(checkStr, pattern) {
			events = append(events, domain.SuspiciousEvent{
				IP:          ip,
				Event:       "sql_injection",
				Severity:    domain.SeverityCritical,
				Details:     fmt.Sprintf("sql injection pattern detected: %s", pattern),
				Path:        path,
				AutoBlocked: true,
			})
			break
		}
	}

	// 4. Path traversal attempts.
	pathLower := strings.ToLower(path)
	for _, pattern := range traversalSignatures {
		if strings.Contains(pathLower, pattern) {
			events = append(events, domain.SuspiciousEvent{
				IP:          ip,
				Event:       "path_traversal",
				Severity:    domain.SeverityCritical,
				Details:     fmt.Sprintf("path traversal attempt: %s", pattern),
				Path:        path,
				AutoBlocked: true,
			})
			break
		}
	}

	// 5. Brute force: repeated POSTs against auth endpoints.
	if method == "POST" && isAuthPath(path) {
		attempts := d.rates.Observe("login:"+ip, cfg.BruteForceWindow())
		if attempts > cfg.Detection.BruteForceMax {
			events = append(events, domain.SuspiciousEvent{
				IP:          ip,
				Event:       "brute_force",
				Severity:    domain.SeverityCritical,
				Details:     fmt.Sprintf("%d login attempts in %d minutes", attempts, cfg.Detection.BruteForceWindowSeconds/60),
				Path:        path,
				AutoBlocked: true,
			})
		}
	}

	return events
}

func isAuthPath(path string) bool {
	for _, hint := range authPathHints {
		if strings.Contains(path, hint) {
			return true
		}
	}
	return false
}
