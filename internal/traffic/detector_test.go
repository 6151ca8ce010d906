package traffic

import (
	"testing"
	"time"
)

func newTestDetector(clock Clock, admins AdminChecker) *ThreatDetector {
	return NewThreatDetector(clock, NewRateLimiter(clock, 1000), admins)
}

func TestDetectorScannerUserAgent(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	events := detector.Evaluate("1.2.3.4", "GET", "/", "sqlmap/1.7.2", clock.Now())
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Event != "scanner" || !evt.AutoBlocked {
		t.Fatalf("event = %+v, want auto-blocked scanner", evt)
	}
}

func TestDetectorSQLInjectionInPath(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	events := detector.Evaluate("1.2.3.4", "GET", "/items?id=1' OR '1'='1", "Mozilla/5.0", clock.Now())

	var found bool
	for _, evt := range events {
		if evt.Event == "sql_injection" {
			found = true
			if evt.Severity != "critical" || !evt.AutoBlocked {
				t.Fatalf("event = %+v, want critical auto-blocked", evt)
			}
		}
	}
	if !found {
		t.Fatal("expected a sql_injection event")
	}
}

func TestDetectorPathTraversal(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	events := detector.Evaluate("1.2.3.4", "GET", "/files/../../etc/passwd", "Mozilla/5.0", clock.Now())

	var found bool
	for _, evt := range events {
		if evt.Event == "path_traversal" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a path_traversal event")
	}
}

func TestDetectorBruteForce(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	for i := 0; i < 10; i++ {
		events := detector.Evaluate("1.2.3.4", "POST", "/auth/send-code", "Mozilla/5.0", clock.Now())
		for _, evt := range events {
			if evt.Event == "brute_force" {
				t.Fatalf("attempt %d fired brute_force too early", i+1)
			}
		}
		clock.Advance(time.Second)
	}

	events := detector.Evaluate("1.2.3.4", "POST", "/auth/send-code", "Mozilla/5.0", clock.Now())
	var found bool
	for _, evt := range events {
		if evt.Event == "brute_force" {
			found = true
			if !evt.AutoBlocked {
				t.Fatal("brute_force must carry auto-block")
			}
		}
	}
	if !found {
		t.Fatal("attempt 11 should have fired brute_force")
	}
}

func TestDetectorBruteForceIgnoresGET(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	for i := 0; i < 20; i++ {
		events := detector.Evaluate("1.2.3.4", "GET", "/login", "Mozilla/5.0", clock.Now())
		for _, evt := range events {
			if evt.Event == "brute_force" {
				t.Fatal("GET requests must not count as login attempts")
			}
		}
	}
}

func TestDetectorRateThresholds(t *testing.T) {
	clock := newFakeClock()
	detector := newTestDetector(clock, nil)

	var sawSuspicious, sawAutoBlock bool
	for i := 0; i < 205; i++ {
		events := detector.Evaluate("1.2.3.4", "GET", "/", "Mozilla/5.0", clock.Now())
		for _, evt := range events {
			if evt.Event != "rate_limit" {
				continue
			}
			sawSuspicious = true
			if evt.AutoBlocked {
				sawAutoBlock = true
			}
		}
	}
	if !sawSuspicious {
		t.Fatal("rate rule never fired over 205 requests")
	}
	if !sawAutoBlock {
		t.Fatal("rate rule never escalated to auto-block over 205 requests")
	}
}

func TestDetectorAdminExempt(t *testing.T) {
	clock := newFakeClock()
	admins := staticAdmins{ips: map[string]bool{"9.9.9.9": true}}
	detector := newTestDetector(clock, admins)

	events := detector.Evaluate("9.9.9.9", "GET", "/../../etc/passwd", "sqlmap/1.7.2", clock.Now())
	if len(events) != 0 {
		t.Fatalf("admin IP produced %d events, want none", len(events))
	}
}
