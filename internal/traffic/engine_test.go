package traffic

import (
	"context"
	"strings"
	"testing"
	"time"

	"sentinel/internal/domain"
)

func newTestEngine(t *testing.T) (*Engine, *fakeStore, *fakeClock) {
	t.Helper()
	store := newFakeStore()
	clock := newFakeClock()
	engine := NewEngine(store, &stubProvider{info: GeoInfo{Country: "Germany"}}, clock)
	t.Cleanup(engine.Close)
	return engine, store, clock
}

func TestEngineAutoBlocksScanner(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	engine.observe(ctx, Observation{
		IP: "1.2.3.4", Method: "GET", Path: "/", StatusCode: 200,
		UserAgent: "Nikto/2.5.0",
	})

	if engine.Admit("1.2.3.4", "", "") {
		t.Fatal("scanner IP should be blocked after one observation")
	}
	rec, found := store.blockedIPs["1.2.3.4"]
	if !found {
		t.Fatal("block record should be persisted")
	}
	if rec.BlockedBy != BlockedBySystem || !strings.HasPrefix(rec.Reason, "auto:") {
		t.Fatalf("record = %+v, want a system auto-block", rec)
	}
}

func TestEngineTruncatesLongUserAgent(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	engine.observe(context.Background(), Observation{
		IP: "9.9.9.9", Method: "GET", Path: "/page", StatusCode: 200,
		UserAgent: strings.Repeat("a", 600),
	})

	if len(store.trafficLogs) != 1 {
		t.Fatalf("logs = %d, want 1", len(store.trafficLogs))
	}
	if got := len(store.trafficLogs[0].UserAgent); got != 500 {
		t.Fatalf("stored user agent length = %d, want 500", got)
	}
}

func TestEngineBruteForceEndToEnd(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		engine.observe(ctx, Observation{
			IP: "5.6.7.8", Method: "POST", Path: "/auth/send-code", StatusCode: 401,
			UserAgent: "Mozilla/5.0",
		})
		if !engine.Admit("5.6.7.8", "", "") {
			t.Fatalf("attempt %d blocked too early", i+1)
		}
		clock.Advance(time.Second)
	}

	engine.observe(ctx, Observation{
		IP: "5.6.7.8", Method: "POST", Path: "/auth/send-code", StatusCode: 401,
		UserAgent: "Mozilla/5.0",
	})
	if engine.Admit("5.6.7.8", "", "") {
		t.Fatal("attempt 11 should have triggered the brute-force auto-block")
	}
}

func TestEngineAdminExemptFromAutoBlock(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.AdminHeartbeat("9.9.9.9", "admin-fp")

	engine.observe(ctx, Observation{
		IP: "9.9.9.9", Method: "GET", Path: "/", UserAgent: "sqlmap/1.7.2",
	})
	if !engine.Admit("9.9.9.9", "", "") {
		t.Fatal("admin-tagged IP must never be auto-blocked")
	}

	if err := engine.BlockIP(ctx, "9.9.9.9", "manual"); err == nil {
		t.Fatal("manual block of an admin IP should fail")
	}
}

func TestEngineRegisterFingerprintLifecycle(t *testing.T) {
	engine, store, _ := newTestEngine(t)
	ctx := context.Background()

	comps := sampleComponents()
	blocked, err := engine.RegisterFingerprint(ctx, "1.2.3.4", "fp-1", comps)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if blocked {
		t.Fatal("unknown fingerprint must not be blocked")
	}
	if _, found := store.fingerprints["fp-1"]; !found {
		t.Fatal("fingerprint observation should be persisted")
	}

	if err := engine.BlockDevice(ctx, "fp-1", "abuse", comps); err != nil {
		t.Fatalf("block device: %v", err)
	}

	// Same hardware, new browser hash: the block follows the machine.
	rehashed := domain.FingerprintComponents{HardwareHash: comps.HardwareHash}
	blocked, err = engine.RegisterFingerprint(ctx, "5.6.7.8", "fp-2", rehashed)
	if err != nil {
		t.Fatalf("register rehashed: %v", err)
	}
	if !blocked {
		t.Fatal("hardware match should report blocked")
	}
	if engine.Admit("5.6.7.8", "", "") {
		t.Fatal("the presenting IP should be blocked with the matched device")
	}
	if engine.Admit("203.0.113.1", "fp-2", "") {
		t.Fatal("the new hash should be added to the blocked device set")
	}
}

func TestEnginePublicAllowBudget(t *testing.T) {
	engine, _, clock := newTestEngine(t)

	for i := 0; i < 40; i++ {
		if !engine.PublicAllow("1.2.3.4") {
			t.Fatalf("beacon %d rejected inside the budget", i+1)
		}
	}
	if engine.PublicAllow("1.2.3.4") {
		t.Fatal("beacon 41 should exceed the budget")
	}

	clock.Advance(61 * time.Second)
	if !engine.PublicAllow("1.2.3.4") {
		t.Fatal("budget should reset after the window")
	}
}

func TestEngineShouldLog(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	skipped := []string{
		"/health", "/health?probe=1", "/docs", "/redoc", "/openapi.json",
		"/check-ip", "/heartbeat", "/admin-heartbeat", "/visit",
		"/register-fingerprint", "/admin/traffic/stats",
	}
	for _, path := range skipped {
		if engine.ShouldLog(path) {
			t.Fatalf("ShouldLog(%q) = true, want false", path)
		}
	}

	logged := []string{"/", "/login", "/api/orders", "/healthcheck-page"}
	for _, path := range logged {
		if !engine.ShouldLog(path) {
			t.Fatalf("ShouldLog(%q) = false, want true", path)
		}
	}
}

func TestEngineStats(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	ctx := context.Background()

	engine.observe(ctx, Observation{IP: "1.2.3.4", Method: "GET", Path: "/", UserAgent: "Mozilla/5.0"})
	engine.observe(ctx, Observation{IP: "5.6.7.8", Method: "GET", Path: "/shop", UserAgent: "Nikto/2.5.0"})

	stats, err := engine.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.OnlineIPs != 2 {
		t.Fatalf("OnlineIPs = %d, want 2", stats.OnlineIPs)
	}
	if stats.BlockedTotal != 1 {
		t.Fatalf("BlockedTotal = %d, want 1 (the scanner)", stats.BlockedTotal)
	}
}
