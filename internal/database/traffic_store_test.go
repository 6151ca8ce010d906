package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sentinel/internal/domain"
	"sentinel/internal/traffic"
)

func setupTrafficStoreTestDB(t *testing.T) *TrafficStore {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}

	if err := db.AutoMigrate(
		&domain.BlockedIP{},
		&domain.BlockedDevice{},
		&domain.DeviceFingerprint{},
		&domain.SuspiciousEvent{},
		&domain.TrafficLog{},
		&domain.GeoCacheEntry{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	return NewTrafficStore(db)
}

func TestBlockedIPRoundTrip(t *testing.T) {
	store := setupTrafficStoreTestDB(t)
	ctx := context.Background()

	rec := domain.BlockedIP{
		IP:           "1.2.3.4",
		Reason:       "manual block",
		BlockedBy:    "admin",
		RequestCount: 42,
		Country:      "Germany",
		IsVPN:        true,
	}
	if err := store.UpsertBlockedIP(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	rows, err := store.ListBlockedIPs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].IP != "1.2.3.4" || rows[0].RequestCount != 42 {
		t.Fatalf("rows = %+v, want one record for 1.2.3.4", rows)
	}

	// Upsert on the same address updates in place.
	rec.Reason = "updated"
	if err := store.UpsertBlockedIP(ctx, rec); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}
	rows, _ = store.ListBlockedIPs(ctx)
	if len(rows) != 1 || rows[0].Reason != "updated" {
		t.Fatalf("rows = %+v, want one updated record", rows)
	}

	if err := store.DeleteBlockedIP(ctx, "1.2.3.4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ = store.ListBlockedIPs(ctx)
	if len(rows) != 0 {
		t.Fatalf("rows = %+v, want empty after delete", rows)
	}
}

func TestBlockedDeviceRoundTrip(t *testing.T) {
	store := setupTrafficStoreTestDB(t)
	ctx := context.Background()

	rec := domain.BlockedDevice{
		FingerprintHash: "fp-1",
		Reason:          "abuse",
		BlockedBy:       "system",
		Components:      domain.FingerprintComponents{Canvas: "c1", HardwareHash: "hw-1"},
		AssociatedIPs:   domain.StringList{"1.2.3.4", "5.6.7.8"},
	}
	if err := store.UpsertBlockedDevice(ctx, rec); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := store.GetBlockedDevice(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil {
		t.Fatal("device not found after upsert")
	}
	if loaded.Components.HardwareHash != "hw-1" {
		t.Fatalf("components = %+v, hardware hash lost in the JSON column", loaded.Components)
	}
	if len(loaded.AssociatedIPs) != 2 {
		t.Fatalf("associated IPs = %v, want 2 entries", loaded.AssociatedIPs)
	}

	if err := store.UpdateBlockedDeviceReason(ctx, "fp-1", "escalated"); err != nil {
		t.Fatalf("update reason: %v", err)
	}
	loaded, _ = store.GetBlockedDevice(ctx, "fp-1")
	if loaded.Reason != "escalated" {
		t.Fatalf("reason = %q, want escalated", loaded.Reason)
	}

	if err := store.UpdateBlockedDeviceReason(ctx, "fp-missing", "x"); !errors.Is(err, traffic.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound for a missing device", err)
	}
}

func TestGetBlockedDeviceMissingIsNil(t *testing.T) {
	store := setupTrafficStoreTestDB(t)

	loaded, err := store.GetBlockedDevice(context.Background(), "fp-missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded != nil {
		t.Fatalf("loaded = %+v, want nil for a missing device", loaded)
	}
}

func TestDeviceFingerprintUpsertMergesSightings(t *testing.T) {
	store := setupTrafficStoreTestDB(t)
	ctx := context.Background()

	first := domain.DeviceFingerprint{
		FingerprintHash: "fp-1",
		Components:      domain.FingerprintComponents{Canvas: "c1"},
		IPs:             domain.StringList{"1.2.3.4"},
	}
	if err := store.UpsertDeviceFingerprint(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := first
	second.IPs = domain.StringList{"1.2.3.4", "5.6.7.8"}
	if err := store.UpsertDeviceFingerprint(ctx, second); err != nil {
		t.Fatalf("repeat upsert: %v", err)
	}

	loaded, err := store.GetDeviceFingerprint(ctx, "fp-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(loaded.IPs) != 2 {
		t.Fatalf("IPs = %v, want the merged set", loaded.IPs)
	}
	if loaded.LastSeenAt.IsZero() {
		t.Fatal("LastSeenAt should be set on upsert")
	}
}

func TestTrafficLogQueries(t *testing.T) {
	store := setupTrafficStoreTestDB(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		ip := "1.2.3.4"
		if i%5 == 0 {
			ip = "5.6.7.8"
		}
		row := domain.TrafficLog{IP: ip, Method: "GET", Path: fmt.Sprintf("/page/%d", i), StatusCode: 200}
		if err := store.InsertTrafficLog(ctx, row); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recent, err := store.RecentTrafficLogs(ctx, "1.2.3.4", 20)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 20 {
		t.Fatalf("recent = %d rows, want 20", len(recent))
	}

	count, err := store.CountTrafficLogsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 25 {
		t.Fatalf("count = %d, want 25", count)
	}

	rows, total, err := store.ListTrafficLogs(ctx, 10, 0, "5.6.7.8")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 || len(rows) != 5 {
		t.Fatalf("total = %d, rows = %d, want 5 filtered rows", total, len(rows))
	}

	local := domain.TrafficLog{IP: "127.0.0.1", Method: "GET", Path: "/health", StatusCode: 200}
	if err := store.InsertTrafficLog(ctx, local); err != nil {
		t.Fatalf("insert local: %v", err)
	}
	_, total, err = store.ListTrafficLogs(ctx, 50, 0, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if total != 25 {
		t.Fatalf("total = %d, want 25 with placeholder identities excluded", total)
	}
}

func TestGeoCacheRoundTrip(t *testing.T) {
	store := setupTrafficStoreTestDB(t)
	ctx := context.Background()

	entry := domain.GeoCacheEntry{IP: "88.77.66.55", Country: "France", City: "Paris", IsVPN: true, Provider: "OVH"}
	if err := store.UpsertGeoCache(ctx, entry); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	loaded, err := store.GetGeoCache(ctx, "88.77.66.55")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded == nil || loaded.Country != "France" || !loaded.IsVPN {
		t.Fatalf("loaded = %+v, want the cached entry", loaded)
	}

	missing, err := store.GetGeoCache(ctx, "203.0.113.1")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("missing = %+v, want nil", missing)
	}
}
