package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"sentinel/internal/auth"
	"sentinel/internal/database"
	"sentinel/internal/domain"
	"sentinel/internal/traffic"
)

func setupTestServer(t *testing.T) (*Server, *traffic.Engine) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open test database: %v", err)
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

	store := database.NewTrafficStore(db)
	engine := traffic.NewEngine(store, nil, nil)
	t.Cleanup(engine.Close)

	return NewServer(engine, store), engine
}

func doJSON(t *testing.T, handler http.Handler, method, target, forwardedFor string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}

	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.GenerateJWT("admin@example.com", "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
