package server

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"

	"sentinel/internal/auth"
	"sentinel/internal/database"
	"sentinel/internal/support"
	"sentinel/internal/traffic"
)

// Server holds the handler dependencies.
type Server struct {
	engine *traffic.Engine
	store  *database.TrafficStore
}

func NewServer(engine *traffic.Engine, store *database.TrafficStore) *Server {
	return &Server{engine: engine, store: store}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller's address, preferring the first entry of
// X-Forwarded-For when a proxy layer sits in front.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// admission rejects every request from a blocked IP, device or hardware hash
// before it reaches the handler. One uniform body, no hint of which set
// matched.
func (s *Server) admission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		fpHash := r.Header.Get("X-Fingerprint")
		hwHash := r.Header.Get("X-Hardware")

		if !s.engine.Admit(ip, fpHash, hwHash) {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "access blocked"})
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// The detector matches injection payloads in the query string too,
		// so the observation carries the full request target, decoded so
		// percent-encoding cannot hide a payload.
		path := r.URL.Path
		if raw := r.URL.RawQuery; raw != "" {
			if decoded, err := url.QueryUnescape(raw); err == nil {
				path += "?" + decoded
			} else {
				path += "?" + raw
			}
		}

		s.engine.ObserveRequest(traffic.Observation{
			IP:              ip,
			Method:          r.Method,
			Path:            path,
			StatusCode:      rec.status,
			UserAgent:       r.UserAgent(),
			FingerprintHash: fpHash,
			ResponseTimeMS:  int(time.Since(start).Milliseconds()),
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Routes builds the full handler tree.
func (s *Server) Routes() http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	router.HandleFunc("GET /check-ip", s.checkIP)
	router.HandleFunc("POST /visit", s.trackVisit)
	router.HandleFunc("POST /heartbeat", s.heartbeat)
	router.HandleFunc("POST /admin-heartbeat", s.adminHeartbeat)
	router.HandleFunc("POST /register-fingerprint", s.registerFingerprint)
	router.HandleFunc("POST /login", s.login)

	router.Handle("GET /admin/traffic/stats", auth.IsAdmin(http.HandlerFunc(s.trafficStats)))
	router.Handle("GET /admin/traffic/connections", auth.IsAdmin(http.HandlerFunc(s.activeConnections)))
	router.Handle("GET /admin/traffic/logs", auth.IsAdmin(http.HandlerFunc(s.trafficLogs)))
	router.Handle("GET /admin/traffic/suspicious", auth.IsAdmin(http.HandlerFunc(s.suspiciousEvents)))
	router.Handle("GET /admin/traffic/detailed-logs", auth.IsAdmin(http.HandlerFunc(s.detailedLogs)))
	router.Handle("GET /admin/traffic/blocked", auth.IsAdmin(http.HandlerFunc(s.blockedList)))
	router.Handle("POST /admin/traffic/block-ip", auth.IsAdmin(http.HandlerFunc(s.blockIP)))
	router.Handle("POST /admin/traffic/unblock-ip", auth.IsAdmin(http.HandlerFunc(s.unblockIP)))
	router.Handle("POST /admin/traffic/block-device", auth.IsAdmin(http.HandlerFunc(s.blockDevice)))
	router.Handle("POST /admin/traffic/unblock-device", auth.IsAdmin(http.HandlerFunc(s.unblockDevice)))
	router.Handle("POST /admin/traffic/device-reason", auth.IsAdmin(http.HandlerFunc(s.updateDeviceReason)))

	return enableCORS(s.admission(router))
}

// OpenRoutes starts the API server with a capped connection count.
func (s *Server) OpenRoutes(port int) error {
	addr := fmt.Sprintf(":%d", port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	maxConns := support.GetEnvInt("MAX_CONNS", 1024)
	listener = netutil.LimitListener(listener, maxConns)

	server := http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	log.Infof("Starting sentinel backend on port %s", addr)
	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
