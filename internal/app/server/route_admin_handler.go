package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"sentinel/internal/domain"
	"sentinel/internal/traffic"
)

func (s *Server) trafficStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		writeError(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type activeConnection struct {
	IP              string    `json:"ip"`
	RequestCount    int       `json:"request_count"`
	LastSeen        time.Time `json:"last_seen"`
	Country         string    `json:"country"`
	City            string    `json:"city"`
	IsVPN           bool      `json:"is_vpn"`
	FingerprintHash string    `json:"fingerprint_hash"`
	Online          bool      `json:"online"`
	IsAdmin         bool      `json:"is_admin"`
}

// activeConnections groups today's request log into one row per visitor.
// Rows sharing a fingerprint collapse together even across addresses; rows
// without a fingerprint fall back to grouping by IP. Page views win over API
// noise when picking the representative row, and online visitors sort first.
func (s *Server) activeConnections(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	since := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rows, err := s.store.ListTrafficLogsSince(r.Context(), since)
	if err != nil {
		writeError(w, "Failed to load connections", http.StatusInternalServerError)
		return
	}

	nonReal := make(map[string]bool)
	for _, id := range traffic.NonRealIdentities() {
		nonReal[id] = true
	}

	grouped := make(map[string]*activeConnection)
	order := make([]string, 0)
	// Rows come newest first; walk them oldest first so LastSeen and the
	// representative address settle on the latest activity.
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if nonReal[row.IP] || row.Method == "OPTIONS" {
			continue
		}
		key := row.FingerprintHash
		if key == "" {
			key = row.IP
		}
		conn, found := grouped[key]
		if !found {
			conn = &activeConnection{
				IP:              row.IP,
				LastSeen:        row.CreatedAt,
				Country:         row.Country,
				City:            row.City,
				FingerprintHash: row.FingerprintHash,
			}
			grouped[key] = conn
			order = append(order, key)
		}
		conn.RequestCount++
		conn.IsVPN = conn.IsVPN || row.IsVPN
		if row.CreatedAt.After(conn.LastSeen) {
			conn.LastSeen = row.CreatedAt
			// Page views carry the address the visitor actually browsed from.
			if row.Method == "PAGE" || conn.IP == "" {
				conn.IP = row.IP
			}
		}
		if conn.FingerprintHash == "" && row.FingerprintHash != "" {
			conn.FingerprintHash = row.FingerprintHash
		}
	}

	connections := make([]activeConnection, 0, len(order))
	for _, key := range order {
		conn := grouped[key]
		conn.Online = s.engine.IsOnline(conn.IP) ||
			s.engine.IsFingerprintOnline(conn.FingerprintHash) ||
			time.Since(conn.LastSeen) < 2*time.Minute
		conn.IsAdmin = s.engine.IsAdminIP(conn.IP) || s.engine.IsAdminFingerprint(conn.FingerprintHash)
		connections = append(connections, *conn)
	}
	sort.SliceStable(connections, func(i, j int) bool {
		if connections[i].Online != connections[j].Online {
			return connections[i].Online
		}
		return connections[i].LastSeen.After(connections[j].LastSeen)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"connections": connections,
		"online":      s.engine.OnlineCount(),
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

func (s *Server) trafficLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)
	ipFilter := r.URL.Query().Get("ip")

	rows, total, err := s.store.ListTrafficLogs(r.Context(), limit, offset, ipFilter)
	if err != nil {
		writeError(w, "Failed to load logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  rows,
		"total": total,
	})
}

func (s *Server) suspiciousEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}

	rows, err := s.store.ListSuspiciousEvents(r.Context(), limit, queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, "Failed to load suspicious events", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": rows})
}

type detailedLogRow struct {
	domain.TrafficLog
	Geo     *traffic.GeoInfo `json:"geo,omitempty"`
	Blocked bool             `json:"blocked"`
}

// detailedLogs merges the request log with the cached geo data and the
// current block state per row.
func (s *Server) detailedLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit > 500 {
		limit = 500
	}
	offset := queryInt(r, "offset", 0)
	ipFilter := r.URL.Query().Get("ip")

	rows, total, err := s.store.ListTrafficLogs(r.Context(), limit, offset, ipFilter)
	if err != nil {
		writeError(w, "Failed to load logs", http.StatusInternalServerError)
		return
	}

	detailed := make([]detailedLogRow, 0, len(rows))
	for _, row := range rows {
		entry := detailedLogRow{
			TrafficLog: row,
			Blocked:    !s.engine.Admit(row.IP, row.FingerprintHash, ""),
		}
		if geo, found := s.engine.CachedGeo(row.IP); found {
			entry.Geo = &geo
		}
		detailed = append(detailed, entry)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  detailed,
		"total": total,
	})
}

func (s *Server) blockedList(w http.ResponseWriter, r *http.Request) {
	ips, err := s.store.ListBlockedIPs(r.Context())
	if err != nil {
		writeError(w, "Failed to load blocked IPs", http.StatusInternalServerError)
		return
	}
	devices, err := s.store.ListBlockedDevices(r.Context())
	if err != nil {
		writeError(w, "Failed to load blocked devices", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ips":     ips,
		"devices": devices,
	})
}

type ipActionPayload struct {
	IP     string `json:"ip"`
	Reason string `json:"reason"`
}

func (s *Server) blockIP(w http.ResponseWriter, r *http.Request) {
	var payload ipActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IP == "" {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if payload.Reason == "" {
		payload.Reason = "manual block"
	}

	s.writeBlockResult(w, s.engine.BlockIP(r.Context(), payload.IP, payload.Reason))
}

func (s *Server) unblockIP(w http.ResponseWriter, r *http.Request) {
	var payload ipActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.IP == "" {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	s.writeBlockResult(w, s.engine.UnblockIP(r.Context(), payload.IP))
}

type deviceActionPayload struct {
	FingerprintHash string                       `json:"fingerprint_hash"`
	Reason          string                       `json:"reason"`
	Components      domain.FingerprintComponents `json:"components"`
}

func (s *Server) blockDevice(w http.ResponseWriter, r *http.Request) {
	var payload deviceActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.FingerprintHash == "" {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if payload.Reason == "" {
		payload.Reason = "manual block"
	}

	s.writeBlockResult(w, s.engine.BlockDevice(r.Context(), payload.FingerprintHash, payload.Reason, payload.Components))
}

func (s *Server) unblockDevice(w http.ResponseWriter, r *http.Request) {
	var payload deviceActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.FingerprintHash == "" {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	s.writeBlockResult(w, s.engine.UnblockDevice(r.Context(), payload.FingerprintHash))
}

func (s *Server) updateDeviceReason(w http.ResponseWriter, r *http.Request) {
	var payload deviceActionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.FingerprintHash == "" {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	err := s.engine.UpdateDeviceReason(r.Context(), payload.FingerprintHash, payload.Reason)
	switch {
	case errors.Is(err, traffic.ErrNotFound):
		writeError(w, "Device not found", http.StatusNotFound)
	case err != nil:
		writeError(w, "Failed to update reason", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}

func (s *Server) writeBlockResult(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, traffic.ErrForbiddenAdminTarget):
		writeError(w, "Target belongs to an administrator", http.StatusForbidden)
	case errors.Is(err, traffic.ErrPersistenceUnavailable):
		writeError(w, "Block applied in memory, persistence unavailable", http.StatusServiceUnavailable)
	case err != nil:
		writeError(w, "Operation failed", http.StatusInternalServerError)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
}
