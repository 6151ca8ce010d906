package server

import (
	"encoding/json"
	"net/http"

	"sentinel/internal/auth"
	"sentinel/internal/domain"
)

// checkIP is the public admission beacon the frontend polls. Requests over
// the beacon budget are answered with a soft rate_limited flag so a chatty
// but honest client degrades instead of erroring. A non-blocked check counts
// as presence, and as a page view when the beacon names one.
func (s *Server) checkIP(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.engine.PublicAllow(ip) {
		writeJSON(w, http.StatusOK, map[string]any{
			"blocked":      false,
			"rate_limited": true,
		})
		return
	}

	query := r.URL.Query()
	fpHash := query.Get("fp")
	if fpHash == "" {
		fpHash = r.Header.Get("X-Fingerprint")
	}
	hwHash := query.Get("hwfp")
	if hwHash == "" {
		hwHash = r.Header.Get("X-Hardware")
	}

	blocked := !s.engine.Admit(ip, fpHash, hwHash)
	if !blocked {
		s.engine.Heartbeat(ip, fpHash)
		if page := query.Get("path"); page != "" {
			userAgent := query.Get("ua")
			if userAgent == "" {
				userAgent = r.UserAgent()
			}
			s.engine.TrackVisit(ip, page, userAgent, fpHash)
		}
	}

	geo := s.engine.ResolveGeo(r.Context(), ip)
	writeJSON(w, http.StatusOK, map[string]any{
		"blocked": blocked,
		"ip":      ip,
		"country": geo.Country,
		"is_vpn":  geo.IsVPN,
	})
}

type visitPayload struct {
	Page            string `json:"page"`
	FingerprintHash string `json:"fingerprint_hash"`
}

func (s *Server) trackVisit(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.engine.PublicAllow(ip) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "rate_limited": true})
		return
	}

	var payload visitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if payload.Page == "" {
		payload.Page = "/"
	}

	s.engine.TrackVisit(ip, payload.Page, r.UserAgent(), payload.FingerprintHash)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type heartbeatPayload struct {
	FingerprintHash string `json:"fingerprint_hash"`
}

func (s *Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.engine.PublicAllow(ip) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "rate_limited": true})
		return
	}

	var payload heartbeatPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.engine.Heartbeat(ip, payload.FingerprintHash)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// adminHeartbeat tags the caller's IP and fingerprint as admin when the
// request carries a valid admin token. Invalid tokens get a soft failure with
// HTTP 200 so probing this endpoint reveals nothing.
func (s *Server) adminHeartbeat(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !auth.HasAdminToken(r) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": "unauthorized"})
		return
	}

	var payload heartbeatPayload
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.engine.AdminHeartbeat(ip, payload.FingerprintHash)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type fingerprintPayload struct {
	FingerprintHash string                       `json:"fingerprint_hash"`
	HardwareHash    string                       `json:"hardware_hash"`
	Components      domain.FingerprintComponents `json:"components"`
}

func (s *Server) registerFingerprint(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)

	if !s.engine.PublicAllow(ip) {
		writeJSON(w, http.StatusOK, map[string]any{"blocked": false, "rate_limited": true})
		return
	}

	var payload fingerprintPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if payload.FingerprintHash == "" {
		writeError(w, "Missing fingerprint hash", http.StatusBadRequest)
		return
	}
	if payload.Components.HardwareHash == "" {
		payload.Components.HardwareHash = payload.HardwareHash
	}

	blocked, err := s.engine.RegisterFingerprint(r.Context(), ip, payload.FingerprintHash, payload.Components)
	if err != nil {
		writeError(w, "Failed to register fingerprint", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"blocked": blocked})
}
