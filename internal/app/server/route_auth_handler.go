package server

import (
	"encoding/json"
	"net/http"

	"sentinel/internal/auth"
	"sentinel/internal/support"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login checks the configured admin credentials and issues a token. A single
// operator account comes from the environment; there is no user table.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	adminEmail := support.GetEnv("ADMIN_EMAIL", "")
	adminHash := support.GetEnv("ADMIN_PASSWORD_HASH", "")
	if adminEmail == "" || adminHash == "" {
		writeError(w, "Login is not configured", http.StatusServiceUnavailable)
		return
	}

	if creds.Email != adminEmail || !auth.CheckPassword(adminHash, creds.Password) {
		writeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(creds.Email, "admin")
	if err != nil {
		writeError(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
