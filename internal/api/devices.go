package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-relay/internal/audit"
	"github.com/nerrad567/iot-relay/internal/device"
)

// registerRequest is the body of POST /api/v1/devices.
type registerRequest struct {
	Username string `json:"username"`
	ID       string `json:"id"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// tokenRequest is the body of POST /api/v1/devices/{id}/token.
type tokenRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

type presenceResponse struct {
	ID         string     `json:"id"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at"`
}

// handleRegisterDevice creates a device that can then register over the
// WebSocket with the same id and password.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	err := s.devices.Register(r.Context(), req.Username, req.ID, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrInvalidDevice):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	case errors.Is(err, device.ErrAlreadyExists):
		writeConflict(w, "device id already registered")
		return
	default:
		s.logger.Error("device signup failed", "device_id", req.ID, "error", err)
		writeUnavailable(w, "device store unavailable")
		return
	}

	s.logger.Info("device registered", "device_id", req.ID, "username", req.Username)
	s.recordEvent(r, audit.ActionSignup, req.ID, map[string]any{"username": req.Username})
	writeJSON(w, http.StatusCreated, registerResponse{ID: req.ID, Username: req.Username})
}

// handleIssueToken exchanges device credentials for a presence token.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	identity, err := s.devices.Verify(r.Context(), id, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrUnauthorized):
		writeUnauthorized(w, "invalid credentials")
		return
	default:
		s.logger.Error("credential check failed", "device_id", id, "error", err)
		writeUnavailable(w, "device store unavailable")
		return
	}

	token, err := s.tokens.Issue(id, identity.Username)
	if err != nil {
		writeInternalError(w, "failed to generate token")
		return
	}

	s.recordEvent(r, audit.ActionTokenIssued, id, nil)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	})
}

// handlePresence reports whether a device is connected. The bearer token
// must have been issued for the same device.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorizeDevice(w, r, id) {
		return
	}

	d, err := s.devices.Get(r.Context(), id)
	switch {
	case err == nil:
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
		return
	default:
		s.logger.Error("presence lookup failed", "device_id", id, "error", err)
		writeUnavailable(w, "device store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, presenceResponse{
		ID:         id,
		Online:     s.relay.Online(id),
		LastSeenAt: d.LastSeenAt,
	})
}

// authorizeDevice checks that the request carries a valid bearer token
// issued for id, writing a 401 or 403 when it does not.
func (s *Server) authorizeDevice(w http.ResponseWriter, r *http.Request, id string) bool {
	raw, ok := bearerToken(r)
	if !ok {
		writeUnauthorized(w, "bearer token required")
		return false
	}
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return false
	}
	if claims.DeviceID() != id {
		writeForbidden(w, "token was not issued for this device")
		return false
	}
	return true
}
