package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/iot-relay/internal/audit"
)

// handleListEvents returns a device's event history, most recent first.
// Query parameters: action, limit, offset.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.authorizeDevice(w, r, id) {
		return
	}

	filter := audit.Filter{
		DeviceID: id,
		Action:   r.URL.Query().Get("action"),
	}
	var ok bool
	if filter.Limit, ok = queryInt(r, "limit"); !ok {
		writeBadRequest(w, "limit must be an integer")
		return
	}
	if filter.Offset, ok = queryInt(r, "offset"); !ok {
		writeBadRequest(w, "offset must be an integer")
		return
	}

	result, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing device events failed", "device_id", id, "error", err)
		writeUnavailable(w, "event log unavailable")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// queryInt parses an optional integer query parameter. Missing means zero.
func queryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// recordEvent writes an API-sourced event. Failures are logged only.
func (s *Server) recordEvent(r *http.Request, action, deviceID string, details map[string]any) {
	if s.events == nil {
		return
	}
	err := s.events.Create(r.Context(), &audit.Event{
		Action:   action,
		DeviceID: deviceID,
		Source:   audit.SourceAPI,
		Details:  details,
	})
	if err != nil {
		s.logger.Warn("recording device event failed", "action", action, "device_id", deviceID, "error", err)
	}
}
