package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/nerrad567/status-core/internal/controller"
)

// defaultEventListLimit caps GET /events when no limit is given.
const defaultEventListLimit = 50

// maxEventListLimit is the hard ceiling for GET /events.
const maxEventListLimit = 500

// handleSubmitEvent accepts a status event over HTTP. The payload is
// identical to the MQTT event topic payload.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}

	ev, err := controller.ParseEvent(body)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	if err := s.ctrl.Add(ev); err != nil {
		if errors.Is(err, controller.ErrNotRunning) {
			writeUnavailable(w, "controller is not running")
			return
		}
		writeBadRequest(w, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":   ev.ID,
		"tags": ev.Tags,
	})
}

// handleListEvents returns the most recent audited events, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail is not configured")
		return
	}

	limit := defaultEventListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventListLimit)
	}

	records, err := s.audit.RecentEvents(limit)
	if err != nil {
		s.logger.Error("listing audited events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": records,
		"count":  len(records),
	})
}

// handleControllerStatus returns a point-in-time view of the controller.
func (s *Server) handleControllerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}
