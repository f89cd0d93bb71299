package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "turn journal not configured")
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.journal.Recent(r.Context(), sessionID, limit)
	if err != nil {
		s.respondTurnError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"turns":      records,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "query parameter session_id is required")
		return
	}
	live := s.sessions.Lookup(sessionID)
	infos := make([]any, 0, len(live))
	for _, sess := range live {
		infos = append(infos, sess.Info())
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"sessions":   infos,
	})
}
