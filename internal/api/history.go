package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// handleHistory returns the newest journal events, optionally filtered by
// ?since=RFC3339.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	since, err := parseSinceParam(r.URL.Query().Get("since"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, CodeInvalidRequest, "since must be an RFC3339 timestamp")
		return
	}

	if s.history == nil {
		fail(w, r, http.StatusServiceUnavailable, CodeUnavailable, "history is disabled")
		return
	}

	events, err := s.history.List(r.Context(), s.deviceID, limit)
	if err != nil {
		s.logger.Warn("history query failed", "error", err)
		fail(w, r, http.StatusInternalServerError, CodeInternal, "failed to load history")
		return
	}

	if !since.IsZero() {
		filtered := events[:0]
		for _, e := range events {
			if e.CreatedAt.After(since) {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	respond(w, http.StatusOK, map[string]any{
		"device_id": s.deviceID,
		"history":   events,
		"count":     len(events),
	})
}

func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return limit, nil
}

func parseSinceParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
