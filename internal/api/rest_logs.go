package api

import (
	"net/http"
	"strconv"

	"cohort/internal/logging"
)

const defaultLogLimit = 200

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	history := h.Logger.History()
	if history == nil {
		writeJSON(w, http.StatusOK, []logging.Entry{})
		return nil
	}

	minLevel := logging.Level("")
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid level: " + raw}
		}
		minLevel = parsed
	}
	limit := defaultLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "limit must be a positive integer"}
		}
		limit = parsed
	}

	entries := history.List()
	filtered := make([]logging.Entry, 0, len(entries))
	for _, entry := range entries {
		if logging.LevelAtLeast(entry.Level, minLevel) {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}

	writeJSON(w, http.StatusOK, filtered)
	return nil
}
