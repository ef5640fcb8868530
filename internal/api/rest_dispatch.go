package api

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"cohort/internal/router"
)

type dispatchRequest struct {
	AgentID      string `json:"agent_id"`
	Payload      string `json:"payload"`
	CaptureDelay string `json:"capture_delay,omitempty"`
}

type broadcastRequest struct {
	AgentIDs     []string `json:"agent_ids"`
	Payload      string   `json:"payload"`
	CaptureDelay string   `json:"capture_delay,omitempty"`
}

type broadcastResponse struct {
	Results []router.CapturedResult `json:"results"`
}

func parseCaptureDelay(raw string) (time.Duration, *apiError) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	delay, err := time.ParseDuration(raw)
	if err != nil || delay < 0 {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "capture_delay must be a non-negative duration"}
	}
	return delay, nil
}

func (h *RestHandler) handleDispatch(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Router == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "router unavailable"}
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request dispatchRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	agentID := strings.TrimSpace(request.AgentID)
	if agentID == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "agent_id is required"}
	}
	if strings.TrimSpace(request.Payload) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "payload is required"}
	}
	if h.Roster != nil {
		if _, ok := h.Roster.Get(agentID); !ok {
			return &apiError{Status: http.StatusNotFound, Message: "unknown agent: " + agentID}
		}
	}
	delay, delayErr := parseCaptureDelay(request.CaptureDelay)
	if delayErr != nil {
		return delayErr
	}

	task := router.NewTask(agentID, request.Payload)
	task.CaptureDelay = delay
	result := h.Router.Dispatch(r.Context(), task)

	writeJSON(w, http.StatusOK, result)
	return nil
}

func (h *RestHandler) handleBroadcast(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Router == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "router unavailable"}
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request broadcastRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Payload) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "payload is required"}
	}
	agentIDs := make([]string, 0, len(request.AgentIDs))
	for _, agentID := range request.AgentIDs {
		agentID = strings.TrimSpace(agentID)
		if agentID == "" {
			continue
		}
		if h.Roster != nil {
			if _, ok := h.Roster.Get(agentID); !ok {
				return &apiError{Status: http.StatusNotFound, Message: "unknown agent: " + agentID}
			}
		}
		agentIDs = append(agentIDs, agentID)
	}
	if len(agentIDs) == 0 {
		return &apiError{Status: http.StatusBadRequest, Message: "agent_ids is required"}
	}
	delay, delayErr := parseCaptureDelay(request.CaptureDelay)
	if delayErr != nil {
		return delayErr
	}

	outcomes := h.Router.Broadcast(r.Context(), agentIDs, request.Payload, delay)
	results := make([]router.CapturedResult, 0, len(outcomes))
	for _, result := range outcomes {
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].AgentID < results[j].AgentID
	})

	writeJSON(w, http.StatusOK, broadcastResponse{Results: results})
	return nil
}
