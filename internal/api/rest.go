// Package api exposes the orchestrator over REST and WebSocket: project
// submission, authorization decisions, direct dispatch, health, logs, and
// metrics.
package api

import (
	"net/http"
	"sort"
	"time"

	"cohort/internal/delegation"
	"cohort/internal/health"
	"cohort/internal/logging"
	"cohort/internal/metrics"
	"cohort/internal/roster"
	"cohort/internal/router"
	"cohort/internal/session"
	"cohort/internal/version"
)

type RestHandler struct {
	Engine   *delegation.Engine
	Sessions *session.Manager
	Router   *router.Router
	Health   *health.Monitor
	Roster   *roster.Roster
	Metrics  *metrics.Registry
	Logger   *logging.Logger
}

type statusResponse struct {
	Version      string    `json:"version"`
	AgentCount   int       `json:"agent_count"`
	ActiveCount  int       `json:"active_count"`
	PendingCount int       `json:"pending_authorizations"`
	ServerTime   time.Time `json:"server_time"`
}

type agentSummary struct {
	ID               string         `json:"id"`
	Role             string         `json:"role"`
	Team             string         `json:"team,omitempty"`
	Responsibilities []string       `json:"responsibilities,omitempty"`
	Expertise        []string       `json:"expertise,omitempty"`
	SessionID        string         `json:"session_id,omitempty"`
	Status           session.Status `json:"status"`
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	active := 0
	var snapshot map[string]session.AgentSession
	if h.Sessions != nil {
		snapshot = h.Sessions.Snapshot()
		for _, handle := range snapshot {
			if handle.Status == session.StatusActive {
				active++
			}
		}
	}
	pending := 0
	if h.Engine != nil {
		pending = len(h.Engine.ListPendingAuthorizations())
	}
	agentCount := 0
	if h.Roster != nil {
		agentCount = h.Roster.Len()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Version:      version.Version,
		AgentCount:   agentCount,
		ActiveCount:  active,
		PendingCount: pending,
		ServerTime:   time.Now().UTC(),
	})
	return nil
}

func (h *RestHandler) handleAgents(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Roster == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "roster unavailable"}
	}

	var sessions map[string]session.AgentSession
	if h.Sessions != nil {
		sessions = h.Sessions.Snapshot()
	}

	summaries := make([]agentSummary, 0, h.Roster.Len())
	for _, identity := range h.Roster.List() {
		summary := agentSummary{
			ID:               identity.ID,
			Role:             identity.Role,
			Team:             identity.Team,
			Responsibilities: identity.Responsibilities,
			Expertise:        identity.Expertise,
			Status:           session.StatusOffline,
		}
		if handle, ok := sessions[identity.ID]; ok {
			summary.SessionID = handle.SessionID
			summary.Status = handle.Status
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})

	writeJSON(w, http.StatusOK, summaries)
	return nil
}

func (h *RestHandler) handleHealth(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.Health == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "health monitor unavailable"}
	}

	snapshot := h.Health.Snapshot()
	agents := make([]health.AgentHealth, 0, len(snapshot))
	for _, entry := range snapshot {
		agents = append(agents, entry)
	}
	sort.Slice(agents, func(i, j int) bool {
		return agents[i].AgentID < agents[j].AgentID
	})

	writeJSON(w, http.StatusOK, agents)
	return nil
}

func (h *RestHandler) handleMetrics(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	registry := h.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	_ = registry.WritePrometheus(w)
	return nil
}
