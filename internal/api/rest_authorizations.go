package api

import (
	"errors"
	"net/http"
	"strings"

	"cohort/internal/authz"
)

type decideAuthorizationRequest struct {
	Decision string `json:"decision"`
	Actor    string `json:"actor"`
	Reason   string `json:"reason"`
}

func (h *RestHandler) handleAuthorizations(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Engine == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "delegation engine unavailable"}
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	pending := h.Engine.ListPendingAuthorizations()
	if pending == nil {
		pending = []authz.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
	return nil
}

func (h *RestHandler) handleAuthorizationDecision(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Engine == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "delegation engine unavailable"}
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	trimmed := strings.TrimPrefix(r.URL.Path, "/api/authorizations/")
	requestID, tail, found := strings.Cut(trimmed, "/")
	if !found || tail != "decision" || requestID == "" {
		return &apiError{Status: http.StatusNotFound, Message: "not found"}
	}

	var request decideAuthorizationRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	decision, err := authz.ParseDecision(request.Decision)
	if err != nil {
		return &apiError{Status: http.StatusBadRequest, Message: err.Error(), Code: "invalid_decision"}
	}
	if strings.TrimSpace(request.Actor) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "actor is required"}
	}

	settled, decideError := h.Engine.DecideAuthorization(r.Context(), requestID, decision, request.Actor, request.Reason)
	if decideError != nil {
		switch {
		case errors.Is(decideError, authz.ErrNotFound):
			return &apiError{Status: http.StatusNotFound, Message: "authorization not found"}
		case errors.Is(decideError, authz.ErrReasonRequired):
			return &apiError{Status: http.StatusBadRequest, Message: decideError.Error(), Code: "reason_required"}
		default:
			return &apiError{Status: http.StatusInternalServerError, Message: decideError.Error()}
		}
	}

	writeJSON(w, http.StatusOK, settled)
	return nil
}
