package api

import (
	"errors"
	"net/http"
	"strings"

	"cohort/internal/delegation"
)

type submitProjectRequest struct {
	Description string `json:"description"`
	ProjectType string `json:"project_type"`
	Requester   string `json:"requester"`
}

func (h *RestHandler) handleProjects(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Engine == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "delegation engine unavailable"}
	}
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}

	var request submitProjectRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Description) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "description is required"}
	}
	if strings.TrimSpace(request.ProjectType) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "project_type is required"}
	}

	handle, err := h.Engine.SubmitProject(r.Context(), request.Description, request.ProjectType, request.Requester)
	if err != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}

	writeJSON(w, http.StatusCreated, handle)
	return nil
}

func (h *RestHandler) handleProject(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Engine == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "delegation engine unavailable"}
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	projectID := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	if projectID == "" || strings.Contains(projectID, "/") {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid project id"}
	}

	state, err := h.Engine.GetProjectStatus(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, delegation.ErrProjectNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "project not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}

	writeJSON(w, http.StatusOK, state)
	return nil
}
