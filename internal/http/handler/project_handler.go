package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/service"
)

// ProjectHandler serves decorated project details.
type ProjectHandler struct {
	projectService *service.ProjectService
	logger         *zap.Logger
}

func NewProjectHandler(projectService *service.ProjectService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		projectService: projectService,
		logger:         logger,
	}
}

// GetDetails returns one project with derived budget and schedule fields.
func (h *ProjectHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if projectID == "" {
		respondWithError(w, http.StatusBadRequest, "Project ID is required")
		return
	}

	dto, err := h.projectService.GetDetails(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to get project details", zap.String("project_id", projectID), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}
