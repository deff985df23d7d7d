package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/service"
)

// DeliverableHandler serves the deliverable edit session endpoints,
// including invoice submission and scope progress.
type DeliverableHandler struct {
	deliverableService *service.DeliverableService
	logger             *zap.Logger
}

func NewDeliverableHandler(deliverableService *service.DeliverableService, logger *zap.Logger) *DeliverableHandler {
	return &DeliverableHandler{
		deliverableService: deliverableService,
		logger:             logger,
	}
}

// OpenSession opens a fresh edit session for a project's deliverables.
func (h *DeliverableHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if projectID == "" {
		respondWithError(w, http.StatusBadRequest, "Project ID is required")
		return
	}

	dto, err := h.deliverableService.OpenSession(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to open deliverable session", zap.String("project_id", projectID), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto)
}

// GetSession returns the buffered session with derived values.
func (h *DeliverableHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	dto, err := h.deliverableService.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// AddItem appends a new deliverable to the session buffer.
func (h *DeliverableHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req domain.AddDeliverableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.deliverableService.AddItem(r.Context(), sessionID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// UpdateItem applies field edits to a buffered deliverable.
func (h *DeliverableHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	var req domain.UpdateDeliverableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.deliverableService.UpdateItem(r.Context(), sessionID, itemID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// DeleteItem removes a buffered deliverable.
func (h *DeliverableHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	dto, err := h.deliverableService.DeleteItem(r.Context(), sessionID, itemID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// SubmitInvoice registers an invoice against one deliverable.
func (h *DeliverableHandler) SubmitInvoice(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	var req domain.InvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.deliverableService.SubmitInvoice(r.Context(), sessionID, itemID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// UpdateProgress edits scope and progress percentages, gating completion on
// evidence.
func (h *DeliverableHandler) UpdateProgress(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	var req domain.ProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.deliverableService.UpdateProgress(r.Context(), sessionID, itemID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// Save submits the session's buffered changes as one batch.
func (h *DeliverableHandler) Save(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.deliverableService.Save(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("deliverable save rejected", zap.String("session_id", sessionID.String()), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *DeliverableHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid session ID: must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
