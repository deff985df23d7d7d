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

// BOQHandler serves the bill-of-quantities edit session endpoints.
type BOQHandler struct {
	boqService *service.BOQService
	logger     *zap.Logger
}

func NewBOQHandler(boqService *service.BOQService, logger *zap.Logger) *BOQHandler {
	return &BOQHandler{
		boqService: boqService,
		logger:     logger,
	}
}

// OpenSession opens a fresh edit session for a project's line items.
func (h *BOQHandler) OpenSession(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if projectID == "" {
		respondWithError(w, http.StatusBadRequest, "Project ID is required")
		return
	}

	dto, err := h.boqService.OpenSession(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to open BOQ session", zap.String("project_id", projectID), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto)
}

// GetSession returns the buffered session with live totals.
func (h *BOQHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	dto, err := h.boqService.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// AddItem appends a line item row to the session buffer.
func (h *BOQHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req domain.AddLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.boqService.AddItem(r.Context(), sessionID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// UpdateItem applies a field edit to a buffered line item.
func (h *BOQHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	var req domain.UpdateLineItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidationError(w, err)
		return
	}

	dto, err := h.boqService.UpdateItem(r.Context(), sessionID, itemID, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// DeleteItem removes a buffered line item.
func (h *BOQHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID := chi.URLParam(r, "itemId")

	dto, err := h.boqService.DeleteItem(r.Context(), sessionID, itemID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto)
}

// Save submits the session's buffered changes as one batch.
func (h *BOQHandler) Save(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	result, err := h.boqService.Save(r.Context(), sessionID)
	if err != nil {
		h.logger.Warn("BOQ save rejected", zap.String("session_id", sessionID.String()), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (h *BOQHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionId"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid session ID: must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}
