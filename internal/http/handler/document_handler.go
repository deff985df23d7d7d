package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/service"
)

// DocumentHandler serves evidence document uploads and listings.
type DocumentHandler struct {
	documentService *service.DocumentService
	maxUploadMB     int64
	logger          *zap.Logger
}

func NewDocumentHandler(documentService *service.DocumentService, maxUploadMB int64, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		documentService: documentService,
		maxUploadMB:     maxUploadMB,
		logger:          logger,
	}
}

// Upload accepts one multipart evidence document for a deliverable.
// Form fields: file (required), projectId (required), documentType
// (required), invoiceAmount, relatedPaymentPercentage.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	deliverableID := chi.URLParam(r, "deliverableId")
	if deliverableID == "" {
		respondWithError(w, http.StatusBadRequest, "Deliverable ID is required")
		return
	}

	// Limit request size
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadMB*1024*1024)

	if err := r.ParseMultipartForm(h.maxUploadMB * 1024 * 1024); err != nil {
		respondWithError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("File too large: maximum size is %dMB", h.maxUploadMB))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid file upload: file field is required")
		return
	}
	defer file.Close()

	req := service.UploadRequest{
		DeliverableID: deliverableID,
		ProjectID:     r.FormValue("projectId"),
		DocumentType:  domain.DocumentType(r.FormValue("documentType")),
		Filename:      header.Filename,
		ContentType:   header.Header.Get("Content-Type"),
		Size:          header.Size,
		Data:          file,
	}

	if v := r.FormValue("invoiceAmount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid invoiceAmount: must be a number")
			return
		}
		req.InvoiceAmount = &amount
	}
	if v := r.FormValue("relatedPaymentPercentage"); v != "" {
		pct, err := strconv.ParseFloat(v, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid relatedPaymentPercentage: must be a number")
			return
		}
		req.RelatedPaymentPercentage = &pct
	}

	dto, err := h.documentService.Upload(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to upload document",
			zap.String("deliverable_id", deliverableID),
			zap.Error(err),
		)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto)
}

// List returns the evidence documents on record for a deliverable.
func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	deliverableID := chi.URLParam(r, "deliverableId")
	if deliverableID == "" {
		respondWithError(w, http.StatusBadRequest, "Deliverable ID is required")
		return
	}

	dtos, err := h.documentService.ListByDeliverable(r.Context(), deliverableID)
	if err != nil {
		h.logger.Error("failed to list documents", zap.String("deliverable_id", deliverableID), zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dtos)
}
