package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/pmstore"
	"github.com/nordpm/dashboard-api/internal/repository"
	"github.com/nordpm/dashboard-api/internal/storage"
)

// allowedExtensions are the evidence file types the dashboard may upload.
var allowedExtensions = map[string]bool{
	".jpg":  true,
	".png":  true,
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".xls":  true,
	".xlsx": true,
}

// DocumentRegistrar registers a document descriptor with the PM store.
type DocumentRegistrar interface {
	RegisterDocument(ctx context.Context, desc pmstore.DocumentDescriptor) (string, error)
}

// UploadRequest carries one multipart evidence upload.
type UploadRequest struct {
	DeliverableID            string
	ProjectID                string
	DocumentType             domain.DocumentType
	Filename                 string
	ContentType              string
	Size                     int64
	InvoiceAmount            *float64
	RelatedPaymentPercentage *float64
	Data                     io.Reader
}

// DocumentService stores evidence binaries, keeps their metadata locally
// and registers descriptors with the PM store. The local metadata row is
// what the scope-completion gate checks.
type DocumentService struct {
	documentRepo  *repository.DocumentRepository
	registrar     DocumentRegistrar
	approvals     ApprovalQueue
	storage       storage.Storage
	maxUploadSize int64
	logger        *zap.Logger
}

// NewDocumentService creates a new DocumentService instance
func NewDocumentService(
	documentRepo *repository.DocumentRepository,
	registrar DocumentRegistrar,
	approvals ApprovalQueue,
	store storage.Storage,
	maxUploadSizeMB int64,
	logger *zap.Logger,
) *DocumentService {
	return &DocumentService{
		documentRepo:  documentRepo,
		registrar:     registrar,
		approvals:     approvals,
		storage:       store,
		maxUploadSize: maxUploadSizeMB * 1024 * 1024,
		logger:        logger,
	}
}

// Upload validates and stores one evidence document. Validation errors are
// field-scoped and block the upload before any byte is written. A scope
// evidence upload enqueues a best-effort completion approval.
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*domain.DocumentDTO, error) {
	if apiErr := s.validate(req); apiErr != nil {
		return nil, apiErr
	}

	storagePath, size, err := s.storage.Upload(ctx, req.Filename, req.ContentType, req.Data)
	if err != nil {
		s.logger.Error("Failed to store evidence file",
			zap.String("deliverable_id", req.DeliverableID),
			zap.String("filename", req.Filename),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	doc := &domain.Document{
		DeliverableID:            req.DeliverableID,
		ProjectID:                req.ProjectID,
		Type:                     req.DocumentType,
		Filename:                 req.Filename,
		ContentType:              req.ContentType,
		Size:                     size,
		StoragePath:              storagePath,
		InvoiceAmount:            req.InvoiceAmount,
		RelatedPaymentPercentage: req.RelatedPaymentPercentage,
	}
	if err := s.documentRepo.Create(ctx, doc); err != nil {
		s.logger.Error("Failed to persist document metadata", zap.Error(err))
		// Orphaned blob; remove it so storage and metadata stay in step.
		if delErr := s.storage.Delete(ctx, storagePath); delErr != nil {
			s.logger.Warn("Failed to clean up stored file", zap.String("path", storagePath), zap.Error(delErr))
		}
		return nil, fmt.Errorf("failed to persist document: %w", err)
	}

	upstreamID, err := s.registrar.RegisterDocument(ctx, pmstore.DocumentDescriptor{
		DeliverableID:            req.DeliverableID,
		ProjectID:                req.ProjectID,
		DocumentType:             req.DocumentType,
		Filename:                 req.Filename,
		ContentType:              req.ContentType,
		Size:                     size,
		InvoiceAmount:            req.InvoiceAmount,
		RelatedPaymentPercentage: req.RelatedPaymentPercentage,
	})
	if err != nil {
		// The local row already gates scope completion; upstream
		// registration failing must not lose the uploaded evidence.
		s.logger.Warn("Failed to register document upstream",
			zap.String("document_id", doc.ID.String()),
			zap.Error(err),
		)
	} else {
		doc.UpstreamID = upstreamID
		if err := s.documentRepo.Update(ctx, doc); err != nil {
			s.logger.Warn("Failed to record upstream document id", zap.Error(err))
		}
	}

	if req.DocumentType == domain.DocumentTypeScopeEvidence {
		s.approvals.Enqueue(pmstore.ApprovalTask{
			Kind:      domain.ApprovalTaskCompletion,
			ProjectID: req.ProjectID,
			EntityID:  req.DeliverableID,
			Payload:   map[string]any{"documentId": doc.ID.String()},
		})
	}

	s.logger.Info("Evidence document uploaded",
		zap.String("document_id", doc.ID.String()),
		zap.String("deliverable_id", req.DeliverableID),
		zap.String("type", string(req.DocumentType)),
		zap.Int64("size", size),
	)
	return toDocumentDTO(doc), nil
}

// ListByDeliverable returns the evidence documents on record for a
// deliverable.
func (s *DocumentService) ListByDeliverable(ctx context.Context, deliverableID string) ([]domain.DocumentDTO, error) {
	docs, err := s.documentRepo.ListByDeliverable(ctx, deliverableID)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	dtos := make([]domain.DocumentDTO, 0, len(docs))
	for i := range docs {
		dtos = append(dtos, *toDocumentDTO(&docs[i]))
	}
	return dtos, nil
}

func (s *DocumentService) validate(req UploadRequest) *domain.APIError {
	fieldErrors := make(map[string]string)

	if !req.DocumentType.IsValid() {
		fieldErrors["documentType"] = "Must be one of: DELIVERY_NOTE, INVOICE, SCOPE_EVIDENCE"
	}
	if req.DeliverableID == "" {
		fieldErrors["deliverableId"] = "This field is required"
	}

	ext := strings.ToLower(filepath.Ext(req.Filename))
	var fileIssues []string
	if !allowedExtensions[ext] {
		fileIssues = append(fileIssues, "Unsupported file type; allowed: jpg, png, pdf, doc, docx, xls, xlsx")
	}
	if req.Size > s.maxUploadSize {
		fileIssues = append(fileIssues, fmt.Sprintf("File exceeds maximum size of %d MB", s.maxUploadSize/(1024*1024)))
	}
	if len(fileIssues) > 0 {
		fieldErrors["file"] = strings.Join(fileIssues, "; ")
	}

	if req.DocumentType == domain.DocumentTypeInvoice && req.InvoiceAmount != nil && *req.InvoiceAmount <= 0 {
		fieldErrors["invoiceAmount"] = "Invoice amount must be greater than zero"
	}

	if len(fieldErrors) == 0 {
		return nil
	}
	return &domain.APIError{
		Type:   domain.ErrorTypeValidation,
		Title:  "Validation Error",
		Status: http.StatusBadRequest,
		Detail: "Document upload failed validation",
		Errors: fieldErrors,
	}
}

func toDocumentDTO(doc *domain.Document) *domain.DocumentDTO {
	return &domain.DocumentDTO{
		ID:                       doc.ID,
		DeliverableID:            doc.DeliverableID,
		ProjectID:                doc.ProjectID,
		Type:                     doc.Type,
		Filename:                 doc.Filename,
		ContentType:              doc.ContentType,
		Size:                     doc.Size,
		InvoiceAmount:            doc.InvoiceAmount,
		RelatedPaymentPercentage: doc.RelatedPaymentPercentage,
		CreatedAt:                doc.CreatedAt.UTC().Format(time.RFC3339),
	}
}
