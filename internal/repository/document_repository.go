package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/domain"
)

// DocumentRepository handles database operations for evidence documents
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository instance
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document metadata row
func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Create(doc).Error
}

// GetByID retrieves a document by its ID
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Update saves changes to an existing document row
func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	return r.db.WithContext(ctx).Save(doc).Error
}

// Delete removes a document row
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&domain.Document{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByDeliverable returns all documents for a deliverable, newest first
func (r *DocumentRepository) ListByDeliverable(ctx context.Context, deliverableID string) ([]domain.Document, error) {
	var docs []domain.Document
	err := r.db.WithContext(ctx).
		Where("deliverable_id = ?", deliverableID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}

// HasDocumentOfType reports whether a deliverable has at least one document
// of the given type on record. The scope-completion gate runs on this.
func (r *DocumentRepository) HasDocumentOfType(ctx context.Context, deliverableID string, docType domain.DocumentType) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.Document{}).
		Where("deliverable_id = ? AND type = ?", deliverableID, docType).
		Count(&count).Error
	return count > 0, err
}
