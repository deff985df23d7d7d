package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/domain"
)

// ApprovalFailureRepository records best-effort approval dispatches that
// could not be delivered
type ApprovalFailureRepository struct {
	db *gorm.DB
}

// NewApprovalFailureRepository creates a new ApprovalFailureRepository instance
func NewApprovalFailureRepository(db *gorm.DB) *ApprovalFailureRepository {
	return &ApprovalFailureRepository{db: db}
}

// Create inserts a new failure record
func (r *ApprovalFailureRepository) Create(ctx context.Context, failure *domain.ApprovalFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

// ListRecent returns the most recent failure records up to limit
func (r *ApprovalFailureRepository) ListRecent(ctx context.Context, limit int) ([]domain.ApprovalFailure, error) {
	var failures []domain.ApprovalFailure
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&failures).Error
	return failures, err
}

// CountByKind returns how many failures are on record per task kind
func (r *ApprovalFailureRepository) CountByKind(ctx context.Context, kind domain.ApprovalTaskKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&domain.ApprovalFailure{}).
		Where("task_kind = ?", kind).
		Count(&count).Error
	return count, err
}
