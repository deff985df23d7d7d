package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/domain"
)

// SessionRepository handles database operations for edit sessions
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository instance
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new edit session
func (r *SessionRepository) Create(ctx context.Context, session *domain.EditSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID retrieves an edit session by its ID
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EditSession, error) {
	var session domain.EditSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Update saves changes to an existing edit session
func (r *SessionRepository) Update(ctx context.Context, session *domain.EditSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// Delete removes an edit session
func (r *SessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&domain.EditSession{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByProject returns all sessions of one kind for a project, newest first
func (r *SessionRepository) ListByProject(ctx context.Context, projectID string, kind domain.SessionKind) ([]domain.EditSession, error) {
	var sessions []domain.EditSession
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND kind = ?", projectID, kind).
		Order("created_at DESC").
		Find(&sessions).Error
	return sessions, err
}

// DeleteExpired removes all sessions whose expiry passed before the cutoff.
// Returns the number of sessions removed.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&domain.EditSession{})
	return result.RowsAffected, result.Error
}
