package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SessionCleanupJobName is the name of the edit session expiry sweep job
const SessionCleanupJobName = "session_cleanup"

// ExpiredSessionDeleter removes edit sessions that passed their expiry.
// This interface allows the job to call the repository without importing it
// directly.
type ExpiredSessionDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionCleanupJob sweeps expired edit sessions out of the database.
// Sessions are load-edit-save buffers; once expired they are unrecoverable
// and only take up space.
type SessionCleanupJob struct {
	sessions ExpiredSessionDeleter
	logger   *zap.Logger
	timeout  time.Duration
}

// NewSessionCleanupJob creates a new session cleanup job.
func NewSessionCleanupJob(sessions ExpiredSessionDeleter, logger *zap.Logger, timeout time.Duration) *SessionCleanupJob {
	return &SessionCleanupJob{
		sessions: sessions,
		logger:   logger,
		timeout:  timeout,
	}
}

// Run executes the expiry sweep. This is called by the scheduler according
// to the cron expression.
func (j *SessionCleanupJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	start := time.Now()

	deleted, err := j.sessions.DeleteExpired(ctx, time.Now())
	if err != nil {
		j.logger.Error("session cleanup failed",
			zap.Error(err),
			zap.Duration("duration", time.Since(start)))
		return
	}

	if deleted > 0 {
		j.logger.Info("expired edit sessions removed",
			zap.Int64("deleted", deleted),
			zap.Duration("duration", time.Since(start)))
	}
}
