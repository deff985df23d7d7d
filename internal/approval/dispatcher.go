// Package approval dispatches downstream approval tasks (BOQ approval,
// invoice approval, completion approval) to the PM store. Dispatch is
// best-effort: the primary operation that enqueued the task has already
// succeeded, so a failed dispatch is logged and recorded for telemetry but
// never propagated back.
package approval

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/config"
	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/pmstore"
)

// TaskPoster posts one approval task upstream.
type TaskPoster interface {
	CreateApprovalTask(ctx context.Context, task pmstore.ApprovalTask) error
}

// FailureRecorder persists undeliverable tasks.
type FailureRecorder interface {
	Create(ctx context.Context, failure *domain.ApprovalFailure) error
}

// Dispatcher fans approval tasks out to a fixed worker pool over a bounded
// queue. A full queue drops the task immediately (recorded as a failure)
// rather than blocking the caller.
type Dispatcher struct {
	poster   TaskPoster
	failures FailureRecorder
	logger   *zap.Logger

	queue    chan pmstore.ApprovalTask
	wg       sync.WaitGroup
	stopOnce sync.Once

	cfg *config.ApprovalsConfig
}

// NewDispatcher creates a dispatcher; call Start before enqueueing.
func NewDispatcher(cfg *config.ApprovalsConfig, poster TaskPoster, failures FailureRecorder, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		poster:   poster,
		failures: failures,
		logger:   logger,
		queue:    make(chan pmstore.ApprovalTask, cfg.QueueSize),
		cfg:      cfg,
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	d.logger.Info("Starting approval dispatcher",
		zap.Int("workers", workers),
		zap.Int("queue_size", cap(d.queue)),
	)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop closes the queue and waits for in-flight dispatches to finish.
// Enqueue must not be called after Stop.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
	d.logger.Info("Approval dispatcher stopped")
}

// Enqueue hands a task to the pool without blocking. When the queue is
// full the task is recorded as a failure straight away.
func (d *Dispatcher) Enqueue(task pmstore.ApprovalTask) {
	select {
	case d.queue <- task:
	default:
		d.logger.Warn("Approval queue full, dropping task",
			zap.String("kind", string(task.Kind)),
			zap.String("project_id", task.ProjectID),
		)
		d.record(task, "approval queue full")
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for task := range d.queue {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeoutDuration())
		err := d.poster.CreateApprovalTask(ctx, task)
		cancel()

		if err != nil {
			d.logger.Warn("Approval task dispatch failed",
				zap.String("kind", string(task.Kind)),
				zap.String("project_id", task.ProjectID),
				zap.String("entity_id", task.EntityID),
				zap.Error(err),
			)
			d.record(task, err.Error())
			continue
		}

		d.logger.Info("Approval task dispatched",
			zap.String("kind", string(task.Kind)),
			zap.String("project_id", task.ProjectID),
			zap.String("entity_id", task.EntityID),
		)
	}
}

func (d *Dispatcher) record(task pmstore.ApprovalTask, reason string) {
	payload, err := json.Marshal(task.Payload)
	if err != nil || len(payload) == 0 {
		payload = []byte("{}")
	}

	failure := &domain.ApprovalFailure{
		TaskKind:  task.Kind,
		ProjectID: task.ProjectID,
		EntityID:  task.EntityID,
		Payload:   string(payload),
		Reason:    reason,
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.RequestTimeoutDuration())
	defer cancel()
	if err := d.failures.Create(ctx, failure); err != nil {
		// Last resort: the failure itself could not be persisted.
		d.logger.Error("Failed to record approval failure",
			zap.String("kind", string(task.Kind)),
			zap.Error(err),
		)
	}
}
