package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/boq"
	"github.com/nordpm/dashboard-api/internal/changeset"
	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/money"
	"github.com/nordpm/dashboard-api/internal/pmstore"
	"github.com/nordpm/dashboard-api/internal/repository"
	"github.com/nordpm/dashboard-api/internal/schedule"
)

// scopeStep is the granularity of scope percentage edits.
const scopeStep = 10

// DeliverableUpstream is the slice of the PM store the deliverable service
// needs.
type DeliverableUpstream interface {
	FetchDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error)
	SaveDeliverables(ctx context.Context, batch pmstore.DeliverableBatch) error
	UpdateProgress(ctx context.Context, deliverableID string, upd pmstore.ProgressUpdate) error
}

// EvidenceChecker reports whether a deliverable has an evidence document of
// a given type on record.
type EvidenceChecker interface {
	HasDocumentOfType(ctx context.Context, deliverableID string, docType domain.DocumentType) (bool, error)
}

// deliverableState is the serialized change-set column for deliverable
// sessions. Floors carries each deliverable's last persisted payment
// percentage; within one session the percentage may only rise from there.
type deliverableState struct {
	changeset.Snapshot[domain.Deliverable]
	Floors map[string]float64 `json:"floors"`
}

// DeliverableService tracks per-deliverable invoicing against budget and
// gates scope completion on evidence documents.
type DeliverableService struct {
	sessionRepo *repository.SessionRepository
	upstream    DeliverableUpstream
	evidence    EvidenceChecker
	approvals   ApprovalQueue
	norm        money.Normalizer
	currency    string
	sessionTTL  time.Duration
	guard       *saveGuard
	logger      *zap.Logger
}

// NewDeliverableService creates a new DeliverableService instance
func NewDeliverableService(
	sessionRepo *repository.SessionRepository,
	upstream DeliverableUpstream,
	evidence EvidenceChecker,
	approvals ApprovalQueue,
	norm money.Normalizer,
	currency string,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *DeliverableService {
	return &DeliverableService{
		sessionRepo: sessionRepo,
		upstream:    upstream,
		evidence:    evidence,
		approvals:   approvals,
		norm:        norm,
		currency:    currency,
		sessionTTL:  sessionTTL,
		guard:       newSaveGuard(),
		logger:      logger,
	}
}

// OpenSession fetches the project's deliverables and buffers them in a
// fresh edit session. Payment percentage floors are captured from the
// persisted snapshot.
func (s *DeliverableService) OpenSession(ctx context.Context, projectID string) (*domain.DeliverableSessionDTO, error) {
	items, err := s.upstream.FetchDeliverables(ctx, projectID)
	if err != nil {
		s.logger.Error("Failed to fetch deliverables", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	state := deliverableState{Floors: make(map[string]float64, len(items))}
	for _, d := range items {
		state.Floors[d.ID] = d.PaymentPercentage
	}

	session := &domain.EditSession{
		ProjectID: projectID,
		Kind:      domain.SessionKindDeliverable,
		ExpiresAt: time.Now().Add(s.sessionTTL).UTC(),
	}
	if err := s.persistState(session, items, &state); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		s.logger.Error("Failed to create edit session", zap.Error(err))
		return nil, fmt.Errorf("failed to create edit session: %w", err)
	}

	s.logger.Info("Opened deliverable edit session",
		zap.String("session_id", session.ID.String()),
		zap.String("project_id", projectID),
		zap.Int("items", len(items)),
	)
	return s.toDTO(session, items), nil
}

// GetSession returns the buffered session with derived values.
func (s *DeliverableService) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.DeliverableSessionDTO, error) {
	session, items, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// AddItem appends a new deliverable with a transient id and status new.
func (s *DeliverableService) AddItem(ctx context.Context, sessionID uuid.UUID, req domain.AddDeliverableRequest) (*domain.DeliverableSessionDTO, error) {
	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d := domain.Deliverable{
		ID:        boq.NewTransientID(),
		Name:      req.Name,
		Amount:    s.norm.ToStorageFormat(req.Amount),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Status:    domain.DeliverableStatusNew,
	}
	items = append(items, d)
	set := changeset.Restore(state.Snapshot)
	set.RecordAdd(d)
	state.Snapshot = set.Snapshot()

	if err := s.save(ctx, session, items, state); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// UpdateItem applies field edits to a buffered deliverable.
func (s *DeliverableService) UpdateItem(ctx context.Context, sessionID uuid.UUID, itemID string, req domain.UpdateDeliverableRequest) (*domain.DeliverableSessionDTO, error) {
	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfDeliverable(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: deliverable %s", ErrNotFound, itemID)
	}

	d := &items[idx]
	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Amount != nil {
		d.Amount = s.norm.ToStorageFormat(*req.Amount)
	}
	if req.StartDate != nil {
		d.StartDate = *req.StartDate
	}
	if req.EndDate != nil {
		d.EndDate = *req.EndDate
	}

	set := changeset.Restore(state.Snapshot)
	set.RecordEdit(*d)
	state.Snapshot = set.Snapshot()

	if err := s.save(ctx, session, items, state); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// DeleteItem removes a deliverable from the session per change-set rules.
func (s *DeliverableService) DeleteItem(ctx context.Context, sessionID uuid.UUID, itemID string) (*domain.DeliverableSessionDTO, error) {
	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfDeliverable(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: deliverable %s", ErrNotFound, itemID)
	}

	set := changeset.Restore(state.Snapshot)
	set.RecordDelete(items[idx])
	state.Snapshot = set.Snapshot()
	items = append(items[:idx], items[idx+1:]...)

	if err := s.save(ctx, session, items, state); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// SubmitInvoice registers an invoice against a deliverable. All validation
// is field-scoped and blocks the registration outright; nothing is applied
// or enqueued while an error is present.
func (s *DeliverableService) SubmitInvoice(ctx context.Context, sessionID uuid.UUID, itemID string, req domain.InvoiceRequest) (*domain.DeliverableSessionDTO, error) {
	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfDeliverable(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: deliverable %s", ErrNotFound, itemID)
	}
	d := &items[idx]

	fullBudget := s.norm.ToFullAmount(d.Amount)
	if d.Invoiced > fullBudget {
		s.logger.Warn("Invoiced amount exceeds deliverable budget, remaining clamped to zero",
			zap.String("deliverable_id", d.ID),
			zap.Float64("invoiced", d.Invoiced),
			zap.Float64("budget", fullBudget),
		)
	}
	remaining := d.RemainingValue(s.norm)
	floor := state.Floors[d.ID]

	var amount, percentage float64
	fieldErrors := make(map[string]string)

	if req.FullRemaining {
		if remaining <= 0 {
			fieldErrors["amount"] = "No remaining value to invoice"
		}
		amount = remaining
		percentage = 100
	} else {
		if req.Amount == nil {
			fieldErrors["amount"] = "Invoice amount is required"
		} else {
			amount = *req.Amount
			if amount <= 0 {
				fieldErrors["amount"] = "Invoice amount must be greater than zero"
			} else if amount > remaining {
				fieldErrors["amount"] = fmt.Sprintf("Invoice amount exceeds remaining value of %s", money.FormatCurrency(&remaining, s.currency, true))
			}
		}

		if req.PaymentPercentage != nil {
			percentage = *req.PaymentPercentage
			if percentage < floor {
				fieldErrors["paymentPercentage"] = fmt.Sprintf("Payment percentage cannot go below %.0f", floor)
			} else if percentage > 100 {
				fieldErrors["paymentPercentage"] = "Payment percentage cannot exceed 100"
			}
		} else if fullBudget > 0 {
			// A derived percentage follows the invoiced share but never
			// drops below the session floor.
			percentage = math.Min(100, (d.Invoiced+amount)/fullBudget*100)
			percentage = math.Max(floor, percentage)
		} else {
			percentage = floor
		}
	}

	if len(fieldErrors) > 0 {
		return nil, &domain.APIError{
			Type:   domain.ErrorTypeValidation,
			Title:  "Validation Error",
			Status: http.StatusBadRequest,
			Detail: "Invoice submission failed validation",
			Errors: fieldErrors,
		}
	}

	d.Invoiced += amount
	d.PaymentPercentage = percentage
	if d.Status == domain.DeliverableStatusNew {
		d.Status = domain.DeliverableStatusInProgress
	}
	if percentage > floor {
		state.Floors[d.ID] = percentage
	}

	set := changeset.Restore(state.Snapshot)
	set.RecordEdit(*d)
	state.Snapshot = set.Snapshot()

	if err := s.save(ctx, session, items, state); err != nil {
		return nil, err
	}

	s.approvals.Enqueue(pmstore.ApprovalTask{
		Kind:      domain.ApprovalTaskInvoice,
		ProjectID: session.ProjectID,
		EntityID:  d.ID,
		Payload: map[string]any{
			"amount":            amount,
			"paymentPercentage": percentage,
		},
	})

	s.logger.Info("Invoice registered",
		zap.String("session_id", sessionID.String()),
		zap.String("deliverable_id", d.ID),
		zap.Float64("amount", amount),
		zap.Float64("payment_percentage", percentage),
	)
	return s.toDTO(session, items), nil
}

// UpdateProgress edits a deliverable's scope percentage in steps of ten.
// Reaching 100 requires a completion-evidence document on record; without
// one the update is blocked so the client can run the completion-upload
// flow first. Persisted deliverables are pushed upstream immediately.
func (s *DeliverableService) UpdateProgress(ctx context.Context, sessionID uuid.UUID, itemID string, req domain.ProgressRequest) (*domain.DeliverableSessionDTO, error) {
	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfDeliverable(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: deliverable %s", ErrNotFound, itemID)
	}
	d := &items[idx]

	scope := clampToStep(*req.ScopePercentage)
	progress := scope
	if req.ProgressPercentage != nil {
		progress = clampToStep(*req.ProgressPercentage)
	}

	status := d.Status
	if req.Status != "" {
		status = domain.DeliverableStatus(req.Status)
	}

	if scope == 100 {
		has, err := s.evidence.HasDocumentOfType(ctx, d.ID, domain.DocumentTypeScopeEvidence)
		if err != nil {
			return nil, fmt.Errorf("failed to check completion evidence: %w", err)
		}
		if !has {
			return nil, ErrEvidenceRequired
		}
		status = domain.DeliverableStatusCompleted
	}

	if !d.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, d.Status, status)
	}

	d.ScopePercentage = scope
	d.Status = status

	if !d.Transient() {
		upd := pmstore.ProgressUpdate{
			ScopePercentage:    scope,
			ProgressPercentage: progress,
			Status:             status,
		}
		if err := s.upstream.UpdateProgress(ctx, d.ID, upd); err != nil {
			s.logger.Error("Failed to push progress upstream",
				zap.String("deliverable_id", d.ID),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
	}

	set := changeset.Restore(state.Snapshot)
	set.RecordEdit(*d)
	state.Snapshot = set.Snapshot()

	if err := s.save(ctx, session, items, state); err != nil {
		return nil, err
	}

	if status == domain.DeliverableStatusCompleted {
		s.approvals.Enqueue(pmstore.ApprovalTask{
			Kind:      domain.ApprovalTaskCompletion,
			ProjectID: session.ProjectID,
			EntityID:  d.ID,
			Payload:   map[string]any{"scopePercentage": scope},
		})
	}

	return s.toDTO(session, items), nil
}

// Save submits the buffered change set as one batch. On failure the change
// set is preserved for a manual retry.
func (s *DeliverableService) Save(ctx context.Context, sessionID uuid.UUID) (*domain.SaveResultDTO, error) {
	if !s.guard.acquire(sessionID) {
		return nil, ErrSaveInFlight
	}
	defer s.guard.release(sessionID)

	session, items, state, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	set := changeset.Restore(state.Snapshot)
	if set.Empty() {
		return nil, ErrNothingToSave
	}

	snap := set.Snapshot()
	batch := pmstore.DeliverableBatch{
		ProjectID:           session.ProjectID,
		NewDeliverables:     snap.NewItems,
		UpdatedDeliverables: snap.Updates,
		DeletedDeliverables: snap.Deletions,
	}
	if err := s.upstream.SaveDeliverables(ctx, batch); err != nil {
		s.logger.Error("Deliverable batch save failed, change set preserved",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// Refetch so transient ids are replaced and floors reset to the newly
	// persisted percentages.
	fresh, err := s.upstream.FetchDeliverables(ctx, session.ProjectID)
	if err != nil {
		s.logger.Warn("Failed to refetch deliverables after save", zap.Error(err))
		fresh = items
	}

	newState := deliverableState{Floors: make(map[string]float64, len(fresh))}
	for _, d := range fresh {
		newState.Floors[d.ID] = d.PaymentPercentage
	}
	session.ExpiresAt = time.Now().Add(s.sessionTTL).UTC()
	if err := s.save(ctx, session, fresh, &newState); err != nil {
		return nil, err
	}

	s.logger.Info("Deliverable batch saved",
		zap.String("session_id", sessionID.String()),
		zap.String("project_id", session.ProjectID),
		zap.Int("created", len(snap.NewItems)),
		zap.Int("updated", len(snap.Updates)),
		zap.Int("deleted", len(snap.Deletions)),
	)

	return &domain.SaveResultDTO{
		Created:   len(snap.NewItems),
		Updated:   len(snap.Updates),
		Deleted:   len(snap.Deletions),
		SessionID: session.ID,
	}, nil
}

func (s *DeliverableService) load(ctx context.Context, sessionID uuid.UUID) (*domain.EditSession, []domain.Deliverable, *deliverableState, error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Kind != domain.SessionKindDeliverable {
		return nil, nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.Expired(time.Now()) {
		return nil, nil, nil, ErrSessionExpired
	}

	var items []domain.Deliverable
	if err := json.Unmarshal([]byte(session.Items), &items); err != nil {
		return nil, nil, nil, fmt.Errorf("corrupt session items: %w", err)
	}
	var state deliverableState
	if err := json.Unmarshal([]byte(session.ChangeSet), &state); err != nil {
		return nil, nil, nil, fmt.Errorf("corrupt session change set: %w", err)
	}
	if state.Floors == nil {
		state.Floors = make(map[string]float64)
	}
	return session, items, &state, nil
}

func (s *DeliverableService) save(ctx context.Context, session *domain.EditSession, items []domain.Deliverable, state *deliverableState) error {
	if err := s.persistState(session, items, state); err != nil {
		return err
	}
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		s.logger.Error("Failed to persist edit session", zap.Error(err))
		return fmt.Errorf("failed to persist edit session: %w", err)
	}
	return nil
}

func (s *DeliverableService) persistState(session *domain.EditSession, items []domain.Deliverable, state *deliverableState) error {
	if items == nil {
		items = []domain.Deliverable{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode session items: %w", err)
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	session.Items = string(itemsJSON)
	session.ChangeSet = string(stateJSON)
	return nil
}

func (s *DeliverableService) toDTO(session *domain.EditSession, items []domain.Deliverable) *domain.DeliverableSessionDTO {
	dtos := make([]domain.DeliverableDTO, 0, len(items))
	for _, d := range items {
		full := s.norm.ToFullAmount(d.Amount)
		dto := domain.DeliverableDTO{
			ID:                d.ID,
			Name:              d.Name,
			Amount:            full,
			AmountFormatted:   money.FormatCurrency(&full, s.currency, true),
			Invoiced:          d.Invoiced,
			RemainingValue:    d.RemainingValue(s.norm),
			PaymentPercentage: d.PaymentPercentage,
			ScopePercentage:   d.ScopePercentage,
			StartDate:         d.StartDate,
			EndDate:           d.EndDate,
			Status:            d.Status,
			Transient:         d.Transient(),
		}
		if start, err1 := time.Parse(schedule.DateLayout, d.StartDate); err1 == nil {
			if end, err2 := time.Parse(schedule.DateLayout, d.EndDate); err2 == nil && !start.After(end) {
				dto.DurationDays = schedule.InclusiveDays(start, end)
				dto.DurationMonths = schedule.PreciseMonths(start, end)
			}
		}
		dtos = append(dtos, dto)
	}

	return &domain.DeliverableSessionDTO{
		SessionID: session.ID,
		ProjectID: session.ProjectID,
		Items:     dtos,
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

// clampToStep snaps a percentage to the nearest step of ten inside [0,100].
func clampToStep(pct int) int {
	snapped := int(math.Round(float64(pct)/scopeStep)) * scopeStep
	if snapped < 0 {
		return 0
	}
	if snapped > 100 {
		return 100
	}
	return snapped
}

func indexOfDeliverable(items []domain.Deliverable, id string) int {
	for i, d := range items {
		if d.ID == id {
			return i
		}
	}
	return -1
}
