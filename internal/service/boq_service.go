package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
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
)

// BOQUpstream is the slice of the PM store the BOQ service needs.
type BOQUpstream interface {
	FetchLineItems(ctx context.Context, projectID string) ([]boq.LineItem, error)
	FetchProjectDetails(ctx context.Context, projectID string) (*pmstore.ProjectDetails, error)
	SaveLineItems(ctx context.Context, batch pmstore.LineItemBatch) error
}

// ApprovalQueue enqueues best-effort approval tasks.
type ApprovalQueue interface {
	Enqueue(task pmstore.ApprovalTask)
}

// BOQService buffers bill-of-quantities edit sessions and reconciles them
// against the approved project budget before any batch reaches the store.
type BOQService struct {
	sessionRepo *repository.SessionRepository
	upstream    BOQUpstream
	approvals   ApprovalQueue
	norm        money.Normalizer
	currency    string
	sessionTTL  time.Duration
	guard       *saveGuard
	logger      *zap.Logger
}

// NewBOQService creates a new BOQService instance
func NewBOQService(
	sessionRepo *repository.SessionRepository,
	upstream BOQUpstream,
	approvals ApprovalQueue,
	norm money.Normalizer,
	currency string,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *BOQService {
	return &BOQService{
		sessionRepo: sessionRepo,
		upstream:    upstream,
		approvals:   approvals,
		norm:        norm,
		currency:    currency,
		sessionTTL:  sessionTTL,
		guard:       newSaveGuard(),
		logger:      logger,
	}
}

// OpenSession fetches the project's persisted line items and budget and
// buffers them in a fresh edit session.
func (s *BOQService) OpenSession(ctx context.Context, projectID string) (*domain.BOQSessionDTO, error) {
	details, err := s.upstream.FetchProjectDetails(ctx, projectID)
	if err != nil {
		s.logger.Error("Failed to fetch project details", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	items, err := s.upstream.FetchLineItems(ctx, projectID)
	if err != nil {
		s.logger.Error("Failed to fetch line items", zap.String("project_id", projectID), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	session := &domain.EditSession{
		ProjectID: projectID,
		Kind:      domain.SessionKindBOQ,
		Budget:    s.norm.ToFullAmount(details.ApprovedProjectBudget),
		ExpiresAt: time.Now().Add(s.sessionTTL).UTC(),
	}
	var set changeset.Set[boq.LineItem]
	if err := s.persistState(session, items, &set); err != nil {
		return nil, err
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		s.logger.Error("Failed to create edit session", zap.Error(err))
		return nil, fmt.Errorf("failed to create edit session: %w", err)
	}

	s.logger.Info("Opened BOQ edit session",
		zap.String("session_id", session.ID.String()),
		zap.String("project_id", projectID),
		zap.Int("items", len(items)),
	)
	return s.toDTO(session, items), nil
}

// GetSession returns the buffered session with freshly derived totals.
func (s *BOQService) GetSession(ctx context.Context, sessionID uuid.UUID) (*domain.BOQSessionDTO, error) {
	session, items, _, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// AddItem appends an empty row with a transient id. Type defaults to
// Execution.
func (s *BOQService) AddItem(ctx context.Context, sessionID uuid.UUID, req domain.AddLineItemRequest) (*domain.BOQSessionDTO, error) {
	session, items, set, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	itemType := boq.ItemType(req.Type)
	if itemType == "" {
		itemType = boq.ItemTypeExecution
	}

	item := boq.LineItem{
		ID:         boq.NewTransientID(),
		Name:       req.Name,
		Unit:       req.Unit,
		Quantity:   req.Quantity,
		UnitAmount: req.UnitAmount,
		Type:       itemType,
	}
	items = append(items, item)
	set.RecordAdd(item)

	if err := s.save(ctx, session, items, set); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// UpdateItem applies a field edit. Totals are re-derived on read, never
// stored.
func (s *BOQService) UpdateItem(ctx context.Context, sessionID uuid.UUID, itemID string, req domain.UpdateLineItemRequest) (*domain.BOQSessionDTO, error) {
	session, items, set, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfItem(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: line item %s", ErrNotFound, itemID)
	}

	item := &items[idx]
	if req.Name != nil {
		item.Name = *req.Name
	}
	if req.Unit != nil {
		item.Unit = *req.Unit
	}
	if req.Quantity != nil {
		item.Quantity = *req.Quantity
	}
	if req.UnitAmount != nil {
		item.UnitAmount = *req.UnitAmount
	}
	if req.Type != nil {
		item.Type = boq.ItemType(*req.Type)
	}
	set.RecordEdit(*item)

	if err := s.save(ctx, session, items, set); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// DeleteItem removes a row. Transient rows vanish without a trace;
// persisted rows are queued for upstream deletion.
func (s *BOQService) DeleteItem(ctx context.Context, sessionID uuid.UUID, itemID string) (*domain.BOQSessionDTO, error) {
	session, items, set, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	idx := indexOfItem(items, itemID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: line item %s", ErrNotFound, itemID)
	}

	set.RecordDelete(items[idx])
	items = append(items[:idx], items[idx+1:]...)

	if err := s.save(ctx, session, items, set); err != nil {
		return nil, err
	}
	return s.toDTO(session, items), nil
}

// Save submits the buffered change set as one batch. The save is rejected
// before any upstream call when the derived total exceeds the budget, when
// another save for the session is in flight, or when there is nothing to
// submit. On upstream failure the change set is preserved for retry.
func (s *BOQService) Save(ctx context.Context, sessionID uuid.UUID) (*domain.SaveResultDTO, error) {
	if !s.guard.acquire(sessionID) {
		return nil, ErrSaveInFlight
	}
	defer s.guard.release(sessionID)

	session, items, set, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if set.Empty() {
		return nil, ErrNothingToSave
	}

	summary := boq.Totals(items, s.norm)
	if summary.OverBudget(session.Budget) {
		s.logger.Warn("BOQ save rejected, over budget",
			zap.String("session_id", sessionID.String()),
			zap.Float64("total_project_cost", summary.TotalProjectCost),
			zap.Float64("budget", session.Budget),
		)
		return nil, fmt.Errorf("%w: total %.2f against budget %.2f", ErrOverBudget, summary.TotalProjectCost, session.Budget)
	}

	snap := set.Snapshot()
	batch := pmstore.LineItemBatch{
		ProjectID: session.ProjectID,
		NewItems:  snap.NewItems,
		Updates:   snap.Updates,
		Deletions: snap.Deletions,
	}
	if err := s.upstream.SaveLineItems(ctx, batch); err != nil {
		s.logger.Error("BOQ batch save failed, change set preserved",
			zap.String("session_id", sessionID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	// Refetch so transient ids are replaced by store-assigned ones.
	fresh, err := s.upstream.FetchLineItems(ctx, session.ProjectID)
	if err != nil {
		s.logger.Warn("Failed to refetch line items after save", zap.Error(err))
		fresh = items
	}

	set.Clear()
	session.ExpiresAt = time.Now().Add(s.sessionTTL).UTC()
	if err := s.save(ctx, session, fresh, set); err != nil {
		return nil, err
	}

	s.approvals.Enqueue(pmstore.ApprovalTask{
		Kind:      domain.ApprovalTaskBOQ,
		ProjectID: session.ProjectID,
		Payload: map[string]any{
			"totalProjectCost": summary.TotalProjectCost,
			"budget":           session.Budget,
		},
	})

	s.logger.Info("BOQ batch saved",
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

func (s *BOQService) load(ctx context.Context, sessionID uuid.UUID) (*domain.EditSession, []boq.LineItem, *changeset.Set[boq.LineItem], error) {
	session, err := s.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Kind != domain.SessionKindBOQ {
		return nil, nil, nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	if session.Expired(time.Now()) {
		return nil, nil, nil, ErrSessionExpired
	}

	var items []boq.LineItem
	if err := json.Unmarshal([]byte(session.Items), &items); err != nil {
		return nil, nil, nil, fmt.Errorf("corrupt session items: %w", err)
	}
	var snap changeset.Snapshot[boq.LineItem]
	if err := json.Unmarshal([]byte(session.ChangeSet), &snap); err != nil {
		return nil, nil, nil, fmt.Errorf("corrupt session change set: %w", err)
	}
	return session, items, changeset.Restore(snap), nil
}

func (s *BOQService) save(ctx context.Context, session *domain.EditSession, items []boq.LineItem, set *changeset.Set[boq.LineItem]) error {
	if err := s.persistState(session, items, set); err != nil {
		return err
	}
	if session.ID == uuid.Nil {
		return s.sessionRepo.Create(ctx, session)
	}
	if err := s.sessionRepo.Update(ctx, session); err != nil {
		s.logger.Error("Failed to persist edit session", zap.Error(err))
		return fmt.Errorf("failed to persist edit session: %w", err)
	}
	return nil
}

func (s *BOQService) persistState(session *domain.EditSession, items []boq.LineItem, set *changeset.Set[boq.LineItem]) error {
	if items == nil {
		items = []boq.LineItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode session items: %w", err)
	}
	setJSON, err := json.Marshal(set.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode change set: %w", err)
	}
	session.Items = string(itemsJSON)
	session.ChangeSet = string(setJSON)
	return nil
}

func (s *BOQService) toDTO(session *domain.EditSession, items []boq.LineItem) *domain.BOQSessionDTO {
	summary := boq.Totals(items, s.norm)

	dtos := make([]domain.LineItemDTO, 0, len(items))
	for _, li := range items {
		total := li.Total(s.norm)
		dtos = append(dtos, domain.LineItemDTO{
			ID:             li.ID,
			Name:           li.Name,
			Unit:           li.Unit,
			Quantity:       li.Quantity,
			UnitAmount:     s.norm.ToFullAmount(li.UnitAmount),
			Total:          total,
			TotalFormatted: money.FormatCurrency(&total, s.currency, true),
			Type:           string(li.Type),
			Transient:      li.Transient(),
		})
	}

	return &domain.BOQSessionDTO{
		SessionID: session.ID,
		ProjectID: session.ProjectID,
		Items:     dtos,
		Summary: domain.BOQSummaryDTO{
			TotalExecution:   summary.TotalExecution,
			TotalOperation:   summary.TotalOperation,
			TotalProjectCost: summary.TotalProjectCost,
			Budget:           session.Budget,
			OverBudget:       summary.OverBudget(session.Budget),
		},
		ExpiresAt: session.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func indexOfItem(items []boq.LineItem, id string) int {
	for i, li := range items {
		if li.ID == id {
			return i
		}
	}
	return -1
}
