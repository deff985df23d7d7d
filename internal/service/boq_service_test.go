package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nordpm/dashboard-api/internal/boq"
	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/money"
	"github.com/nordpm/dashboard-api/internal/pmstore"
	"github.com/nordpm/dashboard-api/internal/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&domain.EditSession{},
		&domain.Document{},
		&domain.ApprovalFailure{},
	))
	return db
}

// fakePMStore implements the upstream interfaces and counts calls so tests
// can assert that guarded operations never reach the network.
type fakePMStore struct {
	mu sync.Mutex

	lineItems    []boq.LineItem
	deliverables []domain.Deliverable
	details      pmstore.ProjectDetails

	lineItemSaves    []pmstore.LineItemBatch
	deliverableSaves []pmstore.DeliverableBatch
	progressUpdates  map[string]pmstore.ProgressUpdate
	saveErr          error
	progressErr      error
}

func newFakePMStore() *fakePMStore {
	return &fakePMStore{progressUpdates: make(map[string]pmstore.ProgressUpdate)}
}

func (f *fakePMStore) FetchLineItems(ctx context.Context, projectID string) ([]boq.LineItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]boq.LineItem(nil), f.lineItems...), nil
}

func (f *fakePMStore) FetchProjectDetails(ctx context.Context, projectID string) (*pmstore.ProjectDetails, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d := f.details
	if d.ProjectID == "" {
		d.ProjectID = projectID
	}
	return &d, nil
}

func (f *fakePMStore) SaveLineItems(ctx context.Context, batch pmstore.LineItemBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.lineItemSaves = append(f.lineItemSaves, batch)
	return nil
}

func (f *fakePMStore) FetchDeliverables(ctx context.Context, projectID string) ([]domain.Deliverable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Deliverable(nil), f.deliverables...), nil
}

func (f *fakePMStore) SaveDeliverables(ctx context.Context, batch pmstore.DeliverableBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.deliverableSaves = append(f.deliverableSaves, batch)
	return nil
}

func (f *fakePMStore) UpdateProgress(ctx context.Context, deliverableID string, upd pmstore.ProgressUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.progressErr != nil {
		return f.progressErr
	}
	f.progressUpdates[deliverableID] = upd
	return nil
}

func (f *fakePMStore) lineItemSaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lineItemSaves)
}

func (f *fakePMStore) deliverableSaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliverableSaves)
}

// fakeApprovals records enqueued approval tasks.
type fakeApprovals struct {
	mu    sync.Mutex
	tasks []pmstore.ApprovalTask
}

func (f *fakeApprovals) Enqueue(task pmstore.ApprovalTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *fakeApprovals) enqueued() []pmstore.ApprovalTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pmstore.ApprovalTask(nil), f.tasks...)
}

func newBOQService(t *testing.T, store *fakePMStore, approvals *fakeApprovals) *BOQService {
	t.Helper()
	repo := repository.NewSessionRepository(setupTestDB(t))
	return NewBOQService(repo, store, approvals, money.DefaultNormalizer, "SAR", time.Hour, zap.NewNop())
}

func TestBOQOpenSession(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 2_000_000}
	store.lineItems = []boq.LineItem{
		{ID: "li-1", Name: "Excavation", Quantity: 10, UnitAmount: 50, Type: boq.ItemTypeExecution},
		{ID: "li-2", Name: "Upkeep", Quantity: 2, UnitAmount: 1_000_000, Type: boq.ItemTypeOperation},
	}

	svc := newBOQService(t, store, &fakeApprovals{})
	dto, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	assert.Equal(t, "p-1", dto.ProjectID)
	require.Len(t, dto.Items, 2)
	// unit amount 50 is widened by the millions heuristic
	assert.Equal(t, 500_000_000.0, dto.Summary.TotalExecution)
	assert.Equal(t, 2_000_000.0, dto.Summary.TotalOperation)
	assert.Equal(t, 502_000_000.0, dto.Summary.TotalProjectCost)
	assert.True(t, dto.Summary.OverBudget)
	assert.Equal(t, 50_000_000.0, dto.Items[0].UnitAmount, "DTO carries full amounts")
	assert.Equal(t, 500_000_000.0, dto.Items[0].Total)
}

func TestBOQAddRowDefaults(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 1_000_000}

	svc := newBOQService(t, store, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	dto, err := svc.AddItem(context.Background(), opened.SessionID, domain.AddLineItemRequest{})
	require.NoError(t, err)
	require.Len(t, dto.Items, 1)
	assert.Equal(t, string(boq.ItemTypeExecution), dto.Items[0].Type, "type defaults to Execution")
	assert.True(t, dto.Items[0].Transient)
}

func TestBOQOverBudgetSaveRejectedWithoutUpstreamCall(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 1_000_000}

	svc := newBOQService(t, store, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	// 5 x (40 widened to 40,000,000) = 200,000,000 against a 1,000,000 budget
	dto, err := svc.AddItem(context.Background(), opened.SessionID, domain.AddLineItemRequest{
		Name:       "Steelwork",
		Quantity:   5,
		UnitAmount: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, 200_000_000.0, dto.Summary.TotalProjectCost)
	assert.True(t, dto.Summary.OverBudget)

	_, err = svc.Save(context.Background(), opened.SessionID)
	assert.ErrorIs(t, err, ErrOverBudget)
	assert.Equal(t, 0, store.lineItemSaveCount(), "no network call on budget rejection")

	// change set survives the rejection
	after, err := svc.GetSession(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Len(t, after.Items, 1)
}

func TestBOQSaveSuccessClearsChangeSet(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 900_000_000}
	approvals := &fakeApprovals{}

	svc := newBOQService(t, store, approvals)
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), opened.SessionID, domain.AddLineItemRequest{
		Name: "Steelwork", Quantity: 5, UnitAmount: 40,
	})
	require.NoError(t, err)

	// the store will return the persisted row on refetch
	store.mu.Lock()
	store.lineItems = []boq.LineItem{{ID: "li-1", Name: "Steelwork", Quantity: 5, UnitAmount: 40, Type: boq.ItemTypeExecution}}
	store.mu.Unlock()

	result, err := svc.Save(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
	assert.Equal(t, 1, store.lineItemSaveCount())

	// a second save has nothing left to submit
	_, err = svc.Save(context.Background(), opened.SessionID)
	assert.ErrorIs(t, err, ErrNothingToSave)

	// transient id replaced by the store-assigned one
	after, err := svc.GetSession(context.Background(), opened.SessionID)
	require.NoError(t, err)
	require.Len(t, after.Items, 1)
	assert.Equal(t, "li-1", after.Items[0].ID)
	assert.False(t, after.Items[0].Transient)

	tasks := approvals.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ApprovalTaskBOQ, tasks[0].Kind)
}

func TestBOQSaveFailurePreservesChangeSet(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 900_000_000}
	store.saveErr = errors.New("pm store returned 502")

	svc := newBOQService(t, store, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), opened.SessionID, domain.AddLineItemRequest{
		Name: "Steelwork", Quantity: 5, UnitAmount: 40,
	})
	require.NoError(t, err)

	_, err = svc.Save(context.Background(), opened.SessionID)
	assert.ErrorIs(t, err, ErrUpstream)

	// retry after the store recovers succeeds with the same batch
	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	result, err := svc.Save(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)
}

func TestBOQDeleteTransientVersusPersisted(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 900_000_000}
	store.lineItems = []boq.LineItem{
		{ID: "li-1", Name: "Persisted", Quantity: 1, UnitAmount: 10, Type: boq.ItemTypeExecution},
	}

	svc := newBOQService(t, store, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	dto, err := svc.AddItem(context.Background(), opened.SessionID, domain.AddLineItemRequest{Name: "Draft"})
	require.NoError(t, err)
	transientID := dto.Items[1].ID

	// deleting the transient row leaves no trace
	dto, err = svc.DeleteItem(context.Background(), opened.SessionID, transientID)
	require.NoError(t, err)
	assert.Len(t, dto.Items, 1)

	// deleting the persisted row queues an upstream deletion
	dto, err = svc.DeleteItem(context.Background(), opened.SessionID, "li-1")
	require.NoError(t, err)
	assert.Empty(t, dto.Items)

	store.mu.Lock()
	store.lineItems = nil
	store.mu.Unlock()

	_, err = svc.Save(context.Background(), opened.SessionID)
	require.NoError(t, err)

	store.mu.Lock()
	batch := store.lineItemSaves[0]
	store.mu.Unlock()
	assert.Empty(t, batch.NewItems)
	assert.Equal(t, []string{"li-1"}, batch.Deletions)
}

func TestBOQUpdateRederivesTotal(t *testing.T) {
	store := newFakePMStore()
	store.details = pmstore.ProjectDetails{ApprovedProjectBudget: 900_000_000}
	store.lineItems = []boq.LineItem{
		{ID: "li-1", Name: "Paving", Quantity: 2, UnitAmount: 10, Type: boq.ItemTypeExecution},
	}

	svc := newBOQService(t, store, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 20_000_000.0, opened.Items[0].Total)

	qty := 3.0
	dto, err := svc.UpdateItem(context.Background(), opened.SessionID, "li-1", domain.UpdateLineItemRequest{Quantity: &qty})
	require.NoError(t, err)
	assert.Equal(t, 30_000_000.0, dto.Items[0].Total)
	assert.Equal(t, 30_000_000.0, dto.Summary.TotalExecution)
}

func TestBOQSessionNotFound(t *testing.T) {
	svc := newBOQService(t, newFakePMStore(), &fakeApprovals{})
	_, err := svc.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
