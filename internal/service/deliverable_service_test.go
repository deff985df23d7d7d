package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nordpm/dashboard-api/internal/domain"
	"github.com/nordpm/dashboard-api/internal/money"
	"github.com/nordpm/dashboard-api/internal/repository"
)

// fakeEvidence answers the scope-completion gate.
type fakeEvidence struct {
	mu   sync.Mutex
	docs map[string]bool
	err  error
}

func (f *fakeEvidence) HasDocumentOfType(ctx context.Context, deliverableID string, docType domain.DocumentType) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.docs[deliverableID], nil
}

func newDeliverableService(t *testing.T, store *fakePMStore, evidence *fakeEvidence, approvals *fakeApprovals) *DeliverableService {
	t.Helper()
	if evidence == nil {
		evidence = &fakeEvidence{docs: map[string]bool{}}
	}
	repo := repository.NewSessionRepository(setupTestDB(t))
	return NewDeliverableService(repo, store, evidence, approvals, money.DefaultNormalizer, "SAR", time.Hour, zap.NewNop())
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestDeliverableOpenSessionDerivesValues(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{
			ID:                "d-1",
			Name:              "Site survey",
			Amount:            50, // widened to 50,000,000
			Invoiced:          10_000_000,
			PaymentPercentage: 20,
			StartDate:         "2026-01-01",
			EndDate:           "2026-03-31",
			Status:            domain.DeliverableStatusInProgress,
		},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	dto, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, dto.Items, 1)

	item := dto.Items[0]
	assert.Equal(t, 50_000_000.0, item.Amount)
	assert.Equal(t, 40_000_000.0, item.RemainingValue)
	assert.Equal(t, 90, item.DurationDays)
	assert.Equal(t, 3.0, item.DurationMonths)
	assert.False(t, item.Transient)
}

func TestDeliverableRemainingValueClampsToZero(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Overrun", Amount: 10, Invoiced: 12_000_000, Status: domain.DeliverableStatusInProgress},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	dto, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, dto.Items[0].RemainingValue)
}

func TestSubmitInvoiceValidation(t *testing.T) {
	base := domain.Deliverable{
		ID:                "d-1",
		Name:              "Civil works",
		Amount:            100, // 100,000,000 full
		Invoiced:          40_000_000,
		PaymentPercentage: 40,
		Status:            domain.DeliverableStatusInProgress,
	}

	tests := []struct {
		name      string
		req       domain.InvoiceRequest
		wantField string
	}{
		{
			name:      "missing amount",
			req:       domain.InvoiceRequest{},
			wantField: "amount",
		},
		{
			name:      "non positive amount",
			req:       domain.InvoiceRequest{Amount: floatPtr(-5)},
			wantField: "amount",
		},
		{
			name:      "amount exceeds remaining",
			req:       domain.InvoiceRequest{Amount: floatPtr(70_000_000)},
			wantField: "amount",
		},
		{
			name:      "percentage below floor",
			req:       domain.InvoiceRequest{Amount: floatPtr(1_000_000), PaymentPercentage: floatPtr(30)},
			wantField: "paymentPercentage",
		},
		{
			name:      "percentage above hundred",
			req:       domain.InvoiceRequest{Amount: floatPtr(1_000_000), PaymentPercentage: floatPtr(110)},
			wantField: "paymentPercentage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakePMStore()
			store.deliverables = []domain.Deliverable{base}
			svc := newDeliverableService(t, store, nil, &fakeApprovals{})
			opened, err := svc.OpenSession(context.Background(), "p-1")
			require.NoError(t, err)

			_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", tt.req)
			var apiErr *domain.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Contains(t, apiErr.Errors, tt.wantField)

			// nothing applied on a rejected invoice
			after, err := svc.GetSession(context.Background(), opened.SessionID)
			require.NoError(t, err)
			assert.Equal(t, 40_000_000.0, after.Items[0].Invoiced)
		})
	}
}

func TestSubmitInvoiceAppliesAndRaisesFloor(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 0, PaymentPercentage: 0, Status: domain.DeliverableStatusNew},
	}
	approvals := &fakeApprovals{}

	svc := newDeliverableService(t, store, nil, approvals)
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	// percentage omitted, derived from invoiced share: 30M of 100M
	dto, err := svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount: floatPtr(30_000_000),
	})
	require.NoError(t, err)
	item := dto.Items[0]
	assert.Equal(t, 30_000_000.0, item.Invoiced)
	assert.Equal(t, 30.0, item.PaymentPercentage)
	assert.Equal(t, domain.DeliverableStatusInProgress, item.Status, "first invoice moves new to in progress")

	// the registered percentage becomes the new floor
	_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount:            floatPtr(1_000_000),
		PaymentPercentage: floatPtr(20),
	})
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Errors, "paymentPercentage")

	tasks := approvals.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ApprovalTaskInvoice, tasks[0].Kind)
	assert.Equal(t, "d-1", tasks[0].EntityID)
}

func TestSubmitInvoiceDerivedPercentageHoldsFloor(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 10_000_000, PaymentPercentage: 40, Status: domain.DeliverableStatusInProgress},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	// invoiced share after this invoice is 20, below the persisted 40;
	// the derived percentage is clamped up to the floor
	dto, err := svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount: floatPtr(10_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, 40.0, dto.Items[0].PaymentPercentage)

	// and the floor itself never moved down
	_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount:            floatPtr(1_000_000),
		PaymentPercentage: floatPtr(30),
	})
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Errors, "paymentPercentage")
}

func TestSubmitInvoiceFullRemainingRequiresRemainingValue(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 100_000_000, PaymentPercentage: 100, Status: domain.DeliverableStatusInProgress},
	}
	approvals := &fakeApprovals{}

	svc := newDeliverableService(t, store, nil, approvals)
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{FullRemaining: true})
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Errors, "amount")
	assert.Empty(t, approvals.enqueued(), "no approval task for a rejected invoice")
}

func TestSubmitInvoiceFullRemaining(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 75_000_000, PaymentPercentage: 75, Status: domain.DeliverableStatusInProgress},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	dto, err := svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{FullRemaining: true})
	require.NoError(t, err)
	item := dto.Items[0]
	assert.Equal(t, 100_000_000.0, item.Invoiced)
	assert.Equal(t, 100.0, item.PaymentPercentage)
	assert.Equal(t, 0.0, item.RemainingValue)
}

func TestUpdateProgressSnapsToStep(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Status: domain.DeliverableStatusInProgress},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	dto, err := svc.UpdateProgress(context.Background(), opened.SessionID, "d-1", domain.ProgressRequest{
		ScopePercentage: intPtr(47),
	})
	require.NoError(t, err)
	assert.Equal(t, 50, dto.Items[0].ScopePercentage)

	store.mu.Lock()
	upd, pushed := store.progressUpdates["d-1"]
	store.mu.Unlock()
	require.True(t, pushed, "persisted deliverables push progress upstream immediately")
	assert.Equal(t, 50, upd.ScopePercentage)
}

func TestUpdateProgressCompletionRequiresEvidence(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, ScopePercentage: 90, Status: domain.DeliverableStatusInProgress},
	}
	evidence := &fakeEvidence{docs: map[string]bool{}}
	approvals := &fakeApprovals{}

	svc := newDeliverableService(t, store, evidence, approvals)
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.UpdateProgress(context.Background(), opened.SessionID, "d-1", domain.ProgressRequest{
		ScopePercentage: intPtr(100),
	})
	assert.ErrorIs(t, err, ErrEvidenceRequired)

	// blocked update leaves the deliverable untouched
	after, err := svc.GetSession(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 90, after.Items[0].ScopePercentage)
	assert.Equal(t, domain.DeliverableStatusInProgress, after.Items[0].Status)

	// with evidence on record the same update completes the deliverable
	evidence.mu.Lock()
	evidence.docs["d-1"] = true
	evidence.mu.Unlock()

	dto, err := svc.UpdateProgress(context.Background(), opened.SessionID, "d-1", domain.ProgressRequest{
		ScopePercentage: intPtr(100),
	})
	require.NoError(t, err)
	assert.Equal(t, 100, dto.Items[0].ScopePercentage)
	assert.Equal(t, domain.DeliverableStatusCompleted, dto.Items[0].Status)

	tasks := approvals.enqueued()
	require.Len(t, tasks, 1)
	assert.Equal(t, domain.ApprovalTaskCompletion, tasks[0].Kind)
}

func TestUpdateProgressRejectsBackwardStatus(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, ScopePercentage: 100, Status: domain.DeliverableStatusCompleted},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.UpdateProgress(context.Background(), opened.SessionID, "d-1", domain.ProgressRequest{
		ScopePercentage: intPtr(50),
		Status:          string(domain.DeliverableStatusInProgress),
	})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeliverableSaveResetsFloorsFromFreshFetch(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 0, PaymentPercentage: 0, Status: domain.DeliverableStatusNew},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount: floatPtr(30_000_000),
	})
	require.NoError(t, err)

	// the store returns the persisted percentage on refetch
	store.mu.Lock()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Invoiced: 30_000_000, PaymentPercentage: 30, Status: domain.DeliverableStatusInProgress},
	}
	store.mu.Unlock()

	result, err := svc.Save(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 1, store.deliverableSaveCount())

	// the refreshed floor still holds after the save
	_, err = svc.SubmitInvoice(context.Background(), opened.SessionID, "d-1", domain.InvoiceRequest{
		Amount:            floatPtr(1_000_000),
		PaymentPercentage: floatPtr(10),
	})
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Errors, "paymentPercentage")
}

func TestDeliverableSaveFailurePreservesChangeSet(t *testing.T) {
	store := newFakePMStore()
	store.deliverables = []domain.Deliverable{
		{ID: "d-1", Name: "Civil works", Amount: 100, Status: domain.DeliverableStatusNew},
	}

	svc := newDeliverableService(t, store, nil, &fakeApprovals{})
	opened, err := svc.OpenSession(context.Background(), "p-1")
	require.NoError(t, err)

	_, err = svc.AddItem(context.Background(), opened.SessionID, domain.AddDeliverableRequest{
		Name: "Handover", Amount: 5_000_000, StartDate: "2026-04-01", EndDate: "2026-04-30",
	})
	require.NoError(t, err)

	store.mu.Lock()
	store.saveErr = errors.New("pm store returned 503")
	store.mu.Unlock()

	_, err = svc.Save(context.Background(), opened.SessionID)
	assert.ErrorIs(t, err, ErrUpstream)

	store.mu.Lock()
	store.saveErr = nil
	store.mu.Unlock()

	result, err := svc.Save(context.Background(), opened.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	_, err = svc.Save(context.Background(), opened.SessionID)
	assert.ErrorIs(t, err, ErrNothingToSave)
}
