package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nordpm/dashboard-api/internal/boq"
	"github.com/nordpm/dashboard-api/internal/money"
)

func TestDeliverableStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to DeliverableStatus
		allowed  bool
	}{
		{DeliverableStatusNew, DeliverableStatusInProgress, true},
		{DeliverableStatusNew, DeliverableStatusCompleted, true},
		{DeliverableStatusInProgress, DeliverableStatusCompleted, true},
		{DeliverableStatusInProgress, DeliverableStatusInProgress, true},
		{DeliverableStatusCompleted, DeliverableStatusInProgress, false},
		{DeliverableStatusInProgress, DeliverableStatusNew, false},
		{DeliverableStatusCompleted, DeliverableStatusNew, false},
		{DeliverableStatusNew, DeliverableStatus("cancelled"), false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSessionExpiry(t *testing.T) {
	now := time.Now()
	s := EditSession{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(2*time.Hour)))
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, SessionKindBOQ.IsValid())
	assert.True(t, SessionKindDeliverable.IsValid())
	assert.False(t, SessionKind("offer").IsValid())

	assert.True(t, DocumentTypeScopeEvidence.IsValid())
	assert.False(t, DocumentType("RECEIPT").IsValid())
}

func TestDeliverableRemainingValue(t *testing.T) {
	n := money.DefaultNormalizer

	tests := []struct {
		name     string
		amount   float64
		invoiced float64
		want     float64
	}{
		{"compact budget widened", 50, 10_000_000, 40_000_000},
		{"full budget passes through", 200_000_000, 50_000_000, 150_000_000},
		{"nothing invoiced", 10, 0, 10_000_000},
		{"over invoiced clamps to zero", 10, 12_000_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Deliverable{Amount: tt.amount, Invoiced: tt.invoiced}
			assert.Equal(t, tt.want, d.RemainingValue(n))
		})
	}
}

func TestDeliverableTransient(t *testing.T) {
	assert.True(t, Deliverable{ID: boq.NewTransientID()}.Transient())
	assert.False(t, Deliverable{ID: "d-1"}.Transient())
}
