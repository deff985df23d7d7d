package boq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nordpm/dashboard-api/internal/money"
)

func TestLineItemTotal(t *testing.T) {
	n := money.DefaultNormalizer

	// unit amount 50 is in the millions heuristic range
	li := LineItem{Quantity: 10, UnitAmount: 50, Type: ItemTypeExecution}
	assert.Equal(t, 500_000_000.0, li.Total(n))

	// unit amount above the threshold passes through
	li = LineItem{Quantity: 2, UnitAmount: 1_000_000, Type: ItemTypeOperation}
	assert.Equal(t, 2_000_000.0, li.Total(n))
}

func TestTotals(t *testing.T) {
	n := money.DefaultNormalizer

	items := []LineItem{
		{ID: "a", Quantity: 10, UnitAmount: 50, Type: ItemTypeExecution},
		{ID: "b", Quantity: 2, UnitAmount: 1_000_000, Type: ItemTypeOperation},
	}

	s := Totals(items, n)
	assert.Equal(t, 500_000_000.0, s.TotalExecution)
	assert.Equal(t, 2_000_000.0, s.TotalOperation)
	assert.Equal(t, 502_000_000.0, s.TotalProjectCost)

	assert.True(t, s.OverBudget(2_000_000))
	assert.False(t, s.OverBudget(502_000_000), "equal to budget is not over")
	assert.False(t, s.OverBudget(600_000_000))
}

func TestTotalsEmpty(t *testing.T) {
	s := Totals(nil, money.DefaultNormalizer)
	assert.Equal(t, Summary{}, s)
	assert.False(t, s.OverBudget(0))
}

func TestTransientIDs(t *testing.T) {
	id := NewTransientID()
	assert.True(t, IsTransientID(id))
	assert.NotEqual(t, id, NewTransientID())

	assert.False(t, IsTransientID("8c2f4a7e-persisted"))
	assert.False(t, IsTransientID(""))
}

func TestItemTypeIsValid(t *testing.T) {
	assert.True(t, ItemTypeExecution.IsValid())
	assert.True(t, ItemTypeOperation.IsValid())
	assert.False(t, ItemType("Maintenance").IsValid())
	assert.False(t, ItemType("").IsValid())
}
