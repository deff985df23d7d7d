// Package boq aggregates bill-of-quantities line items into execution and
// operation cost totals and checks them against the approved project budget.
package boq

import (
	"strings"

	"github.com/google/uuid"

	"github.com/nordpm/dashboard-api/internal/money"
)

// TransientIDPrefix marks line items created during an edit session that
// have not yet been persisted by the upstream store.
const TransientIDPrefix = "tmp-"

// ItemType classifies a line item as execution or operation cost.
type ItemType string

const (
	ItemTypeExecution ItemType = "Execution"
	ItemTypeOperation ItemType = "Operation"
)

func (t ItemType) IsValid() bool {
	return t == ItemTypeExecution || t == ItemTypeOperation
}

// LineItem is one BOQ row. UnitAmount is kept in the upstream storage
// format; Total derives the full cost, it is never stored.
type LineItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Unit       string   `json:"unit"`
	Quantity   float64  `json:"quantity"`
	UnitAmount float64  `json:"unitAmount"`
	Type       ItemType `json:"type"`
}

// Total derives the full line cost: quantity times the widened unit amount.
func (li LineItem) Total(n money.Normalizer) float64 {
	return li.Quantity * n.ToFullAmount(li.UnitAmount)
}

// Key returns the change-set key for the row.
func (li LineItem) Key() string { return li.ID }

// Transient reports whether the row is not yet persisted upstream.
func (li LineItem) Transient() bool { return IsTransientID(li.ID) }

// Summary holds the derived cost aggregates for a set of line items.
type Summary struct {
	TotalExecution   float64 `json:"totalExecution"`
	TotalOperation   float64 `json:"totalOperation"`
	TotalProjectCost float64 `json:"totalProjectCost"`
}

// OverBudget reports whether the total project cost strictly exceeds the
// approved budget. Equality is within budget.
func (s Summary) OverBudget(budget float64) bool {
	return s.TotalProjectCost > budget
}

// Totals recomputes the summary from scratch. Callers re-derive on every
// item or budget change rather than maintaining running sums.
func Totals(items []LineItem, n money.Normalizer) Summary {
	var s Summary
	for _, li := range items {
		switch li.Type {
		case ItemTypeExecution:
			s.TotalExecution += li.Total(n)
		case ItemTypeOperation:
			s.TotalOperation += li.Total(n)
		}
	}
	s.TotalProjectCost = s.TotalExecution + s.TotalOperation
	return s
}

// NewTransientID mints an id for a not-yet-persisted row.
func NewTransientID() string {
	return TransientIDPrefix + uuid.NewString()
}

// IsTransientID reports whether an id was minted client-side and is unknown
// to the upstream store.
func IsTransientID(id string) bool {
	return strings.HasPrefix(id, TransientIDPrefix)
}
