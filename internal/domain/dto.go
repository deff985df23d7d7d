package domain

import (
	"github.com/google/uuid"
)

// DTOs for the dashboard-facing API. Amounts in responses are always full
// values; storage-scaled forms never leave the service.

type LineItemDTO struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Unit           string  `json:"unit,omitempty"`
	Quantity       float64 `json:"quantity"`
	UnitAmount     float64 `json:"unitAmount"`
	Total          float64 `json:"total"`
	TotalFormatted string  `json:"totalFormatted"`
	Type           string  `json:"type"`
	Transient      bool    `json:"transient"`
}

type BOQSummaryDTO struct {
	TotalExecution   float64 `json:"totalExecution"`
	TotalOperation   float64 `json:"totalOperation"`
	TotalProjectCost float64 `json:"totalProjectCost"`
	Budget           float64 `json:"budget"`
	OverBudget       bool    `json:"overBudget"`
}

type BOQSessionDTO struct {
	SessionID uuid.UUID     `json:"sessionId"`
	ProjectID string        `json:"projectId"`
	Items     []LineItemDTO `json:"items"`
	Summary   BOQSummaryDTO `json:"summary"`
	ExpiresAt string        `json:"expiresAt"` // ISO 8601
}

type DeliverableDTO struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Amount            float64           `json:"amount"`
	AmountFormatted   string            `json:"amountFormatted"`
	Invoiced          float64           `json:"invoiced"`
	RemainingValue    float64           `json:"remainingValue"`
	PaymentPercentage float64           `json:"paymentPercentage"`
	ScopePercentage   int               `json:"scopePercentage"`
	StartDate         string            `json:"startDate,omitempty"`
	EndDate           string            `json:"endDate,omitempty"`
	DurationDays      int               `json:"durationDays,omitempty"`
	DurationMonths    float64           `json:"durationMonths,omitempty"`
	Status            DeliverableStatus `json:"status"`
	Transient         bool              `json:"transient"`
}

type DeliverableSessionDTO struct {
	SessionID uuid.UUID        `json:"sessionId"`
	ProjectID string           `json:"projectId"`
	Items     []DeliverableDTO `json:"items"`
	ExpiresAt string           `json:"expiresAt"` // ISO 8601
}

type ProjectDetailsDTO struct {
	ProjectID               string  `json:"projectId"`
	Name                    string  `json:"name"`
	VendorName              string  `json:"vendorName,omitempty"`
	ProjectTypeName         string  `json:"projectTypeName,omitempty"`
	PhaseName               string  `json:"phaseName,omitempty"`
	ApprovedProjectBudget   float64 `json:"approvedProjectBudget"`
	BudgetFormatted         string  `json:"budgetFormatted"`
	ExecutionStartDate      string  `json:"executionStartDate,omitempty"`
	ExecutionEndDate        string  `json:"executionEndDate,omitempty"`
	ExecutionDurationDays   int     `json:"executionDurationDays,omitempty"`
	MaintenanceDurationDays int     `json:"maintenanceDurationDays,omitempty"`
	ExecutionMonthSpan      int     `json:"executionMonthSpan,omitempty"`
}

type DocumentDTO struct {
	ID                       uuid.UUID    `json:"id"`
	DeliverableID            string       `json:"deliverableId"`
	ProjectID                string       `json:"projectId"`
	Type                     DocumentType `json:"type"`
	Filename                 string       `json:"filename"`
	ContentType              string       `json:"contentType"`
	Size                     int64        `json:"size"`
	InvoiceAmount            *float64     `json:"invoiceAmount,omitempty"`
	RelatedPaymentPercentage *float64     `json:"relatedPaymentPercentage,omitempty"`
	CreatedAt                string       `json:"createdAt"` // ISO 8601
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// Request DTOs

type AddLineItemRequest struct {
	Name       string  `json:"name" validate:"max=200"`
	Unit       string  `json:"unit,omitempty" validate:"max=50"`
	Quantity   float64 `json:"quantity" validate:"gte=0"`
	UnitAmount float64 `json:"unitAmount" validate:"gte=0"`
	Type       string  `json:"type,omitempty" validate:"omitempty,oneof=Execution Operation"`
}

type UpdateLineItemRequest struct {
	Name       *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Unit       *string  `json:"unit,omitempty" validate:"omitempty,max=50"`
	Quantity   *float64 `json:"quantity,omitempty" validate:"omitempty,gte=0"`
	UnitAmount *float64 `json:"unitAmount,omitempty" validate:"omitempty,gte=0"`
	Type       *string  `json:"type,omitempty" validate:"omitempty,oneof=Execution Operation"`
}

type AddDeliverableRequest struct {
	Name      string  `json:"name" validate:"required,max=200"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	StartDate string  `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string  `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type UpdateDeliverableRequest struct {
	Name      *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Amount    *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	StartDate *string  `json:"startDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate   *string  `json:"endDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// InvoiceRequest submits a partial or full-remaining invoice against one
// deliverable. Amount is the full value, already parsed from user input.
type InvoiceRequest struct {
	Amount            *float64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
	FullRemaining     bool     `json:"fullRemaining"`
	PaymentPercentage *float64 `json:"paymentPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
}

type ProgressRequest struct {
	ScopePercentage    *int   `json:"scopePercentage" validate:"required,gte=0,lte=100"`
	ProgressPercentage *int   `json:"progressPercentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Status             string `json:"status,omitempty" validate:"omitempty,oneof=new in_progress completed"`
}

// SaveResultDTO reports a successful batch save back to the dashboard.
type SaveResultDTO struct {
	Created   int       `json:"created"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	SessionID uuid.UUID `json:"sessionId"`
}
