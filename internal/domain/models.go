package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nordpm/dashboard-api/internal/boq"
	"github.com/nordpm/dashboard-api/internal/money"
)

// Base model with common fields
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BeforeCreate assigns an id when none was set, so inserts work the same
// against Postgres and the SQLite test databases.
func (m *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// SessionKind distinguishes what an edit session buffers
type SessionKind string

const (
	SessionKindBOQ         SessionKind = "boq"
	SessionKindDeliverable SessionKind = "deliverable"
)

func (k SessionKind) IsValid() bool {
	return k == SessionKindBOQ || k == SessionKindDeliverable
}

// EditSession buffers one load-edit-save cycle server-side. Items and
// ChangeSet hold JSON snapshots; the service layer owns their shape.
type EditSession struct {
	BaseModel
	ProjectID string      `gorm:"type:varchar(100);not null;index;column:project_id"`
	Kind      SessionKind `gorm:"type:varchar(20);not null;index"`
	Budget    float64     `gorm:"not null;default:0"`
	Items     string      `gorm:"type:jsonb;not null;default:'[]'"`
	ChangeSet string      `gorm:"type:jsonb;not null;default:'{}';column:change_set"`
	ExpiresAt time.Time   `gorm:"not null;index;column:expires_at"`
}

// Expired reports whether the session passed its expiry at the given time.
func (s *EditSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// DeliverableStatus represents the lifecycle state of a deliverable
type DeliverableStatus string

const (
	DeliverableStatusNew        DeliverableStatus = "new"
	DeliverableStatusInProgress DeliverableStatus = "in_progress"
	DeliverableStatusCompleted  DeliverableStatus = "completed"
)

func (s DeliverableStatus) IsValid() bool {
	switch s {
	case DeliverableStatusNew, DeliverableStatusInProgress, DeliverableStatusCompleted:
		return true
	}
	return false
}

// rank orders the lifecycle; transitions never move backward.
func (s DeliverableStatus) rank() int {
	switch s {
	case DeliverableStatusNew:
		return 0
	case DeliverableStatusInProgress:
		return 1
	case DeliverableStatusCompleted:
		return 2
	}
	return -1
}

// CanTransitionTo reports whether the status may move to next. Staying put
// is allowed, going backward is not.
func (s DeliverableStatus) CanTransitionTo(next DeliverableStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() >= s.rank()
}

// Deliverable is the upstream store's snapshot of a billable unit of work,
// buffered inside deliverable edit sessions. Amount is storage-scaled.
// New deliverables carry a transient id until the upstream store assigns
// a real one.
type Deliverable struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Amount            float64           `json:"amount"`
	Invoiced          float64           `json:"invoiced"`
	PaymentPercentage float64           `json:"paymentPercentage"`
	ScopePercentage   int               `json:"scopePercentage"`
	StartDate         string            `json:"startDate"`
	EndDate           string            `json:"endDate"`
	Status            DeliverableStatus `json:"status"`
}

// Key returns the change-set key for the deliverable.
func (d Deliverable) Key() string { return d.ID }

// Transient reports whether the deliverable is not yet persisted upstream.
func (d Deliverable) Transient() bool { return boq.IsTransientID(d.ID) }

// RemainingValue is the budget still open for invoicing, widened to a full
// amount. Out-of-order corrections can push invoiced past the budget; the
// remainder clamps to zero instead of going negative.
func (d Deliverable) RemainingValue(n money.Normalizer) float64 {
	remaining := n.ToFullAmount(d.Amount) - d.Invoiced
	if remaining < 0 {
		return 0
	}
	return remaining
}

// DocumentType classifies an evidence document
type DocumentType string

const (
	DocumentTypeDeliveryNote  DocumentType = "DELIVERY_NOTE"
	DocumentTypeInvoice       DocumentType = "INVOICE"
	DocumentTypeScopeEvidence DocumentType = "SCOPE_EVIDENCE"
)

func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentTypeDeliveryNote, DocumentTypeInvoice, DocumentTypeScopeEvidence:
		return true
	}
	return false
}

// Document is the local metadata row for an uploaded evidence file. The
// binary lives in blob storage; the descriptor is also registered upstream.
type Document struct {
	BaseModel
	DeliverableID            string       `gorm:"type:varchar(100);not null;index;column:deliverable_id"`
	ProjectID                string       `gorm:"type:varchar(100);not null;index;column:project_id"`
	Type                     DocumentType `gorm:"type:varchar(50);not null;index"`
	Filename                 string       `gorm:"type:varchar(255);not null"`
	ContentType              string       `gorm:"type:varchar(100);not null;column:content_type"`
	Size                     int64        `gorm:"not null"`
	StoragePath              string       `gorm:"type:varchar(500);not null;unique;column:storage_path"`
	InvoiceAmount            *float64     `gorm:"column:invoice_amount"`
	RelatedPaymentPercentage *float64     `gorm:"column:related_payment_percentage"`
	UpstreamID               string       `gorm:"type:varchar(100);column:upstream_id"`
}

// ApprovalTaskKind identifies which downstream approval a task requests
type ApprovalTaskKind string

const (
	ApprovalTaskBOQ        ApprovalTaskKind = "boq_approval"
	ApprovalTaskInvoice    ApprovalTaskKind = "invoice_approval"
	ApprovalTaskCompletion ApprovalTaskKind = "completion_approval"
)

// ApprovalFailure records a best-effort approval dispatch that could not be
// delivered. The primary operation already succeeded; this row exists so the
// failure is visible in telemetry instead of vanishing into a log line.
type ApprovalFailure struct {
	BaseModel
	TaskKind  ApprovalTaskKind `gorm:"type:varchar(50);not null;index;column:task_kind"`
	ProjectID string           `gorm:"type:varchar(100);not null;index;column:project_id"`
	EntityID  string           `gorm:"type:varchar(100);column:entity_id"`
	Payload   string           `gorm:"type:jsonb;not null;default:'{}'"`
	Reason    string           `gorm:"type:text;not null"`
}
