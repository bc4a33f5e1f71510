package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OperationStatus represents the lifecycle state of a bulk operation.
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "PENDING"
	OperationStatusProcessing OperationStatus = "PROCESSING"
	OperationStatusCompleted  OperationStatus = "COMPLETED"
	OperationStatusFailed     OperationStatus = "FAILED"
	OperationStatusCancelled  OperationStatus = "CANCELLED"
)

func (s OperationStatus) String() string { return string(s) }

func (s OperationStatus) IsValid() bool {
	switch s {
	case OperationStatusPending, OperationStatusProcessing, OperationStatusCompleted,
		OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further status transition is allowed.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationStatusCompleted, OperationStatusFailed, OperationStatusCancelled:
		return true
	}
	return false
}

func ParseOperationStatusFromString(s string) (OperationStatus, error) {
	st := OperationStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid operation status %q", ErrValidation, s)
	}
	return st, nil
}

// OperationType identifies which per-item side effect a bulk operation performs.
type OperationType string

const (
	TypeBulkEmail             OperationType = "BULK_EMAIL"
	TypeBulkStatusUpdate      OperationType = "BULK_STATUS_UPDATE"
	TypeBulkInterviewSchedule OperationType = "BULK_INTERVIEW_SCHEDULE"
	TypeBulkEnrichment        OperationType = "BULK_ENRICHMENT"
	TypeBulkExport            OperationType = "BULK_EXPORT"
)

// OperationTypes lists every supported operation type in a stable order.
func OperationTypes() []OperationType {
	return []OperationType{
		TypeBulkEmail,
		TypeBulkStatusUpdate,
		TypeBulkInterviewSchedule,
		TypeBulkEnrichment,
		TypeBulkExport,
	}
}

func (t OperationType) String() string { return string(t) }

func (t OperationType) IsValid() bool {
	switch t {
	case TypeBulkEmail, TypeBulkStatusUpdate, TypeBulkInterviewSchedule,
		TypeBulkEnrichment, TypeBulkExport:
		return true
	}
	return false
}

func ParseOperationTypeFromString(s string) (OperationType, error) {
	t := OperationType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.IsValid() {
		return "", fmt.Errorf("%w: invalid operation type %q", ErrValidation, s)
	}
	return t, nil
}

const MaxOperationItems = 10000

// BulkOperation tracks one bulk request spanning many candidate items.
//
// Counter invariant: ProcessedItems == SuccessCount + FailureCount and
// ProcessedItems <= TotalItems at all times. TotalItems is fixed at creation.
type BulkOperation struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	Type            OperationType   `gorm:"type:varchar(30);not null"`
	Status          OperationStatus `gorm:"type:varchar(20);not null"`
	Parameters      []byte          `gorm:"type:jsonb;not null"`
	RequestedBy     string          `gorm:"type:varchar(255);not null"`
	TotalItems      int             `gorm:"not null"`
	ProcessedItems  int             `gorm:"not null;default:0"`
	SuccessCount    int             `gorm:"not null;default:0"`
	FailureCount    int             `gorm:"not null;default:0"`
	FailureReason   *string         `gorm:"type:text"`
	CancelRequested bool            `gorm:"not null;default:false"`
	HeartbeatAt     *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (o *BulkOperation) Validate() error {
	if !o.Type.IsValid() {
		return fmt.Errorf("%w: invalid operation type %q", ErrValidation, o.Type)
	}
	if strings.TrimSpace(o.RequestedBy) == "" {
		return fmt.Errorf("%w: requestedBy is required", ErrValidation)
	}
	if o.TotalItems < 1 {
		return fmt.Errorf("%w: operation requires at least one item", ErrValidation)
	}
	if o.TotalItems > MaxOperationItems {
		return fmt.Errorf("%w: operation exceeds %d items", ErrValidation, MaxOperationItems)
	}
	return nil
}

// Progress returns the rounded completion percentage. TotalItems is never
// zero for a persisted operation because create rejects empty item sets.
func (o *BulkOperation) Progress() int {
	if o.TotalItems <= 0 {
		return 0
	}
	return int(math.Round(float64(o.ProcessedItems) / float64(o.TotalItems) * 100))
}
