package repository

import (
	"time"

	"github.com/talentflow/bulkops-engine/internal/domain"
)

// OperationModel is the persistence model for the bulk_operations table.
type OperationModel struct {
	ID              string                 `gorm:"type:uuid;primaryKey"`
	Type            domain.OperationType   `gorm:"type:varchar(30);not null"`
	Status          domain.OperationStatus `gorm:"type:varchar(20);not null"`
	Parameters      []byte                 `gorm:"type:jsonb;not null"`
	RequestedBy     string                 `gorm:"type:varchar(255);not null"`
	TotalItems      int                    `gorm:"not null"`
	ProcessedItems  int                    `gorm:"not null;default:0"`
	SuccessCount    int                    `gorm:"not null;default:0"`
	FailureCount    int                    `gorm:"not null;default:0"`
	FailureReason   *string                `gorm:"type:text"`
	CancelRequested bool                   `gorm:"not null;default:false"`
	HeartbeatAt     *time.Time             `gorm:"type:timestamptz"`
	CompletedAt     *time.Time             `gorm:"type:timestamptz"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (OperationModel) TableName() string {
	return "bulk_operations"
}

// OperationItemModel is the persistence model for bulk_operation_items.
type OperationItemModel struct {
	ID           string            `gorm:"type:uuid;primaryKey"`
	OperationID  string            `gorm:"type:uuid;not null"`
	ItemID       string            `gorm:"type:varchar(64);not null"`
	Position     int               `gorm:"not null"`
	Status       domain.ItemStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage *string           `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (OperationItemModel) TableName() string {
	return "bulk_operation_items"
}

func operationModelFromDomain(o *domain.BulkOperation) *OperationModel {
	if o == nil {
		return nil
	}

	return &OperationModel{
		ID:              o.ID,
		Type:            o.Type,
		Status:          o.Status,
		Parameters:      o.Parameters,
		RequestedBy:     o.RequestedBy,
		TotalItems:      o.TotalItems,
		ProcessedItems:  o.ProcessedItems,
		SuccessCount:    o.SuccessCount,
		FailureCount:    o.FailureCount,
		FailureReason:   o.FailureReason,
		CancelRequested: o.CancelRequested,
		HeartbeatAt:     o.HeartbeatAt,
		CompletedAt:     o.CompletedAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func operationModelToDomain(m *OperationModel) *domain.BulkOperation {
	if m == nil {
		return nil
	}

	return &domain.BulkOperation{
		ID:              m.ID,
		Type:            m.Type,
		Status:          m.Status,
		Parameters:      m.Parameters,
		RequestedBy:     m.RequestedBy,
		TotalItems:      m.TotalItems,
		ProcessedItems:  m.ProcessedItems,
		SuccessCount:    m.SuccessCount,
		FailureCount:    m.FailureCount,
		FailureReason:   m.FailureReason,
		CancelRequested: m.CancelRequested,
		HeartbeatAt:     m.HeartbeatAt,
		CompletedAt:     m.CompletedAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func itemModelFromDomain(i *domain.OperationItem) *OperationItemModel {
	if i == nil {
		return nil
	}

	return &OperationItemModel{
		ID:           i.ID,
		OperationID:  i.OperationID,
		ItemID:       i.ItemID,
		Position:     i.Position,
		Status:       i.Status,
		ErrorMessage: i.ErrorMessage,
		CreatedAt:    i.CreatedAt,
		UpdatedAt:    i.UpdatedAt,
	}
}

func itemModelToDomain(m *OperationItemModel) *domain.OperationItem {
	if m == nil {
		return nil
	}

	return &domain.OperationItem{
		ID:           m.ID,
		OperationID:  m.OperationID,
		ItemID:       m.ItemID,
		Position:     m.Position,
		Status:       m.Status,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
