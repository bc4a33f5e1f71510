package domain

import (
	"fmt"
	"strings"
	"time"
)

// ItemStatus represents the processing state of a single operation item.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusCompleted  ItemStatus = "COMPLETED"
	ItemStatusFailed     ItemStatus = "FAILED"
)

func (s ItemStatus) String() string { return string(s) }

func (s ItemStatus) IsValid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusCompleted, ItemStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the item must never be revisited.
func (s ItemStatus) IsTerminal() bool {
	return s == ItemStatusCompleted || s == ItemStatusFailed
}

func ParseItemStatusFromString(s string) (ItemStatus, error) {
	st := ItemStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid item status %q", ErrValidation, s)
	}
	return st, nil
}

// OperationItem is one unit of work inside a bulk operation, bound to a
// single candidate record. Position preserves the submitted item order.
type OperationItem struct {
	ID           string     `gorm:"type:uuid;primaryKey"`
	OperationID  string     `gorm:"type:uuid;not null"`
	ItemID       string     `gorm:"type:varchar(64);not null"`
	Position     int        `gorm:"not null"`
	Status       ItemStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage *string    `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
