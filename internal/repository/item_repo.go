package repository

import (
	"context"
	"errors"

	"github.com/talentflow/bulkops-engine/internal/domain"
	"gorm.io/gorm"
)

// ItemRepository is the item ledger: one row per (operation, item) pair.
// Terminal item rows are frozen; SetStatus on a finished item is ErrConflict.
type ItemRepository interface {
	ListByOperation(ctx context.Context, operationID string) ([]domain.OperationItem, error)
	ListPending(ctx context.Context, operationID string, afterPosition int, limit int) ([]domain.OperationItem, error)
	SetStatus(ctx context.Context, id string, status domain.ItemStatus, errorMessage *string) error
	CountRemaining(ctx context.Context, operationID string) (int64, error)
	ResetProcessing(ctx context.Context, operationID string) (int64, error)
}

type GormItemRepo struct {
	db *gorm.DB
}

func NewGormItemRepo(db *gorm.DB) *GormItemRepo {
	return &GormItemRepo{db: db}
}

func (r *GormItemRepo) ListByOperation(ctx context.Context, operationID string) ([]domain.OperationItem, error) {
	var models []OperationItemModel
	err := r.db.WithContext(ctx).
		Where("operation_id = ?", operationID).
		Order("position ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.OperationItem, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, nil
}

// ListPending streams pending items in ledger order using keyset pagination
// on position, so very large operations never load their full item set at
// once. Re-querying yields the current snapshot, not a stale iteration.
func (r *GormItemRepo) ListPending(ctx context.Context, operationID string, afterPosition int, limit int) ([]domain.OperationItem, error) {
	if limit < 1 {
		limit = 100
	}

	var models []OperationItemModel
	err := r.db.WithContext(ctx).
		Where("operation_id = ? AND status = ? AND position > ?",
			operationID, domain.ItemStatusPending, afterPosition).
		Order("position ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	items := make([]domain.OperationItem, 0, len(models))
	for i := range models {
		items = append(items, *itemModelToDomain(&models[i]))
	}

	return items, nil
}

// SetStatus transitions a single item row. The guard on non-terminal rows
// makes finished items immutable; revisiting one surfaces as ErrConflict.
func (r *GormItemRepo) SetStatus(ctx context.Context, id string, status domain.ItemStatus, errorMessage *string) error {
	if !status.IsValid() {
		return domain.ErrValidation
	}

	updates := map[string]any{"status": status}
	if status == domain.ItemStatusFailed {
		updates["error_message"] = errorMessage
	}

	result := r.db.WithContext(ctx).
		Model(&OperationItemModel{}).
		Where("id = ? AND status IN ?", id, []domain.ItemStatus{
			domain.ItemStatusPending,
			domain.ItemStatusProcessing,
		}).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var model OperationItemModel
	err := r.db.WithContext(ctx).Select("id").First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.ErrNotFound
	}
	if err != nil {
		return err
	}
	return domain.ErrConflict
}

// ResetProcessing returns orphaned in-flight items to pending. Only the
// reaper calls this, after the owning executor's heartbeat has gone stale,
// so it never races a live executor of the same operation.
func (r *GormItemRepo) ResetProcessing(ctx context.Context, operationID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&OperationItemModel{}).
		Where("operation_id = ? AND status = ?", operationID, domain.ItemStatusProcessing).
		Update("status", domain.ItemStatusPending)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormItemRepo) CountRemaining(ctx context.Context, operationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&OperationItemModel{}).
		Where("operation_id = ? AND status IN ?", operationID, []domain.ItemStatus{
			domain.ItemStatusPending,
			domain.ItemStatusProcessing,
		}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
