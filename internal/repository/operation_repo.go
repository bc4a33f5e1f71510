package repository

import (
	"context"
	"errors"
	"time"

	"github.com/talentflow/bulkops-engine/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	Status   *domain.OperationStatus
	Type     *domain.OperationType
	Page     int
	PageSize int
}

// Stats is the read-side projection over the operation registry.
type Stats struct {
	TotalOperations      int64
	CompletedOperations  int64
	FailedOperations     int64
	ProcessingOperations int64
	PendingOperations    int64
	CancelledOperations  int64
	TotalItems           int64
}

type statusCountRow struct {
	Status domain.OperationStatus `gorm:"column:status"`
	Count  int64                  `gorm:"column:count"`
}

// OperationRepository is the durable operation registry. Creation of an
// operation together with its items is atomic; status transitions and
// counter updates are single-statement compare-and-set operations so
// concurrent executors can never double-claim or double-count.
type OperationRepository interface {
	Create(ctx context.Context, op *domain.BulkOperation, items []*domain.OperationItem) error
	GetByID(ctx context.Context, id string) (*domain.BulkOperation, error)
	List(ctx context.Context, params ListParams) ([]domain.BulkOperation, int64, error)
	ClaimForProcessing(ctx context.Context, id string) (bool, error)
	MarkTerminal(ctx context.Context, id string, status domain.OperationStatus, failureReason *string) error
	IncrementCounters(ctx context.Context, id string, successDelta, failureDelta int) error
	Heartbeat(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) error
	IsCancelRequested(ctx context.Context, id string) (bool, error)
	ResetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error)
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error)
	Stats(ctx context.Context) (*Stats, error)
}

type GormOperationRepo struct {
	db *gorm.DB
}

func NewGormOperationRepo(db *gorm.DB) *GormOperationRepo {
	return &GormOperationRepo{db: db}
}

func (r *GormOperationRepo) Create(ctx context.Context, op *domain.BulkOperation, items []*domain.OperationItem) error {
	opModel := operationModelFromDomain(op)

	itemModels := make([]OperationItemModel, 0, len(items))
	for _, item := range items {
		if model := itemModelFromDomain(item); model != nil {
			itemModels = append(itemModels, *model)
		}
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(opModel).Error; err != nil {
			return err
		}
		if len(itemModels) > 0 {
			if err := tx.CreateInBatches(&itemModels, 500).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if op != nil {
		*op = *operationModelToDomain(opModel)
	}
	for i := range itemModels {
		if i < len(items) && items[i] != nil {
			*items[i] = *itemModelToDomain(&itemModels[i])
		}
	}

	return nil
}

func (r *GormOperationRepo) GetByID(ctx context.Context, id string) (*domain.BulkOperation, error) {
	var model OperationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return operationModelToDomain(&model), nil
}

func (r *GormOperationRepo) List(ctx context.Context, params ListParams) ([]domain.BulkOperation, int64, error) {
	query := r.db.WithContext(ctx).Model(&OperationModel{})

	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	var models []OperationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	operations := make([]domain.BulkOperation, 0, len(models))
	for i := range models {
		operations = append(operations, *operationModelToDomain(&models[i]))
	}

	return operations, total, nil
}

// ClaimForProcessing flips a pending operation to processing. The returned
// bool reports whether this caller won the transition; losing the race is
// not an error.
func (r *GormOperationRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Where("id = ? AND status = ?", id, domain.OperationStatusPending).
		Updates(map[string]any{
			"status":       domain.OperationStatusProcessing,
			"heartbeat_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkTerminal moves a non-terminal operation to a terminal status and
// stamps completed_at. Calling it on an already-terminal operation is a
// no-op so duplicate completion signals from redelivered messages are safe.
func (r *GormOperationRepo) MarkTerminal(ctx context.Context, id string, status domain.OperationStatus, failureReason *string) error {
	if !status.IsTerminal() {
		return domain.ErrValidation
	}

	updates := map[string]any{
		"status":       status,
		"completed_at": time.Now().UTC(),
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}

	result := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Where("id = ? AND status IN ?", id, []domain.OperationStatus{
			domain.OperationStatusPending,
			domain.OperationStatusProcessing,
		}).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	// 0 rows: either missing or already terminal.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return nil
}

// IncrementCounters applies exactly one item transition to the aggregate
// counters in a single atomic statement, keeping
// processed_items == success_count + failure_count under concurrency.
func (r *GormOperationRepo) IncrementCounters(ctx context.Context, id string, successDelta, failureDelta int) error {
	if successDelta < 0 || failureDelta < 0 || successDelta+failureDelta != 1 {
		return domain.ErrValidation
	}

	result := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_items": gorm.Expr("processed_items + ?", successDelta+failureDelta),
			"success_count":   gorm.Expr("success_count + ?", successDelta),
			"failure_count":   gorm.Expr("failure_count + ?", failureDelta),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormOperationRepo) Heartbeat(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Where("id = ? AND status = ?", id, domain.OperationStatusProcessing).
		Update("heartbeat_at", time.Now().UTC())
	if result.Error != nil {
		return result.Error
	}
	return nil
}

// RequestCancel durably flags a non-terminal operation for cancellation.
// Repeating the request is idempotent; a terminal operation is ErrConflict.
func (r *GormOperationRepo) RequestCancel(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Where("id = ? AND status IN ?", id, []domain.OperationStatus{
			domain.OperationStatusPending,
			domain.OperationStatusProcessing,
		}).
		Update("cancel_requested", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *GormOperationRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var model OperationModel
	err := r.db.WithContext(ctx).
		Select("cancel_requested").
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return model.CancelRequested, nil
}

// ResetStale requeues processing operations whose heartbeat went quiet,
// presumed abandoned by a crashed executor. Each reset is a per-row CAS so
// a reaper racing a live executor cannot steal a healthy operation.
func (r *GormOperationRepo) ResetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error) {
	if limit < 1 {
		limit = 50
	}

	var candidates []OperationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND heartbeat_at < ?", domain.OperationStatusProcessing, olderThan).
		Order("heartbeat_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	reset := make([]domain.BulkOperation, 0, len(candidates))
	for i := range candidates {
		result := r.db.WithContext(ctx).
			Model(&OperationModel{}).
			Where("id = ? AND status = ? AND heartbeat_at < ?",
				candidates[i].ID, domain.OperationStatusProcessing, olderThan).
			Updates(map[string]any{
				"status":       domain.OperationStatusPending,
				"heartbeat_at": nil,
			})
		if result.Error != nil {
			return reset, result.Error
		}
		if result.RowsAffected == 1 {
			candidates[i].Status = domain.OperationStatusPending
			candidates[i].HeartbeatAt = nil
			reset = append(reset, *operationModelToDomain(&candidates[i]))
		}
	}

	return reset, nil
}

// ListStalePending returns pending operations that have not been touched
// for a while. Their work-queue message may have been lost; republishing is
// safe because the processing claim is a single-winner CAS.
func (r *GormOperationRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error) {
	if limit < 1 {
		limit = 50
	}

	var models []OperationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", domain.OperationStatusPending, olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	operations := make([]domain.BulkOperation, 0, len(models))
	for i := range models {
		operations = append(operations, *operationModelToDomain(&models[i]))
	}

	return operations, nil
}

func (r *GormOperationRepo) Stats(ctx context.Context) (*Stats, error) {
	var rows []statusCountRow
	err := r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, row := range rows {
		stats.TotalOperations += row.Count
		switch row.Status {
		case domain.OperationStatusCompleted:
			stats.CompletedOperations = row.Count
		case domain.OperationStatusFailed:
			stats.FailedOperations = row.Count
		case domain.OperationStatusProcessing:
			stats.ProcessingOperations = row.Count
		case domain.OperationStatusPending:
			stats.PendingOperations = row.Count
		case domain.OperationStatusCancelled:
			stats.CancelledOperations = row.Count
		}
	}

	var totalItems *int64
	err = r.db.WithContext(ctx).
		Model(&OperationModel{}).
		Select("SUM(total_items)").
		Scan(&totalItems).Error
	if err != nil {
		return nil, err
	}
	if totalItems != nil {
		stats.TotalItems = *totalItems
	}

	return stats, nil
}
