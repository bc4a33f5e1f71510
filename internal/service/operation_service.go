package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/talentflow/bulkops-engine/internal/cancel"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/observability"
	"github.com/talentflow/bulkops-engine/internal/queue"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"go.uber.org/zap"
)

type OperationService struct {
	operations repository.OperationRepository
	items      repository.ItemRepository
	canceller  cancel.Controller
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// CreateRequest carries one bulk operation submission. Parameters holds the
// raw JSON parameter object; its shape depends on Type.
type CreateRequest struct {
	Type        domain.OperationType
	ItemIDs     []string
	Parameters  []byte
	RequestedBy string
}

// OperationDetails is the polling view of one operation: registry row,
// per-item ledger, and derived progress percentage.
type OperationDetails struct {
	Operation domain.BulkOperation
	Items     []domain.OperationItem
	Progress  int
}

// OperationPage is one page of the operation listing.
type OperationPage struct {
	Operations []domain.BulkOperation
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
}

// EngineStats summarizes the registry for the dashboard overview widget.
type EngineStats struct {
	TotalOperations      int64
	CompletedOperations  int64
	FailedOperations     int64
	ProcessingOperations int64
	PendingOperations    int64
	CancelledOperations  int64
	TotalItems           int64
	SuccessRate          float64
}

func NewOperationService(
	operations repository.OperationRepository,
	items repository.ItemRepository,
	canceller cancel.Controller,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*OperationService, error) {
	if operations == nil {
		return nil, fmt.Errorf("operation repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if canceller == nil {
		return nil, fmt.Errorf("cancellation controller is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OperationService{
		operations: operations,
		items:      items,
		canceller:  canceller,
		publisher:  publisher,
		logger:     logger,
	}, nil
}

func (s *OperationService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Create validates the submission, persists the operation with its item
// ledger atomically, and hands it to an executor via the type's work queue.
func (s *OperationService) Create(ctx context.Context, req CreateRequest) (*domain.BulkOperation, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	itemIDs, err := normalizeItemIDs(req.ItemIDs)
	if err != nil {
		return nil, err
	}

	if _, err := domain.ParseParamsAtCreate(req.Type, req.Parameters, time.Now()); err != nil {
		return nil, err
	}

	rawParams := req.Parameters
	if len(rawParams) == 0 {
		rawParams = []byte("{}")
	}

	op := &domain.BulkOperation{
		ID:          uuid.NewString(),
		Type:        req.Type,
		Status:      domain.OperationStatusPending,
		Parameters:  rawParams,
		RequestedBy: strings.TrimSpace(req.RequestedBy),
		TotalItems:  len(itemIDs),
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	items := make([]*domain.OperationItem, 0, len(itemIDs))
	for position, itemID := range itemIDs {
		items = append(items, &domain.OperationItem{
			ID:          uuid.NewString(),
			OperationID: op.ID,
			ItemID:      itemID,
			Position:    position,
			Status:      domain.ItemStatusPending,
		})
	}

	if err := s.operations.Create(ctx, op, items); err != nil {
		return nil, fmt.Errorf("failed to persist operation: %w", err)
	}

	msg := queue.OperationMessage{
		OperationID:   op.ID,
		CorrelationID: uuid.NewString(),
		Type:          op.Type,
	}
	if err := s.publisher.Publish(ctx, queue.QueueName(op.Type), msg); err != nil {
		s.logger.Error("failed to publish operation",
			zap.String("operationId", op.ID),
			zap.String("type", op.Type.String()),
			zap.Error(err),
		)
		reason := "failed to enqueue operation for execution"
		if markErr := s.operations.MarkTerminal(ctx, op.ID, domain.OperationStatusFailed, &reason); markErr != nil {
			s.logger.Error("failed to mark operation as failed after publish error",
				zap.String("operationId", op.ID),
				zap.Error(markErr),
			)
			return nil, fmt.Errorf("failed to publish operation: %w (failed to mark as failed: %v)", err, markErr)
		}
		return nil, fmt.Errorf("failed to publish operation: %w", err)
	}

	s.logger.Info("operation accepted",
		zap.String("operationId", op.ID),
		zap.String("type", op.Type.String()),
		zap.Int("totalItems", op.TotalItems),
		zap.String("requestedBy", op.RequestedBy),
	)

	return op, nil
}

func (s *OperationService) GetByID(ctx context.Context, id string) (*domain.BulkOperation, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: operation id is required", domain.ErrValidation)
	}
	return s.operations.GetByID(ctx, strings.TrimSpace(id))
}

// GetDetails returns the operation together with its full item ledger in
// submitted order.
func (s *OperationService) GetDetails(ctx context.Context, id string) (*OperationDetails, error) {
	op, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.items.ListByOperation(ctx, op.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load operation items: %w", err)
	}

	return &OperationDetails{
		Operation: *op,
		Items:     items,
		Progress:  op.Progress(),
	}, nil
}

func (s *OperationService) List(ctx context.Context, params repository.ListParams) (*OperationPage, error) {
	operations, total, err := s.operations.List(ctx, params)
	if err != nil {
		return nil, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 20
	}
	pageSize = min(pageSize, 100)

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(pageSize)))
	}

	return &OperationPage{
		Operations: operations,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Cancel requests cooperative cancellation. Items already in flight run to
// completion; the executor stops picking up new ones.
func (s *OperationService) Cancel(ctx context.Context, id string) (*domain.BulkOperation, error) {
	op, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.canceller.RequestCancel(ctx, op.ID); err != nil {
		return nil, err
	}

	s.metrics.IncCancellationRequested(op.Type.String())
	s.logger.Info("cancellation requested",
		zap.String("operationId", op.ID),
		zap.String("type", op.Type.String()),
	)

	return s.operations.GetByID(ctx, op.ID)
}

func (s *OperationService) Stats(ctx context.Context) (*EngineStats, error) {
	stats, err := s.operations.Stats(ctx)
	if err != nil {
		return nil, err
	}

	result := &EngineStats{
		TotalOperations:      stats.TotalOperations,
		CompletedOperations:  stats.CompletedOperations,
		FailedOperations:     stats.FailedOperations,
		ProcessingOperations: stats.ProcessingOperations,
		PendingOperations:    stats.PendingOperations,
		CancelledOperations:  stats.CancelledOperations,
		TotalItems:           stats.TotalItems,
	}

	if stats.TotalOperations > 0 {
		result.SuccessRate = math.Round(float64(stats.CompletedOperations)/float64(stats.TotalOperations)*10000) / 100
	}

	return result, nil
}

func normalizeItemIDs(itemIDs []string) ([]string, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: operation requires at least one item id", domain.ErrValidation)
	}
	if len(itemIDs) > domain.MaxOperationItems {
		return nil, fmt.Errorf("%w: operation exceeds %d items", domain.ErrValidation, domain.MaxOperationItems)
	}

	normalized := make([]string, 0, len(itemIDs))
	seen := make(map[string]struct{}, len(itemIDs))
	for i, itemID := range itemIDs {
		trimmed := strings.TrimSpace(itemID)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: item id at position %d is blank", domain.ErrValidation, i)
		}
		if _, ok := seen[trimmed]; ok {
			return nil, fmt.Errorf("%w: duplicate item id %q", domain.ErrValidation, trimmed)
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}

	return normalized, nil
}
