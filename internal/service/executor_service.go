package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/talentflow/bulkops-engine/internal/cancel"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/observability"
	"github.com/talentflow/bulkops-engine/internal/processor"
	"github.com/talentflow/bulkops-engine/internal/queue"
	"github.com/talentflow/bulkops-engine/internal/ratelimit"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minExecutorConcurrency = 1
	minItemConcurrency     = 1
	defaultItemBatchSize   = 100
	maxItemErrorLength     = 1024
)

// ExecutorService drains the per-type work queues and drives claimed
// operations through their item ledgers. Exactly one executor owns an
// operation at a time; the claim is a status CAS in the registry.
type ExecutorService struct {
	operations      repository.OperationRepository
	items           repository.ItemRepository
	consumer        queue.Consumer
	processors      *processor.Registry
	canceller       cancel.Controller
	rateLimiter     ratelimit.RateLimiter
	logger          *zap.Logger
	metrics         *observability.Metrics
	concurrency     int
	itemConcurrency int
	batchSize       int
	now             func() time.Time
}

func NewExecutorService(
	operations repository.OperationRepository,
	items repository.ItemRepository,
	consumer queue.Consumer,
	processors *processor.Registry,
	canceller cancel.Controller,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	itemConcurrency int,
	logger *zap.Logger,
) (*ExecutorService, error) {
	if operations == nil {
		return nil, fmt.Errorf("operation repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if processors == nil {
		return nil, fmt.Errorf("processor registry is required")
	}
	if canceller == nil {
		return nil, fmt.Errorf("cancellation controller is required")
	}
	if rateLimiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if concurrency < minExecutorConcurrency {
		concurrency = minExecutorConcurrency
	}
	if itemConcurrency < minItemConcurrency {
		itemConcurrency = minItemConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecutorService{
		operations:      operations,
		items:           items,
		consumer:        consumer,
		processors:      processors,
		canceller:       canceller,
		rateLimiter:     rateLimiter,
		logger:          logger,
		concurrency:     concurrency,
		itemConcurrency: itemConcurrency,
		batchSize:       defaultItemBatchSize,
		now:             time.Now,
	}, nil
}

func (s *ExecutorService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the per-type work queues until context cancellation.
func (s *ExecutorService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		executorID := i + 1

		g.Go(func() error {
			s.logger.Info("executor started",
				zap.Int("executorId", executorID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.processMessage)
			if err != nil {
				s.logger.Error("executor stopped with error",
					zap.Int("executorId", executorID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("executor stopped",
				zap.Int("executorId", executorID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

func (s *ExecutorService) processMessage(ctx context.Context, msg queue.OperationMessage) error {
	claimed, err := s.operations.ClaimForProcessing(ctx, msg.OperationID)
	if err != nil {
		return fmt.Errorf("failed to claim operation: %w", err)
	}
	if !claimed {
		return s.handleLostClaim(ctx, msg.OperationID)
	}

	op, err := s.operations.GetByID(ctx, msg.OperationID)
	if err != nil {
		return fmt.Errorf("failed to load claimed operation: %w", err)
	}

	typeLabel := strings.ToLower(op.Type.String())
	if s.metrics != nil {
		s.metrics.IncExecutorInFlight(typeLabel)
		defer s.metrics.DecExecutorInFlight(typeLabel)
	}

	// A cancellation that raced the claim is honored before any item runs.
	if cancelled, err := s.finishIfCancelRequested(ctx, op); err != nil || cancelled {
		return err
	}

	params, err := domain.ParseParams(op.Type, op.Parameters)
	if err != nil {
		return s.failOperation(ctx, op, fmt.Sprintf("stored parameters are invalid: %v", err))
	}

	proc, err := s.processors.Resolve(op.Type)
	if err != nil {
		return s.failOperation(ctx, op, err.Error())
	}

	if err := s.processItems(ctx, op, params, proc); err != nil {
		return err
	}

	// Orphaned in-flight items from an earlier crash keep the operation
	// open until the reaper resets them and requeues it.
	remaining, err := s.items.CountRemaining(ctx, op.ID)
	if err != nil {
		return fmt.Errorf("failed to count remaining items: %w", err)
	}
	if remaining > 0 {
		return fmt.Errorf("operation %s has %d unfinished items after drain", op.ID, remaining)
	}

	if err := s.operations.MarkTerminal(ctx, op.ID, domain.OperationStatusCompleted, nil); err != nil {
		return fmt.Errorf("failed to complete operation: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncOperationFinished(typeLabel, domain.OperationStatusCompleted.String())
	}

	s.logger.Info("operation completed",
		zap.String("operationId", op.ID),
		zap.String("type", op.Type.String()),
	)
	return nil
}

// processItems drains the pending ledger in batches. Items inside one batch
// run with bounded parallelism; the cancellation flag is re-read before every
// item and at every batch boundary, so overshoot past a cancellation request
// is bounded by the items already in flight.
func (s *ExecutorService) processItems(
	ctx context.Context,
	op *domain.BulkOperation,
	params domain.Params,
	proc processor.Processor,
) error {
	afterPosition := -1
	for {
		if cancelled, err := s.finishIfCancelRequested(ctx, op); err != nil || cancelled {
			return err
		}

		batch, err := s.items.ListPending(ctx, op.ID, afterPosition, s.batchSize)
		if err != nil {
			return fmt.Errorf("failed to list pending items: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(s.itemConcurrency)
		for i := range batch {
			item := batch[i]
			g.Go(func() error {
				return s.processItem(groupCtx, op, item, params, proc)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if err := s.operations.Heartbeat(ctx, op.ID); err != nil {
			s.logger.Warn("heartbeat update failed",
				zap.String("operationId", op.ID),
				zap.Error(err),
			)
		}

		afterPosition = batch[len(batch)-1].Position
	}
}

// processItem drives one item to a terminal status. Item failures are data,
// not errors: they are recorded on the ledger row and counted, and the
// returned error is reserved for persistence faults that must nack the
// operation message.
func (s *ExecutorService) processItem(
	ctx context.Context,
	op *domain.BulkOperation,
	item domain.OperationItem,
	params domain.Params,
	proc processor.Processor,
) error {
	requested, err := s.canceller.IsRequested(ctx, op.ID)
	if err != nil {
		return fmt.Errorf("failed to check cancellation flag: %w", err)
	}
	if requested {
		// Left pending; the batch loop terminalizes the operation.
		return nil
	}

	err = s.items.SetStatus(ctx, item.ID, domain.ItemStatusProcessing, nil)
	if errors.Is(err, domain.ErrConflict) {
		// Already finished by a previous run of this operation.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to mark item %s as processing: %w", item.ID, err)
	}

	typeLabel := strings.ToLower(op.Type.String())
	if err := s.rateLimiter.Wait(ctx, typeLabel); err != nil {
		return fmt.Errorf("rate limiter wait failed: %w", err)
	}

	processStart := s.now()
	result, processErr := proc.Process(ctx, item, params)
	if s.metrics != nil {
		s.metrics.ObserveItemProcessDuration(typeLabel, s.now().Sub(processStart))
	}

	if processErr == nil {
		if err := s.items.SetStatus(ctx, item.ID, domain.ItemStatusCompleted, nil); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil
			}
			return fmt.Errorf("failed to mark item %s as completed: %w", item.ID, err)
		}
		if err := s.operations.IncrementCounters(ctx, op.ID, 1, 0); err != nil {
			return fmt.Errorf("failed to count item success: %w", err)
		}
		if s.metrics != nil {
			s.metrics.IncItemProcessed(typeLabel, "success")
		}
		if result != nil && result.Detail != "" {
			s.logger.Debug("item processed",
				zap.String("operationId", op.ID),
				zap.String("itemId", item.ItemID),
				zap.String("detail", result.Detail),
			)
		}
		return nil
	}

	message := truncateError(processErr)
	if err := s.items.SetStatus(ctx, item.ID, domain.ItemStatusFailed, &message); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return fmt.Errorf("failed to mark item %s as failed: %w", item.ID, err)
	}
	if err := s.operations.IncrementCounters(ctx, op.ID, 0, 1); err != nil {
		return fmt.Errorf("failed to count item failure: %w", err)
	}
	if s.metrics != nil {
		result := "permanent_error"
		if processor.IsTransient(processErr) {
			result = "transient_error"
		}
		s.metrics.IncItemProcessed(typeLabel, result)
	}

	s.logger.Warn("item failed",
		zap.String("operationId", op.ID),
		zap.String("itemId", item.ItemID),
		zap.String("error", message),
	)
	return nil
}

// finishIfCancelRequested moves a flagged operation to cancelled. Remaining
// pending items are left untouched so the ledger records what never ran.
func (s *ExecutorService) finishIfCancelRequested(ctx context.Context, op *domain.BulkOperation) (bool, error) {
	requested, err := s.canceller.IsRequested(ctx, op.ID)
	if err != nil {
		return false, fmt.Errorf("failed to check cancellation flag: %w", err)
	}
	if !requested {
		return false, nil
	}

	if err := s.operations.MarkTerminal(ctx, op.ID, domain.OperationStatusCancelled, nil); err != nil {
		return false, fmt.Errorf("failed to cancel operation: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncOperationFinished(strings.ToLower(op.Type.String()), domain.OperationStatusCancelled.String())
	}

	s.logger.Info("operation cancelled",
		zap.String("operationId", op.ID),
		zap.String("type", op.Type.String()),
	)
	return true, nil
}

func (s *ExecutorService) failOperation(ctx context.Context, op *domain.BulkOperation, reason string) error {
	if err := s.operations.MarkTerminal(ctx, op.ID, domain.OperationStatusFailed, &reason); err != nil {
		return fmt.Errorf("failed to mark operation as failed: %w", err)
	}
	if s.metrics != nil {
		s.metrics.IncOperationFinished(strings.ToLower(op.Type.String()), domain.OperationStatusFailed.String())
	}

	s.logger.Error("operation failed before item processing",
		zap.String("operationId", op.ID),
		zap.String("type", op.Type.String()),
		zap.String("reason", reason),
	)
	return nil
}

// handleLostClaim decides what to do with a message whose claim CAS found
// the operation no longer pending. Terminal and in-flight operations ack the
// duplicate; a missing row acks too since there is nothing to execute.
func (s *ExecutorService) handleLostClaim(ctx context.Context, operationID string) error {
	op, err := s.operations.GetByID(ctx, operationID)
	if errors.Is(err, domain.ErrNotFound) {
		s.logger.Warn("operation not found during claim, skipping",
			zap.String("operationId", operationID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to inspect unclaimed operation: %w", err)
	}

	s.logger.Info("operation already claimed or finished, skipping",
		zap.String("operationId", operationID),
		zap.String("status", op.Status.String()),
	)
	return nil
}

func truncateError(err error) string {
	message := strings.TrimSpace(err.Error())
	if len(message) > maxItemErrorLength {
		message = message[:maxItemErrorLength]
	}
	return message
}
