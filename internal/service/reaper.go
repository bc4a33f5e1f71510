package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/observability"
	"github.com/talentflow/bulkops-engine/internal/queue"
	"github.com/talentflow/bulkops-engine/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReapInterval = 30 * time.Second
	defaultStaleAfter   = 2 * time.Minute
	defaultReapLimit    = 50
)

// Reaper periodically recovers operations abandoned by crashed executors.
// A processing operation whose heartbeat went quiet is reset to pending,
// its orphaned in-flight items are returned to the ledger, and the
// operation is republished to its work queue. Pending operations that sat
// untouched past the stale window are republished too; duplicate messages
// are harmless because the processing claim is a single-winner CAS.
type Reaper struct {
	operations repository.OperationRepository
	items      repository.ItemRepository
	publisher  queue.Publisher
	logger     *zap.Logger
	metrics    *observability.Metrics
	interval   time.Duration
	staleAfter time.Duration
	limit      int
	now        func() time.Time
}

func NewReaper(
	operations repository.OperationRepository,
	items repository.ItemRepository,
	publisher queue.Publisher,
	interval time.Duration,
	staleAfter time.Duration,
	logger *zap.Logger,
) (*Reaper, error) {
	if operations == nil {
		return nil, fmt.Errorf("operation repository is required")
	}
	if items == nil {
		return nil, fmt.Errorf("item repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultReapInterval
	}
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reaper{
		operations: operations,
		items:      items,
		publisher:  publisher,
		logger:     logger,
		interval:   interval,
		staleAfter: staleAfter,
		limit:      defaultReapLimit,
		now:        time.Now,
	}, nil
}

func (r *Reaper) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

func (r *Reaper) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so operations stranded across a full restart do
	// not wait for the first ticker edge.
	if err := r.scan(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reaper initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.scan(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reaper scan failed", zap.Error(err))
			}
		}
	}
}

func (r *Reaper) scan(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.staleAfter)

	stale, err := r.operations.ResetStale(ctx, cutoff, r.limit)
	if err != nil {
		return fmt.Errorf("failed to reset stale operations: %w", err)
	}

	for i := range stale {
		op := stale[i]

		orphaned, err := r.items.ResetProcessing(ctx, op.ID)
		if err != nil {
			r.logger.Error("failed to reset orphaned items",
				zap.String("operationId", op.ID),
				zap.Error(err),
			)
			continue
		}

		r.logger.Warn("stale operation recovered",
			zap.String("operationId", op.ID),
			zap.String("type", op.Type.String()),
			zap.Int64("orphanedItems", orphaned),
		)

		r.republish(ctx, &op)
	}

	stranded, err := r.operations.ListStalePending(ctx, cutoff, r.limit)
	if err != nil {
		return fmt.Errorf("failed to list stranded pending operations: %w", err)
	}

	for i := range stranded {
		r.republish(ctx, &stranded[i])
	}

	return nil
}

func (r *Reaper) republish(ctx context.Context, op *domain.BulkOperation) {
	msg := queue.OperationMessage{
		OperationID:   op.ID,
		CorrelationID: uuid.NewString(),
		Type:          op.Type,
	}

	queueName := queue.QueueName(op.Type)
	if err := r.publisher.Publish(ctx, queueName, msg); err != nil {
		// The operation stays pending; the next scan retries.
		r.logger.Error("failed to requeue operation",
			zap.String("operationId", op.ID),
			zap.String("queue", queueName),
			zap.Error(err),
		)
		return
	}

	if r.metrics != nil {
		r.metrics.IncStaleRequeued(strings.ToLower(op.Type.String()))
	}
}
