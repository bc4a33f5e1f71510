package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talentflow/bulkops-engine/internal/cancel"
	"github.com/talentflow/bulkops-engine/internal/domain"
	"github.com/talentflow/bulkops-engine/internal/processor"
	"github.com/talentflow/bulkops-engine/internal/queue"
	"github.com/talentflow/bulkops-engine/internal/ratelimit"
	"github.com/talentflow/bulkops-engine/internal/repository"
)

// memOperationRepo is an in-memory OperationRepository with the same CAS
// semantics as the Postgres implementation, so executor scenarios exercise
// real transition rules.
type memOperationRepo struct {
	mu  sync.Mutex
	ops map[string]*domain.BulkOperation

	items *memItemRepo

	createErr    error
	incrementErr error
}

func newMemOperationRepo(items *memItemRepo) *memOperationRepo {
	return &memOperationRepo{
		ops:   make(map[string]*domain.BulkOperation),
		items: items,
	}
}

func (r *memOperationRepo) seed(op domain.BulkOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := op
	r.ops[op.ID] = &stored
}

func (r *memOperationRepo) get(id string) domain.BulkOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.ops[id]
}

func (r *memOperationRepo) Create(ctx context.Context, op *domain.BulkOperation, items []*domain.OperationItem) error {
	if r.createErr != nil {
		return r.createErr
	}

	r.mu.Lock()
	now := time.Now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now
	stored := *op
	r.ops[op.ID] = &stored
	r.mu.Unlock()

	if r.items != nil {
		for _, item := range items {
			r.items.seed(*item)
		}
	}
	return nil
}

func (r *memOperationRepo) GetByID(ctx context.Context, id string) (*domain.BulkOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *op
	return &copied, nil
}

func (r *memOperationRepo) List(ctx context.Context, params repository.ListParams) ([]domain.BulkOperation, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	matched := make([]domain.BulkOperation, 0, len(r.ops))
	for _, op := range r.ops {
		if params.Status != nil && op.Status != *params.Status {
			continue
		}
		if params.Type != nil && op.Type != *params.Type {
			continue
		}
		matched = append(matched, *op)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched, int64(len(matched)), nil
}

func (r *memOperationRepo) ClaimForProcessing(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok || op.Status != domain.OperationStatusPending {
		return false, nil
	}
	op.Status = domain.OperationStatusProcessing
	now := time.Now().UTC()
	op.HeartbeatAt = &now
	op.UpdatedAt = now
	return true, nil
}

func (r *memOperationRepo) MarkTerminal(ctx context.Context, id string, status domain.OperationStatus, failureReason *string) error {
	if !status.IsTerminal() {
		return domain.ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	if op.Status.IsTerminal() {
		return nil
	}
	op.Status = status
	if failureReason != nil {
		op.FailureReason = failureReason
	}
	now := time.Now().UTC()
	op.CompletedAt = &now
	op.UpdatedAt = now
	return nil
}

func (r *memOperationRepo) IncrementCounters(ctx context.Context, id string, successDelta, failureDelta int) error {
	if r.incrementErr != nil {
		return r.incrementErr
	}
	if successDelta < 0 || failureDelta < 0 || successDelta+failureDelta != 1 {
		return domain.ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	op.ProcessedItems += successDelta + failureDelta
	op.SuccessCount += successDelta
	op.FailureCount += failureDelta
	return nil
}

func (r *memOperationRepo) Heartbeat(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok || op.Status != domain.OperationStatusProcessing {
		return nil
	}
	now := time.Now().UTC()
	op.HeartbeatAt = &now
	return nil
}

func (r *memOperationRepo) RequestCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return domain.ErrNotFound
	}
	if op.Status.IsTerminal() {
		return domain.ErrConflict
	}
	op.CancelRequested = true
	return nil
}

func (r *memOperationRepo) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	return op.CancelRequested, nil
}

func (r *memOperationRepo) ResetStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reset := make([]domain.BulkOperation, 0)
	for _, op := range r.ops {
		if len(reset) >= limit {
			break
		}
		if op.Status != domain.OperationStatusProcessing {
			continue
		}
		if op.HeartbeatAt == nil || !op.HeartbeatAt.Before(olderThan) {
			continue
		}
		op.Status = domain.OperationStatusPending
		op.HeartbeatAt = nil
		op.UpdatedAt = time.Now().UTC()
		reset = append(reset, *op)
	}
	return reset, nil
}

func (r *memOperationRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.BulkOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stranded := make([]domain.BulkOperation, 0)
	for _, op := range r.ops {
		if len(stranded) >= limit {
			break
		}
		if op.Status != domain.OperationStatusPending || !op.UpdatedAt.Before(olderThan) {
			continue
		}
		stranded = append(stranded, *op)
	}
	return stranded, nil
}

func (r *memOperationRepo) Stats(ctx context.Context) (*repository.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &repository.Stats{}
	for _, op := range r.ops {
		stats.TotalOperations++
		stats.TotalItems += int64(op.TotalItems)
		switch op.Status {
		case domain.OperationStatusCompleted:
			stats.CompletedOperations++
		case domain.OperationStatusFailed:
			stats.FailedOperations++
		case domain.OperationStatusProcessing:
			stats.ProcessingOperations++
		case domain.OperationStatusPending:
			stats.PendingOperations++
		case domain.OperationStatusCancelled:
			stats.CancelledOperations++
		}
	}
	return stats, nil
}

var _ repository.OperationRepository = (*memOperationRepo)(nil)

// memItemRepo is the in-memory item ledger counterpart.
type memItemRepo struct {
	mu    sync.Mutex
	items map[string]*domain.OperationItem
}

func newMemItemRepo() *memItemRepo {
	return &memItemRepo{items: make(map[string]*domain.OperationItem)}
}

func (r *memItemRepo) seed(item domain.OperationItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := item
	r.items[item.ID] = &stored
}

func (r *memItemRepo) byItemID(operationID string, itemID string) *domain.OperationItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.OperationID == operationID && item.ItemID == itemID {
			copied := *item
			return &copied
		}
	}
	return nil
}

func (r *memItemRepo) ListByOperation(ctx context.Context, operationID string) ([]domain.OperationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.OperationItem, 0)
	for _, item := range r.items {
		if item.OperationID == operationID {
			items = append(items, *item)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	return items, nil
}

func (r *memItemRepo) ListPending(ctx context.Context, operationID string, afterPosition int, limit int) ([]domain.OperationItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := make([]domain.OperationItem, 0)
	for _, item := range r.items {
		if item.OperationID != operationID || item.Status != domain.ItemStatusPending {
			continue
		}
		if item.Position <= afterPosition {
			continue
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *memItemRepo) SetStatus(ctx context.Context, id string, status domain.ItemStatus, errorMessage *string) error {
	if !status.IsValid() {
		return domain.ErrValidation
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.Status.IsTerminal() {
		return domain.ErrConflict
	}
	item.Status = status
	if status == domain.ItemStatusFailed {
		item.ErrorMessage = errorMessage
	}
	return nil
}

func (r *memItemRepo) CountRemaining(ctx context.Context, operationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for _, item := range r.items {
		if item.OperationID != operationID {
			continue
		}
		if item.Status == domain.ItemStatusPending || item.Status == domain.ItemStatusProcessing {
			count++
		}
	}
	return count, nil
}

func (r *memItemRepo) ResetProcessing(ctx context.Context, operationID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var reset int64
	for _, item := range r.items {
		if item.OperationID == operationID && item.Status == domain.ItemStatusProcessing {
			item.Status = domain.ItemStatusPending
			reset++
		}
	}
	return reset, nil
}

var _ repository.ItemRepository = (*memItemRepo)(nil)

type publishedMessage struct {
	queue string
	msg   queue.OperationMessage
}

type fakePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	publishFn func(ctx context.Context, queueName string, msg queue.OperationMessage) error
}

func (f *fakePublisher) Publish(ctx context.Context, queueName string, msg queue.OperationMessage) error {
	if f.publishFn != nil {
		return f.publishFn(ctx, queueName, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMessage{queue: queueName, msg: msg})
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) all() []publishedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMessage, len(f.published))
	copy(out, f.published)
	return out
}

var _ queue.Publisher = (*fakePublisher)(nil)

type fakeConsumer struct {
	consumeFn func(ctx context.Context, queueName string, handler queue.MessageHandler) error
	closeFn   func() error
}

func (f *fakeConsumer) Consume(ctx context.Context, queueName string, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, queueName, handler)
	}
	return nil
}

func (f *fakeConsumer) Close() error {
	if f.closeFn != nil {
		return f.closeFn()
	}
	return nil
}

var _ queue.Consumer = (*fakeConsumer)(nil)

// fakeCanceller delegates to the in-memory registry flag unless overridden.
type fakeCanceller struct {
	operations    *memOperationRepo
	requestFn     func(ctx context.Context, operationID string) error
	isRequestedFn func(ctx context.Context, operationID string) (bool, error)
}

func (f *fakeCanceller) RequestCancel(ctx context.Context, operationID string) error {
	if f.requestFn != nil {
		return f.requestFn(ctx, operationID)
	}
	return f.operations.RequestCancel(ctx, operationID)
}

func (f *fakeCanceller) IsRequested(ctx context.Context, operationID string) (bool, error) {
	if f.isRequestedFn != nil {
		return f.isRequestedFn(ctx, operationID)
	}
	return f.operations.IsCancelRequested(ctx, operationID)
}

var _ cancel.Controller = (*fakeCanceller)(nil)

type fakeRateLimiter struct {
	allowFn func(ctx context.Context, opType string) (bool, error)
	waitFn  func(ctx context.Context, opType string) error
}

func (f *fakeRateLimiter) Allow(ctx context.Context, opType string) (bool, error) {
	if f.allowFn != nil {
		return f.allowFn(ctx, opType)
	}
	return true, nil
}

func (f *fakeRateLimiter) Wait(ctx context.Context, opType string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, opType)
	}
	return nil
}

var _ ratelimit.RateLimiter = (*fakeRateLimiter)(nil)

type fakeProcessor struct {
	processFn func(ctx context.Context, item domain.OperationItem, params domain.Params) (*processor.Result, error)
}

func (f *fakeProcessor) Process(ctx context.Context, item domain.OperationItem, params domain.Params) (*processor.Result, error) {
	if f.processFn != nil {
		return f.processFn(ctx, item, params)
	}
	return &processor.Result{StatusCode: 200}, nil
}

var _ processor.Processor = (*fakeProcessor)(nil)
