package cancel

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/talentflow/bulkops-engine/internal/repository"
)

const (
	cancelKeyPrefix = "bulkops:cancel:"
	defaultFlagTTL  = 24 * time.Hour
)

// Controller records cancellation requests and answers the executor's
// cooperative polls at item boundaries.
type Controller interface {
	RequestCancel(ctx context.Context, operationID string) error
	IsRequested(ctx context.Context, operationID string) (bool, error)
}

// RedisController stores the durable cancellation flag in the operation
// registry and mirrors it into Redis so executors on other processes see it
// without hitting Postgres on every poll. The registry flag is the source of
// truth; the Redis key is a cache with a TTL.
type RedisController struct {
	operations repository.OperationRepository
	client     *goredis.Client
	ttl        time.Duration
}

func NewRedisController(operations repository.OperationRepository, client *goredis.Client) (*RedisController, error) {
	if operations == nil {
		return nil, fmt.Errorf("operation repository is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &RedisController{
		operations: operations,
		client:     client,
		ttl:        defaultFlagTTL,
	}, nil
}

// RequestCancel flags a non-terminal operation. Repeating the request is
// idempotent; requesting on a terminal operation returns ErrConflict from
// the registry.
func (c *RedisController) RequestCancel(ctx context.Context, operationID string) error {
	if err := c.operations.RequestCancel(ctx, operationID); err != nil {
		return err
	}

	// Best effort: a lost Redis write only slows cancellation down to the
	// next registry fallback read.
	_ = c.client.Set(ctx, cancelKey(operationID), "1", c.ttl).Err()

	return nil
}

func (c *RedisController) IsRequested(ctx context.Context, operationID string) (bool, error) {
	value, err := c.client.Get(ctx, cancelKey(operationID)).Result()
	if err == nil && value == "1" {
		return true, nil
	}
	if err != nil && !errors.Is(err, goredis.Nil) && ctx.Err() != nil {
		return false, ctx.Err()
	}

	return c.operations.IsCancelRequested(ctx, operationID)
}

func cancelKey(operationID string) string {
	return cancelKeyPrefix + operationID
}
