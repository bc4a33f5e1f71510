package ratelimit

import "context"

// RateLimiter bounds item-processing throughput per operation type, keeping
// bulk email and enrichment bursts under downstream provider limits.
type RateLimiter interface {
	Allow(ctx context.Context, opType string) (bool, error)
	Wait(ctx context.Context, opType string) error
}
