package settlement

import (
	"context"
	"time"
)

// Outbox is the durable side of settlement. Transfers are written by the
// market store in the same commit as the market state; the dispatcher
// reads and acknowledges them here.
type Outbox interface {
	// Due returns pending transfers whose next attempt is at or before now,
	// oldest first.
	Due(ctx context.Context, now time.Time, limit int) ([]Transfer, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	// MarkFailed records a failed attempt. A zero next time marks the
	// transfer dead.
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string, next time.Time) error
	GetTransfer(ctx context.Context, id string) (Transfer, error)
	ListTransfers(ctx context.Context, marketID uint64) ([]Transfer, error)
}

// Backoff returns the delay before retry number attempt (1-based), doubling
// from base up to max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
