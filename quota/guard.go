// Package quota enforces per-webhook daily delivery limits.
//
// Reservation is atomic: concurrent dispatches racing on the last unit of a
// quota cannot both win, and the rollover into a new UTC day happens exactly
// once regardless of how many callers observe it.
package quota

import (
	"context"
	"time"

	"github.com/formatic/hooks/webhook"
)

// Guard reserves daily delivery quota units.
type Guard interface {
	// Reserve consumes one unit of the webhook's daily quota. Returns false
	// when the quota is exhausted for the current UTC day. Webhooks with
	// DailyLimit 0 always succeed.
	Reserve(ctx context.Context, wh *webhook.Webhook, now time.Time) (bool, error)
}

// WindowEnd returns the end of the daily quota window containing now:
// the next UTC midnight.
func WindowEnd(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// StoreGuard enforces quotas through the webhook store's conditional update.
// Correct for single-store deployments; every node races on the same row.
type StoreGuard struct {
	store webhook.Store
}

// NewStoreGuard creates a Guard backed by the webhook store.
func NewStoreGuard(store webhook.Store) *StoreGuard {
	return &StoreGuard{store: store}
}

// Reserve consumes one quota unit via the store's atomic ReserveQuota.
func (g *StoreGuard) Reserve(ctx context.Context, wh *webhook.Webhook, now time.Time) (bool, error) {
	if wh.DailyLimit <= 0 {
		return true, nil
	}
	return g.store.ReserveQuota(ctx, wh.ID, now)
}
