package delivery

import (
	"context"
	"time"

	"github.com/formatic/hooks/id"
)

// Store defines the persistence contract for deliveries and the attempt log.
type Store interface {
	// Enqueue creates a pending delivery.
	Enqueue(ctx context.Context, d *Delivery) error

	// EnqueueBatch creates multiple deliveries atomically (fan-out).
	EnqueueBatch(ctx context.Context, ds []*Delivery) error

	// Dequeue fetches pending deliveries whose NextAttemptAt has passed
	// (concurrent-safe). Implementations must ensure no double-delivery
	// (e.g. SKIP LOCKED).
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)

	// UpdateDelivery modifies a delivery (state, attempt count,
	// next_attempt_at, etc.) and releases its dequeue lock.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, delID id.ID) (*Delivery, error)

	// ListByWebhook returns delivery history for a webhook.
	ListByWebhook(ctx context.Context, whID id.ID, opts ListOpts) ([]*Delivery, error)

	// ListByEvent returns all deliveries for a specific event.
	ListByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// CountPending returns the number of deliveries awaiting attempt.
	CountPending(ctx context.Context) (int64, error)

	// HasAttempts reports whether any attempt rows reference the webhook.
	HasAttempts(ctx context.Context, whID id.ID) (bool, error)

	// CreateAttempt appends a row to the attempt log.
	CreateAttempt(ctx context.Context, a *Attempt) error

	// UpdateAttempt finalizes an in-flight attempt row.
	UpdateAttempt(ctx context.Context, a *Attempt) error

	// GetAttempt returns an attempt by ID.
	GetAttempt(ctx context.Context, attID id.ID) (*Attempt, error)

	// ListAttempts returns attempt log rows, newest first.
	ListAttempts(ctx context.Context, opts AttemptListOpts) ([]*Attempt, error)

	// CountAttempts returns the number of rows matching the filter.
	CountAttempts(ctx context.Context, opts AttemptListOpts) (int64, error)

	// ListAttemptsByDelivery returns a sequence's attempts ordered by Seq.
	ListAttemptsByDelivery(ctx context.Context, delID id.ID) ([]*Attempt, error)

	// AttemptStats aggregates attempt outcomes per UTC day for a webhook.
	AttemptStats(ctx context.Context, whID id.ID, from, to time.Time) ([]*DayStats, error)

	// PurgeAttempts deletes terminal attempt rows completed before the
	// cutoff, returning the number removed.
	PurgeAttempts(ctx context.Context, before time.Time) (int64, error)
}
