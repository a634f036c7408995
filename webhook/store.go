package webhook

import (
	"context"
	"time"

	"github.com/formatic/hooks/id"
)

// Store defines the persistence contract for webhook configurations.
type Store interface {
	// CreateWebhook persists a new webhook.
	CreateWebhook(ctx context.Context, wh *Webhook) error

	// GetWebhook returns a webhook by ID.
	GetWebhook(ctx context.Context, whID id.ID) (*Webhook, error)

	// UpdateWebhook modifies an existing webhook.
	UpdateWebhook(ctx context.Context, wh *Webhook) error

	// DeleteWebhook removes a webhook. Fails with ErrWebhookHasHistory while
	// delivery attempts still reference it.
	DeleteWebhook(ctx context.Context, whID id.ID) error

	// ListWebhooks returns webhooks for a form, optionally filtered.
	ListWebhooks(ctx context.Context, formID string, opts ListOpts) ([]*Webhook, error)

	// Resolve finds all deliverable webhooks on a form subscribed to an event
	// type. This is the hot path, called on every Dispatch.
	Resolve(ctx context.Context, formID string, eventType string) ([]*Webhook, error)

	// SetActive switches a webhook on or off without deleting it.
	SetActive(ctx context.Context, whID id.ID, active bool) error

	// SetApproval records an approval state transition.
	SetApproval(ctx context.Context, whID id.ID, approval Approval) error

	// ApproveAllPending approves every pending webhook on a form and returns
	// the number transitioned.
	ApproveAllPending(ctx context.Context, formID string) (int, error)

	// ReserveQuota atomically consumes one unit of the webhook's daily quota.
	// It resets an expired usage window first, then increments usage only if
	// it remains within DailyLimit. Returns false when the quota is exhausted.
	// Webhooks with DailyLimit 0 always succeed.
	ReserveQuota(ctx context.Context, whID id.ID, now time.Time) (bool, error)
}
