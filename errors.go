package hooks

import (
	"errors"

	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/webhook"
)

// Sentinel errors returned by hooks operations. The not-found sentinels
// alias the domain packages' errors so errors.Is matches either spelling.
var (
	// ErrNoStore is returned when an Engine is created without a store.
	ErrNoStore = errors.New("hooks: store is required")

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = webhook.ErrNotFound

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = event.ErrNotFound

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("hooks: delivery not found")

	// ErrAttemptNotFound is returned when a delivery attempt cannot be found.
	ErrAttemptNotFound = errors.New("hooks: delivery attempt not found")

	// ErrUnknownEventType is returned when dispatching an event type the
	// engine does not recognize.
	ErrUnknownEventType = errors.New("hooks: unknown event type")

	// ErrWebhookHasHistory is returned when deleting a webhook that still
	// has delivery history referencing it.
	ErrWebhookHasHistory = errors.New("hooks: webhook has delivery history")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("hooks: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("hooks: migration failed")
)
