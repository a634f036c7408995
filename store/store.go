// Package store defines the composite Store interface for all hooks persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all, so a single backend serves the registry, the event log,
// and the delivery queue.
package store

import (
	"context"

	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	webhook.Store
	event.Store
	delivery.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
