package event

import (
	"context"
	"errors"

	"github.com/formatic/hooks/id"
)

// ErrNotFound is returned when an event cannot be found.
var ErrNotFound = errors.New("event: not found")

// Store defines the persistence contract for form events.
type Store interface {
	// CreateEvent persists an event. Must be durable before returning.
	CreateEvent(ctx context.Context, evt *Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// ListEvents returns events, optionally filtered by type, form, or time range.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
