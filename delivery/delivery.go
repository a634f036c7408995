// Package delivery implements the durable webhook delivery engine: the
// delivery queue, the HTTP executor, the retry policy, and the attempt log.
package delivery

import (
	"time"

	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
)

// State represents the current state of a delivery sequence.
type State string

const (
	// StatePending indicates the delivery is awaiting its next attempt.
	StatePending State = "pending"

	// StateSucceeded indicates the target acknowledged the delivery.
	StateSucceeded State = "succeeded"

	// StateFailed indicates the delivery exhausted its attempt budget or was
	// terminated by a gate.
	StateFailed State = "failed"
)

// Delivery is one webhook's retry sequence for one event. It is the durable
// queue unit: due work is discovered by querying pending deliveries whose
// NextAttemptAt has passed, never from in-memory timers.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// State is the current delivery state.
	State State `json:"state"`

	// AttemptCount is the number of attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the attempt budget: first attempt plus retries.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the next attempt is due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// Data is the submission data snapshot, with the webhook's field
	// visibility rules already applied at dispatch time.
	Data map[string]any `json:"data,omitempty"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// LastStatusCode is the HTTP status code from the most recent attempt.
	LastStatusCode int `json:"last_status_code,omitempty"`

	// LastLatencyMs is the latency in milliseconds of the most recent attempt.
	LastLatencyMs int `json:"last_latency_ms,omitempty"`

	// CompletedAt is when the sequence reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the sequence has finished.
func (d *Delivery) Terminal() bool {
	return d.State == StateSucceeded || d.State == StateFailed
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset int
	Limit  int
	State  *State
}
