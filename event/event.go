// Package event defines the durable form lifecycle events that feed the
// delivery engine.
package event

import (
	"time"

	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
)

// Canonical form lifecycle event types.
const (
	TypeSubmissionCreated = "submission.created"
	TypeSubmissionUpdated = "submission.updated"
	TypeSubmissionDeleted = "submission.deleted"
	TypeFormPublished     = "form.published"
)

// Types lists every canonical event type.
var Types = []string{
	TypeSubmissionCreated,
	TypeSubmissionUpdated,
	TypeSubmissionDeleted,
	TypeFormPublished,
}

// KnownType reports whether t is one of the canonical event types.
func KnownType(t string) bool {
	for _, k := range Types {
		if k == t {
			return true
		}
	}
	return false
}

// Event represents a form lifecycle occurrence submitted for webhook delivery.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Type is the dot-separated event type name (e.g. "submission.created").
	Type string `json:"type"`

	// FormID identifies the form this event belongs to.
	FormID string `json:"form_id"`

	// FormTitle is the form's display title at the time of the event.
	FormTitle string `json:"form_title"`

	// SubmissionID identifies the submission, when the event concerns one.
	SubmissionID string `json:"submission_id,omitempty"`

	// Data is the submission payload as submitted by the respondent.
	Data map[string]any `json:"data"`

	// OccurredAt is when the underlying change happened.
	OccurredAt time.Time `json:"occurred_at"`
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset int
	Limit  int
	Type   string
	FormID string
	From   *time.Time
	To     *time.Time
}
