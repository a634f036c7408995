// Package webhook is the registry of webhook configurations: delivery targets
// registered per form, their approval lifecycle, subscriptions, auth, retry
// policy, and daily quota state.
package webhook

import (
	"time"

	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
)

// Approval is the review state of a webhook. A webhook delivers only while
// approved, regardless of its active flag.
type Approval string

// Approval states.
const (
	ApprovalPending  Approval = "pending"
	ApprovalApproved Approval = "approved"
	ApprovalRejected Approval = "rejected"
)

// Valid reports whether a is a recognized approval state.
func (a Approval) Valid() bool {
	switch a {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	}
	return false
}

// AuthType selects how outbound requests authenticate to the target.
type AuthType string

// Authentication modes for outbound requests.
const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
)

// AuthConfig holds target authentication settings. Credentials are never
// serialized.
type AuthConfig struct {
	Type     AuthType `json:"type"`
	Token    string   `json:"-"`
	Username string   `json:"-"`
	Password string   `json:"-"`
}

// Default retry policy applied when a webhook is created without one.
const (
	DefaultRetryCount    = 3
	DefaultRetryInterval = time.Minute
)

// Webhook represents a delivery target registered on a form.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// FormID identifies the form this webhook is attached to.
	FormID string `json:"form_id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// URL is the delivery target URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// EventTypes are subscription patterns. Exact names ("submission.created")
	// and glob patterns ("submission.*", "*") are accepted.
	EventTypes []string `json:"event_types"`

	// Auth configures outbound request authentication.
	Auth AuthConfig `json:"auth"`

	// IncludeFields, when non-empty, restricts delivered submission data to
	// the named fields. Applied before ExcludeFields.
	IncludeFields []string `json:"include_fields,omitempty"`

	// ExcludeFields removes the named fields from delivered submission data.
	ExcludeFields []string `json:"exclude_fields,omitempty"`

	// AllowedIPs, when non-empty, restricts delivery to targets whose
	// resolved address falls within the listed IPs or CIDR ranges.
	AllowedIPs []string `json:"allowed_ips,omitempty"`

	// FilterConditions is an optional JSON Schema predicate over event data.
	// Events failing the predicate are silently skipped.
	FilterConditions map[string]any `json:"filter_conditions,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Active indicates whether the owner has the webhook switched on.
	Active bool `json:"active"`

	// Approval is the admin review state. Independent of Active.
	Approval Approval `json:"approval"`

	// RetryCount is the number of retries after the first attempt.
	RetryCount int `json:"retry_count"`

	// RetryInterval is the base backoff interval. Attempt n waits
	// RetryInterval * 2^(n-1) after the n-th failure.
	RetryInterval time.Duration `json:"retry_interval"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// DailyLimit caps deliveries per UTC day. 0 means unlimited.
	DailyLimit int `json:"daily_limit"`

	// DailyUsage is the number of deliveries counted in the current window.
	DailyUsage int `json:"daily_usage"`

	// DailyResetAt is when the current usage window ends.
	DailyResetAt time.Time `json:"daily_reset_at"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Deliverable reports whether the webhook may receive deliveries: it must be
// both active and approved. Neither flag implies the other.
func (w *Webhook) Deliverable() bool {
	return w.Active && w.Approval == ApprovalApproved
}

// SubscribedTo reports whether any subscription pattern matches the event type.
func (w *Webhook) SubscribedTo(eventType string) bool {
	for _, pattern := range w.EventTypes {
		if Match(pattern, eventType) {
			return true
		}
	}
	return false
}

// MaxAttempts is the total attempt budget for one delivery sequence:
// the first attempt plus RetryCount retries.
func (w *Webhook) MaxAttempts() int {
	return w.RetryCount + 1
}

// ListOpts configures filtering and pagination for webhook listing.
type ListOpts struct {
	Offset   int
	Limit    int
	Active   *bool
	Approval *Approval
}
