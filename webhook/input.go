package webhook

// Input is the creation/update payload for webhooks.
type Input struct {
	// FormID identifies the form the webhook is attached to.
	FormID string `json:"form_id"`

	// Name is a human-readable label.
	Name string `json:"name"`

	// URL is the delivery target URL.
	URL string `json:"url"`

	// Secret is the HMAC signing secret. Auto-generated if empty on create.
	Secret string `json:"secret"`

	// EventTypes are subscription patterns (exact names or globs).
	EventTypes []string `json:"event_types"`

	// Auth configures outbound request authentication.
	Auth *AuthConfig `json:"auth,omitempty"`

	// IncludeFields restricts delivered submission data to the named fields.
	IncludeFields []string `json:"include_fields,omitempty"`

	// ExcludeFields removes the named fields from delivered submission data.
	ExcludeFields []string `json:"exclude_fields,omitempty"`

	// AllowedIPs restricts delivery targets to the listed IPs or CIDR ranges.
	AllowedIPs []string `json:"allowed_ips,omitempty"`

	// FilterConditions is an optional JSON Schema predicate over event data.
	FilterConditions map[string]any `json:"filter_conditions,omitempty"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// RetryCount is the number of retries after the first attempt.
	// Nil selects the default policy on create.
	RetryCount *int `json:"retry_count,omitempty"`

	// RetryIntervalSeconds is the base backoff interval in seconds.
	// 0 selects the default policy on create.
	RetryIntervalSeconds int `json:"retry_interval_seconds"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// DailyLimit caps deliveries per UTC day. 0 means unlimited.
	DailyLimit int `json:"daily_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`
}
