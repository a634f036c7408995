package delivery

import (
	"sort"
	"time"

	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
)

// AttemptStatus is the outcome of a single delivery attempt.
type AttemptStatus string

const (
	// AttemptPending indicates the attempt is in flight. At most one attempt
	// per delivery sequence may be pending.
	AttemptPending AttemptStatus = "pending"

	// AttemptSuccess indicates the target returned 2xx.
	AttemptSuccess AttemptStatus = "success"

	// AttemptFailed indicates a non-2xx response, a transport error, or a
	// quota denial.
	AttemptFailed AttemptStatus = "failed"
)

// Attempt is one row of the append-only delivery log. Attempts are never
// updated after reaching a terminal status and never deleted except by an
// explicit history purge.
type Attempt struct {
	entity.Entity

	// ID is the unique TypeID for this attempt.
	ID id.ID `json:"id"`

	// DeliveryID references the delivery sequence this attempt belongs to.
	DeliveryID id.ID `json:"delivery_id"`

	// WebhookID references the target webhook. Denormalized for log queries.
	WebhookID id.ID `json:"webhook_id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// EventType is the event type name. Denormalized for log queries.
	EventType string `json:"event_type"`

	// Seq is the 1-based position within the delivery sequence. Contiguous.
	Seq int `json:"seq"`

	// Status is the attempt outcome.
	Status AttemptStatus `json:"status"`

	// RequestBody is the JSON envelope sent to the target.
	RequestBody string `json:"request_body,omitempty"`

	// ResponseBody is the response body, capped at 1KB.
	ResponseBody string `json:"response_body,omitempty"`

	// StatusCode is the HTTP status code. 0 for transport errors and
	// attempts that made no HTTP call.
	StatusCode int `json:"status_code,omitempty"`

	// ErrorMessage describes the failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`

	// LatencyMs is the request round-trip time in milliseconds.
	LatencyMs int `json:"latency_ms,omitempty"`

	// StartedAt is when the attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt finished.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// NextAttemptAt is when the following attempt is scheduled. Nil on
	// success and on the final failure of a sequence.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// AttemptListOpts configures filtering and pagination for the attempt log.
type AttemptListOpts struct {
	Offset    int
	Limit     int
	WebhookID id.ID
	EventType string
	Status    *AttemptStatus
	From      *time.Time
	To        *time.Time
}

// DayStats aggregates attempt outcomes for one UTC day.
type DayStats struct {
	Day          time.Time `json:"day"`
	Total        int64     `json:"total"`
	Success      int64     `json:"success"`
	Failed       int64     `json:"failed"`
	Pending      int64     `json:"pending"`
	AvgLatencyMs float64   `json:"avg_latency_ms"`
}

// BucketStats groups attempts into per-UTC-day aggregates, sorted by day.
// Shared by the store implementations backing AttemptStats.
func BucketStats(attempts []*Attempt) []*DayStats {
	type acc struct {
		stats      *DayStats
		latencySum int64
	}
	days := make(map[time.Time]*acc)

	for _, a := range attempts {
		day := a.StartedAt.UTC().Truncate(24 * time.Hour)
		entry, ok := days[day]
		if !ok {
			entry = &acc{stats: &DayStats{Day: day}}
			days[day] = entry
		}

		entry.stats.Total++
		switch a.Status {
		case AttemptSuccess:
			entry.stats.Success++
		case AttemptFailed:
			entry.stats.Failed++
		case AttemptPending:
			entry.stats.Pending++
		}
		entry.latencySum += int64(a.LatencyMs)
	}

	result := make([]*DayStats, 0, len(days))
	for _, entry := range days {
		if entry.stats.Total > 0 {
			entry.stats.AvgLatencyMs = float64(entry.latencySum) / float64(entry.stats.Total)
		}
		result = append(result, entry.stats)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Day.Before(result[j].Day)
	})
	return result
}
