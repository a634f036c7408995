package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/formatic/hooks/id"
)

// ErrRetryNotAllowed is returned when manually retrying an attempt whose
// sequence is not terminally failed.
var ErrRetryNotAllowed = errors.New("delivery: retry not allowed")

// PageMeta describes one page of a paginated listing.
type PageMeta struct {
	Total           int64 `json:"total"`
	Page            int   `json:"page"`
	Limit           int   `json:"limit"`
	TotalPages      int   `json:"totalPages"`
	HasNextPage     bool  `json:"hasNextPage"`
	HasPreviousPage bool  `json:"hasPreviousPage"`
}

// AttemptPage is one page of the delivery attempt log.
type AttemptPage struct {
	Data []*Attempt `json:"data"`
	Meta PageMeta   `json:"meta"`
}

// WebhookStats summarizes a webhook's attempt outcomes over a date range.
type WebhookStats struct {
	Days         []*DayStats `json:"days"`
	Total        int64       `json:"total"`
	Success      int64       `json:"success"`
	Failed       int64       `json:"failed"`
	SuccessRate  float64     `json:"success_rate"`
	AvgLatencyMs float64     `json:"avg_latency_ms"`
}

// LogQuery selects and paginates attempt log rows. Page is 1-based.
type LogQuery struct {
	Page      int
	Limit     int
	WebhookID id.ID
	EventType string
	Status    *AttemptStatus
	From      *time.Time
	To        *time.Time
}

// Default page size bounds for log listings.
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// LogService provides operator-facing reporting over the attempt log.
type LogService struct {
	store  Store
	logger *slog.Logger
}

// NewLogService creates a log service.
func NewLogService(store Store, logger *slog.Logger) *LogService {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogService{store: store, logger: logger}
}

// List returns one page of attempt log rows, newest first.
func (svc *LogService) List(ctx context.Context, q LogQuery) (*AttemptPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	opts := AttemptListOpts{
		Offset:    (page - 1) * limit,
		Limit:     limit,
		WebhookID: q.WebhookID,
		EventType: q.EventType,
		Status:    q.Status,
		From:      q.From,
		To:        q.To,
	}

	total, err := svc.store.CountAttempts(ctx, opts)
	if err != nil {
		return nil, err
	}

	rows, err := svc.store.ListAttempts(ctx, opts)
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))

	return &AttemptPage{
		Data: rows,
		Meta: PageMeta{
			Total:           total,
			Page:            page,
			Limit:           limit,
			TotalPages:      totalPages,
			HasNextPage:     page < totalPages,
			HasPreviousPage: page > 1,
		},
	}, nil
}

// Get returns one attempt log row.
func (svc *LogService) Get(ctx context.Context, attID id.ID) (*Attempt, error) {
	return svc.store.GetAttempt(ctx, attID)
}

// Sequence returns every attempt of the delivery an attempt belongs to,
// ordered by Seq.
func (svc *LogService) Sequence(ctx context.Context, attID id.ID) ([]*Attempt, error) {
	att, err := svc.store.GetAttempt(ctx, attID)
	if err != nil {
		return nil, err
	}
	return svc.store.ListAttemptsByDelivery(ctx, att.DeliveryID)
}

// Retry re-opens a terminally failed delivery sequence from one of its failed
// attempts: the attempt budget is extended by one and the delivery is due
// immediately. Returns when the next attempt is scheduled. The attempt log
// stays append-only; the retried attempt row is not touched.
func (svc *LogService) Retry(ctx context.Context, attID id.ID) (time.Time, error) {
	att, err := svc.store.GetAttempt(ctx, attID)
	if err != nil {
		return time.Time{}, err
	}
	if att.Status != AttemptFailed {
		return time.Time{}, ErrRetryNotAllowed
	}

	d, err := svc.store.GetDelivery(ctx, att.DeliveryID)
	if err != nil {
		return time.Time{}, err
	}
	if d.State != StateFailed {
		return time.Time{}, ErrRetryNotAllowed
	}

	now := time.Now().UTC()
	d.State = StatePending
	d.MaxAttempts = d.AttemptCount + 1
	d.NextAttemptAt = now
	d.CompletedAt = nil
	d.Touch()

	if err := svc.store.UpdateDelivery(ctx, d); err != nil {
		return time.Time{}, err
	}

	svc.logger.DebugContext(ctx, "manual retry",
		"attempt_id", attID, "delivery_id", d.ID, "next_at", now)
	return now, nil
}

// Stats aggregates a webhook's attempt outcomes per UTC day over [from, to].
func (svc *LogService) Stats(ctx context.Context, whID id.ID, from, to time.Time) (*WebhookStats, error) {
	days, err := svc.store.AttemptStats(ctx, whID, from, to)
	if err != nil {
		return nil, err
	}

	out := &WebhookStats{Days: days}

	var latencySum float64
	for _, day := range days {
		out.Total += day.Total
		out.Success += day.Success
		out.Failed += day.Failed
		latencySum += day.AvgLatencyMs * float64(day.Total)
	}
	if out.Total > 0 {
		out.SuccessRate = float64(out.Success) / float64(out.Total)
		out.AvgLatencyMs = latencySum / float64(out.Total)
	}

	return out, nil
}

// Purge deletes terminal attempt rows older than the retention window and
// returns the number removed.
func (svc *LogService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	n, err := svc.store.PurgeAttempts(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		svc.logger.DebugContext(ctx, "attempt log purged", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}
