// Package memory provides an in-memory Store implementation for unit testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/formatic/hooks"
	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
	hooksstore "github.com/formatic/hooks/store"
	"github.com/formatic/hooks/webhook"
)

// compile-time interface check.
var _ hooksstore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store for testing.
type Store struct {
	mu sync.RWMutex

	webhooks   map[string]*webhook.Webhook   // keyed by ID string
	events     map[string]*event.Event       // keyed by ID string
	deliveries map[string]*delivery.Delivery // keyed by ID string
	attempts   map[string]*delivery.Attempt  // keyed by ID string
	locked     map[string]bool               // simulates SKIP LOCKED

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		webhooks:   make(map[string]*webhook.Webhook),
		events:     make(map[string]*event.Event),
		deliveries: make(map[string]*delivery.Delivery),
		attempts:   make(map[string]*delivery.Attempt),
		locked:     make(map[string]bool),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping is a no-op for the in-memory store.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return hooks.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

// CreateWebhook persists a new webhook.
func (s *Store) CreateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhooks[wh.ID.String()] = copyWebhook(wh)
	return nil
}

// GetWebhook returns a copy of a webhook by ID.
func (s *Store) GetWebhook(_ context.Context, whID id.ID) (*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return nil, hooks.ErrWebhookNotFound
	}
	return copyWebhook(wh), nil
}

// UpdateWebhook modifies an existing webhook. Quota counters are managed by
// ReserveQuota and survive the update.
func (s *Store) UpdateWebhook(_ context.Context, wh *webhook.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.webhooks[wh.ID.String()]
	if !ok {
		return hooks.ErrWebhookNotFound
	}

	cp := copyWebhook(wh)
	cp.DailyUsage = existing.DailyUsage
	cp.DailyResetAt = existing.DailyResetAt
	cp.UpdatedAt = time.Now().UTC()
	s.webhooks[wh.ID.String()] = cp
	return nil
}

// DeleteWebhook removes a webhook unless delivery history references it.
func (s *Store) DeleteWebhook(_ context.Context, whID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.webhooks[whID.String()]; !ok {
		return hooks.ErrWebhookNotFound
	}

	for _, a := range s.attempts {
		if a.WebhookID.String() == whID.String() {
			return hooks.ErrWebhookHasHistory
		}
	}

	delete(s.webhooks, whID.String())
	return nil
}

// ListWebhooks returns webhooks for a form, optionally filtered.
func (s *Store) ListWebhooks(_ context.Context, formID string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*webhook.Webhook, 0, len(s.webhooks))
	for _, wh := range s.webhooks {
		if wh.FormID != formID {
			continue
		}
		if opts.Active != nil && wh.Active != *opts.Active {
			continue
		}
		if opts.Approval != nil && wh.Approval != *opts.Approval {
			continue
		}
		result = append(result, copyWebhook(wh))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// Resolve finds all deliverable webhooks on a form subscribed to an event type.
func (s *Store) Resolve(_ context.Context, formID, eventType string) ([]*webhook.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*webhook.Webhook
	for _, wh := range s.webhooks {
		if wh.FormID != formID || !wh.Deliverable() {
			continue
		}
		if wh.SubscribedTo(eventType) {
			result = append(result, copyWebhook(wh))
		}
	}
	return result, nil
}

// SetActive switches a webhook on or off.
func (s *Store) SetActive(_ context.Context, whID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return hooks.ErrWebhookNotFound
	}
	wh.Active = active
	wh.UpdatedAt = time.Now().UTC()
	return nil
}

// SetApproval records an approval state transition.
func (s *Store) SetApproval(_ context.Context, whID id.ID, approval webhook.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return hooks.ErrWebhookNotFound
	}
	wh.Approval = approval
	wh.UpdatedAt = time.Now().UTC()
	return nil
}

// ApproveAllPending approves every pending webhook on a form.
func (s *Store) ApproveAllPending(_ context.Context, formID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0
	for _, wh := range s.webhooks {
		if wh.FormID != formID || wh.Approval != webhook.ApprovalPending {
			continue
		}
		wh.Approval = webhook.ApprovalApproved
		wh.UpdatedAt = now
		count++
	}
	return count, nil
}

// ReserveQuota atomically consumes one unit of the webhook's daily quota.
// The window reset and the increment happen under one lock, so concurrent
// callers racing on the last unit or on the day rollover stay consistent.
func (s *Store) ReserveQuota(_ context.Context, whID id.ID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wh, ok := s.webhooks[whID.String()]
	if !ok {
		return false, hooks.ErrWebhookNotFound
	}

	if wh.DailyLimit <= 0 {
		return true, nil
	}

	now = now.UTC()
	if wh.DailyResetAt.IsZero() || !now.Before(wh.DailyResetAt) {
		wh.DailyUsage = 0
		wh.DailyResetAt = windowEnd(now)
	}

	if wh.DailyUsage >= wh.DailyLimit {
		return false, nil
	}
	wh.DailyUsage++
	return true, nil
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

// CreateEvent persists an event.
func (s *Store) CreateEvent(_ context.Context, evt *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[evt.ID.String()] = evt
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, hooks.ErrEventNotFound
	}
	return evt, nil
}

// ListEvents returns events, optionally filtered.
func (s *Store) ListEvents(_ context.Context, opts event.ListOpts) ([]*event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*event.Event, 0, len(s.events))
	for _, evt := range s.events {
		if !matchEventOpts(evt, opts) {
			continue
		}
		result = append(result, evt)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

// Enqueue creates a delivery.
func (s *Store) Enqueue(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = copyDelivery(d)
	return nil
}

// EnqueueBatch creates multiple deliveries atomically.
func (s *Store) EnqueueBatch(_ context.Context, ds []*delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range ds {
		s.deliveries[d.ID.String()] = copyDelivery(d)
	}
	return nil
}

// Dequeue fetches due pending deliveries (concurrent-safe). Dequeued rows
// stay locked until UpdateDelivery releases them, so no two pollers process
// the same sequence at once. Returns copies so callers can mutate freely.
func (s *Store) Dequeue(_ context.Context, limit int) ([]*delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*delivery.Delivery, 0, len(s.deliveries))

	for _, d := range s.deliveries {
		if d.State != delivery.StatePending {
			continue
		}
		if d.NextAttemptAt.After(now) {
			continue
		}
		if s.locked[d.ID.String()] {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[j].NextAttemptAt)
	})

	if limit > 0 && limit < len(candidates) {
		candidates = candidates[:limit]
	}

	result := make([]*delivery.Delivery, 0, len(candidates))
	for _, d := range candidates {
		s.locked[d.ID.String()] = true
		result = append(result, copyDelivery(d))
	}

	return result, nil
}

// UpdateDelivery modifies a delivery and releases its dequeue lock.
func (s *Store) UpdateDelivery(_ context.Context, d *delivery.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.deliveries[d.ID.String()]; !ok {
		return hooks.ErrDeliveryNotFound
	}
	cp := copyDelivery(d)
	cp.UpdatedAt = time.Now().UTC()
	s.deliveries[d.ID.String()] = cp
	delete(s.locked, d.ID.String())
	return nil
}

// GetDelivery returns a copy of the delivery by ID.
func (s *Store) GetDelivery(_ context.Context, delID id.ID) (*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[delID.String()]
	if !ok {
		return nil, hooks.ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

// ListByWebhook returns delivery history for a webhook.
func (s *Store) ListByWebhook(_ context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.WebhookID.String() != whID.String() {
			continue
		}
		if opts.State != nil && d.State != *opts.State {
			continue
		}
		result = append(result, copyDelivery(d))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// ListByEvent returns all deliveries for a specific event.
func (s *Store) ListByEvent(_ context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*delivery.Delivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if d.EventID.String() != evtID.String() {
			continue
		}
		result = append(result, copyDelivery(d))
	}
	return result, nil
}

// CountPending returns the number of deliveries awaiting attempt.
func (s *Store) CountPending(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	for _, d := range s.deliveries {
		if d.State == delivery.StatePending {
			count++
		}
	}
	return count, nil
}

// HasAttempts reports whether any attempt rows reference the webhook.
func (s *Store) HasAttempts(_ context.Context, whID id.ID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.attempts {
		if a.WebhookID.String() == whID.String() {
			return true, nil
		}
	}
	return false, nil
}

// CreateAttempt appends a row to the attempt log.
func (s *Store) CreateAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[a.ID.String()] = copyAttempt(a)
	return nil
}

// UpdateAttempt finalizes an in-flight attempt row.
func (s *Store) UpdateAttempt(_ context.Context, a *delivery.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.attempts[a.ID.String()]; !ok {
		return hooks.ErrAttemptNotFound
	}
	cp := copyAttempt(a)
	cp.UpdatedAt = time.Now().UTC()
	s.attempts[a.ID.String()] = cp
	return nil
}

// GetAttempt returns a copy of an attempt by ID.
func (s *Store) GetAttempt(_ context.Context, attID id.ID) (*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attempts[attID.String()]
	if !ok {
		return nil, hooks.ErrAttemptNotFound
	}
	return copyAttempt(a), nil
}

// ListAttempts returns attempt log rows matching the filter, newest first.
func (s *Store) ListAttempts(_ context.Context, opts delivery.AttemptListOpts) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.filterAttempts(opts)

	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return result[i].Seq > result[j].Seq
	})

	result = applyPagination(result, opts.Offset, opts.Limit)
	return result, nil
}

// CountAttempts returns the number of rows matching the filter.
func (s *Store) CountAttempts(_ context.Context, opts delivery.AttemptListOpts) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.filterAttempts(opts))), nil
}

// ListAttemptsByDelivery returns a sequence's attempts ordered by Seq.
func (s *Store) ListAttemptsByDelivery(_ context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*delivery.Attempt
	for _, a := range s.attempts {
		if a.DeliveryID.String() == delID.String() {
			result = append(result, copyAttempt(a))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})
	return result, nil
}

// AttemptStats aggregates attempt outcomes per UTC day for a webhook.
func (s *Store) AttemptStats(_ context.Context, whID id.ID, from, to time.Time) ([]*delivery.DayStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window []*delivery.Attempt
	for _, a := range s.attempts {
		if a.WebhookID.String() != whID.String() {
			continue
		}
		if a.StartedAt.Before(from) || a.StartedAt.After(to) {
			continue
		}
		window = append(window, a)
	}

	return delivery.BucketStats(window), nil
}

// PurgeAttempts deletes terminal attempt rows completed before the cutoff.
func (s *Store) PurgeAttempts(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for k, a := range s.attempts {
		if a.Status == delivery.AttemptPending {
			continue
		}
		if a.CompletedAt != nil && a.CompletedAt.Before(before) {
			delete(s.attempts, k)
			count++
		}
	}
	return count, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// filterAttempts returns copies of attempts matching the filter, ignoring
// pagination. Callers must hold at least the read lock.
func (s *Store) filterAttempts(opts delivery.AttemptListOpts) []*delivery.Attempt {
	var result []*delivery.Attempt
	for _, a := range s.attempts {
		if !opts.WebhookID.IsNil() && a.WebhookID.String() != opts.WebhookID.String() {
			continue
		}
		if opts.EventType != "" && a.EventType != opts.EventType {
			continue
		}
		if opts.Status != nil && a.Status != *opts.Status {
			continue
		}
		if opts.From != nil && a.StartedAt.Before(*opts.From) {
			continue
		}
		if opts.To != nil && a.StartedAt.After(*opts.To) {
			continue
		}
		result = append(result, copyAttempt(a))
	}
	return result
}

func copyWebhook(wh *webhook.Webhook) *webhook.Webhook {
	cp := *wh
	return &cp
}

func copyDelivery(d *delivery.Delivery) *delivery.Delivery {
	cp := *d
	return &cp
}

func copyAttempt(a *delivery.Attempt) *delivery.Attempt {
	cp := *a
	return &cp
}

// windowEnd returns the next UTC midnight after now.
func windowEnd(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

func matchEventOpts(evt *event.Event, opts event.ListOpts) bool {
	if opts.Type != "" && evt.Type != opts.Type {
		return false
	}
	if opts.FormID != "" && evt.FormID != opts.FormID {
		return false
	}
	if opts.From != nil && evt.CreatedAt.Before(*opts.From) {
		return false
	}
	if opts.To != nil && evt.CreatedAt.After(*opts.To) {
		return false
	}
	return true
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
