package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/formatic/hooks"
	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
	"github.com/formatic/hooks/webhook"
)

func ctx() context.Context { return context.Background() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, hooks.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// webhook.Store
// ──────────────────────────────────────────────────

func newWebhook(formID string, eventTypes []string) *webhook.Webhook {
	return &webhook.Webhook{
		Entity:     entity.New(),
		ID:         id.NewWebhookID(),
		FormID:     formID,
		Name:       "CRM sync",
		URL:        "https://example.com/hook",
		Secret:     "whsec_test",
		EventTypes: eventTypes,
		Active:     true,
		Approval:   webhook.ApprovalApproved,
	}
}

func TestWebhookCRUD(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"submission.*"})

	// Create
	if err := s.CreateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	// Get
	got, err := s.GetWebhook(ctx(), wh.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FormID != "form-1" {
		t.Fatalf("got form %q", got.FormID)
	}

	// Get not found
	_, err = s.GetWebhook(ctx(), id.NewWebhookID())
	if !errors.Is(err, hooks.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}

	// Update
	wh.Name = "Updated"
	if err := s.UpdateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetWebhook(ctx(), wh.ID)
	if got.Name != "Updated" {
		t.Fatalf("expected updated name")
	}

	// Update not found
	fake := newWebhook("form-1", nil)
	if err := s.UpdateWebhook(ctx(), fake); !errors.Is(err, hooks.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}

	// List
	list, err := s.ListWebhooks(ctx(), "form-1", webhook.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1, got %d", len(list))
	}

	// Delete
	if err := s.DeleteWebhook(ctx(), wh.ID); err != nil {
		t.Fatal(err)
	}
	_, err = s.GetWebhook(ctx(), wh.ID)
	if !errors.Is(err, hooks.ErrWebhookNotFound) {
		t.Fatalf("expected deleted")
	}
}

func TestWebhookDeleteWithHistory(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"*"})
	_ = s.CreateWebhook(ctx(), wh)

	att := &delivery.Attempt{
		Entity:     entity.New(),
		ID:         id.NewAttemptID(),
		DeliveryID: id.NewDeliveryID(),
		WebhookID:  wh.ID,
		EventID:    id.NewEventID(),
		Seq:        1,
		Status:     delivery.AttemptSuccess,
		StartedAt:  time.Now(),
	}
	_ = s.CreateAttempt(ctx(), att)

	if err := s.DeleteWebhook(ctx(), wh.ID); !errors.Is(err, hooks.ErrWebhookHasHistory) {
		t.Fatalf("expected ErrWebhookHasHistory, got %v", err)
	}

	has, _ := s.HasAttempts(ctx(), wh.ID)
	if !has {
		t.Fatal("expected attempt history")
	}
}

func TestWebhookResolve(t *testing.T) {
	s := New()

	wh1 := newWebhook("form-1", []string{"submission.*"})
	wh2 := newWebhook("form-1", []string{"form.published"})
	wh3 := newWebhook("form-1", []string{"*"})
	whInactive := newWebhook("form-1", []string{"*"})
	whInactive.Active = false
	whPending := newWebhook("form-1", []string{"*"})
	whPending.Approval = webhook.ApprovalPending
	whOtherForm := newWebhook("form-2", []string{"*"})

	for _, wh := range []*webhook.Webhook{wh1, wh2, wh3, whInactive, whPending, whOtherForm} {
		_ = s.CreateWebhook(ctx(), wh)
	}

	// submission.created → wh1 + wh3 (not wh2, not inactive, not pending, not other form)
	result, err := s.Resolve(ctx(), "form-1", "submission.created")
	if err != nil {
		t.Fatal(err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 resolved, got %d", len(result))
	}
}

func TestWebhookListFilters(t *testing.T) {
	s := New()

	wh1 := newWebhook("form-1", []string{"*"})
	wh2 := newWebhook("form-1", []string{"*"})
	wh2.Active = false
	wh2.Approval = webhook.ApprovalPending
	_ = s.CreateWebhook(ctx(), wh1)
	_ = s.CreateWebhook(ctx(), wh2)

	active := true
	list, _ := s.ListWebhooks(ctx(), "form-1", webhook.ListOpts{Active: &active})
	if len(list) != 1 {
		t.Fatalf("expected 1 active, got %d", len(list))
	}

	pending := webhook.ApprovalPending
	list, _ = s.ListWebhooks(ctx(), "form-1", webhook.ListOpts{Approval: &pending})
	if len(list) != 1 {
		t.Fatalf("expected 1 pending, got %d", len(list))
	}
}

func TestWebhookApproval(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"*"})
	wh.Approval = webhook.ApprovalPending
	_ = s.CreateWebhook(ctx(), wh)

	if err := s.SetApproval(ctx(), wh.ID, webhook.ApprovalApproved); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetWebhook(ctx(), wh.ID)
	if got.Approval != webhook.ApprovalApproved {
		t.Fatalf("expected approved, got %s", got.Approval)
	}

	if err := s.SetApproval(ctx(), id.NewWebhookID(), webhook.ApprovalApproved); !errors.Is(err, hooks.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
}

func TestWebhookApproveAllPending(t *testing.T) {
	s := New()

	for i := 0; i < 3; i++ {
		wh := newWebhook("form-1", []string{"*"})
		wh.Approval = webhook.ApprovalPending
		_ = s.CreateWebhook(ctx(), wh)
	}
	rejected := newWebhook("form-1", []string{"*"})
	rejected.Approval = webhook.ApprovalRejected
	_ = s.CreateWebhook(ctx(), rejected)

	count, err := s.ApproveAllPending(ctx(), "form-1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Fatalf("expected 3 approved, got %d", count)
	}

	// Rejected webhooks are untouched.
	got, _ := s.GetWebhook(ctx(), rejected.ID)
	if got.Approval != webhook.ApprovalRejected {
		t.Fatalf("expected rejected, got %s", got.Approval)
	}

	// Idempotent
	count, _ = s.ApproveAllPending(ctx(), "form-1")
	if count != 0 {
		t.Fatalf("expected 0 on second pass, got %d", count)
	}
}

func TestWebhookReserveQuota(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"*"})
	wh.DailyLimit = 2
	_ = s.CreateWebhook(ctx(), wh)

	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		granted, err := s.ReserveQuota(ctx(), wh.ID, now)
		if err != nil {
			t.Fatal(err)
		}
		if !granted {
			t.Fatalf("reservation %d should be granted", i+1)
		}
	}

	granted, _ := s.ReserveQuota(ctx(), wh.ID, now)
	if granted {
		t.Fatal("expected denial past the limit")
	}

	// Next UTC day resets the window.
	nextDay := now.Add(24 * time.Hour)
	granted, _ = s.ReserveQuota(ctx(), wh.ID, nextDay)
	if !granted {
		t.Fatal("expected grant after window rollover")
	}
}

func TestWebhookReserveQuotaUnlimited(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"*"})
	_ = s.CreateWebhook(ctx(), wh)

	for i := 0; i < 100; i++ {
		granted, err := s.ReserveQuota(ctx(), wh.ID, time.Now())
		if err != nil {
			t.Fatal(err)
		}
		if !granted {
			t.Fatal("unlimited webhook should never be denied")
		}
	}
}

func TestWebhookUpdatePreservesQuotaCounters(t *testing.T) {
	s := New()

	wh := newWebhook("form-1", []string{"*"})
	wh.DailyLimit = 5
	_ = s.CreateWebhook(ctx(), wh)

	now := time.Now().UTC()
	_, _ = s.ReserveQuota(ctx(), wh.ID, now)
	_, _ = s.ReserveQuota(ctx(), wh.ID, now)

	wh.Name = "Renamed"
	if err := s.UpdateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetWebhook(ctx(), wh.ID)
	if got.DailyUsage != 2 {
		t.Fatalf("expected usage 2 after update, got %d", got.DailyUsage)
	}
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func newTestEvent(formID, eventType string) *event.Event {
	return &event.Event{
		Entity:     entity.New(),
		ID:         id.NewEventID(),
		Type:       eventType,
		FormID:     formID,
		FormTitle:  "Contact form",
		Data:       map[string]any{"key": "value"},
		OccurredAt: time.Now().UTC(),
	}
}

func TestEventCRUD(t *testing.T) {
	s := New()

	evt := newTestEvent("form-1", "submission.created")

	if err := s.CreateEvent(ctx(), evt); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != "submission.created" {
		t.Fatalf("got type %q", got.Type)
	}

	_, err = s.GetEvent(ctx(), id.NewEventID())
	if !errors.Is(err, hooks.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestEventListFilters(t *testing.T) {
	s := New()

	for _, typ := range []string{"submission.created", "submission.updated", "form.published"} {
		_ = s.CreateEvent(ctx(), newTestEvent("form-1", typ))
	}
	_ = s.CreateEvent(ctx(), newTestEvent("form-2", "submission.created"))

	// Filter by type
	list, _ := s.ListEvents(ctx(), event.ListOpts{Type: "submission.created"})
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}

	// Filter by form
	list, _ = s.ListEvents(ctx(), event.ListOpts{FormID: "form-1"})
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}

	// Time filter
	future := time.Now().Add(time.Hour)
	list, _ = s.ListEvents(ctx(), event.ListOpts{From: &future})
	if len(list) != 0 {
		t.Fatalf("expected 0, got %d", len(list))
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func newTestDelivery(evtID, whID id.ID) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		EventID:       evtID,
		WebhookID:     whID,
		State:         delivery.StatePending,
		MaxAttempts:   4,
		NextAttemptAt: time.Now().Add(-time.Second), // ready for dequeue
	}
}

func TestDeliveryCRUD(t *testing.T) {
	s := New()

	d := newTestDelivery(id.NewEventID(), id.NewWebhookID())

	if err := s.Enqueue(ctx(), d); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDelivery(ctx(), d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != delivery.StatePending {
		t.Fatalf("expected pending, got %s", got.State)
	}

	d.State = delivery.StateSucceeded
	if err := s.UpdateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetDelivery(ctx(), d.ID)
	if got.State != delivery.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", got.State)
	}

	_, err = s.GetDelivery(ctx(), id.NewDeliveryID())
	if !errors.Is(err, hooks.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
}

func TestDeliveryDequeue(t *testing.T) {
	s := New()

	evtID := id.NewEventID()
	for i := 0; i < 5; i++ {
		_ = s.Enqueue(ctx(), newTestDelivery(evtID, id.NewWebhookID()))
	}

	// Dequeue with limit
	batch, err := s.Dequeue(ctx(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 {
		t.Fatalf("expected 3, got %d", len(batch))
	}

	// Second dequeue gets the remaining 2 (first 3 are locked)
	batch2, _ := s.Dequeue(ctx(), 10)
	if len(batch2) != 2 {
		t.Fatalf("expected 2, got %d", len(batch2))
	}

	// Third dequeue gets 0 (all locked)
	batch3, _ := s.Dequeue(ctx(), 10)
	if len(batch3) != 0 {
		t.Fatalf("expected 0, got %d", len(batch3))
	}

	// Update (release lock) on a succeeded item, then dequeue again
	batch[0].State = delivery.StateSucceeded
	_ = s.UpdateDelivery(ctx(), batch[0])

	batch4, _ := s.Dequeue(ctx(), 10)
	if len(batch4) != 0 {
		t.Fatalf("expected 0 (succeeded items not dequeued), got %d", len(batch4))
	}

	// Releasing a still-pending item makes it dequeueable again
	_ = s.UpdateDelivery(ctx(), batch[1])
	batch5, _ := s.Dequeue(ctx(), 10)
	if len(batch5) != 1 {
		t.Fatalf("expected 1 after release, got %d", len(batch5))
	}
}

func TestDeliveryDequeueRespectsNextAttemptAt(t *testing.T) {
	s := New()

	d := newTestDelivery(id.NewEventID(), id.NewWebhookID())
	d.NextAttemptAt = time.Now().Add(time.Hour) // future
	_ = s.Enqueue(ctx(), d)

	batch, _ := s.Dequeue(ctx(), 10)
	if len(batch) != 0 {
		t.Fatalf("expected 0 (not ready), got %d", len(batch))
	}
}

func TestDeliveryListByWebhook(t *testing.T) {
	s := New()

	evtID := id.NewEventID()
	whID := id.NewWebhookID()

	_ = s.Enqueue(ctx(), newTestDelivery(evtID, whID))
	_ = s.Enqueue(ctx(), newTestDelivery(evtID, whID))
	_ = s.Enqueue(ctx(), newTestDelivery(evtID, id.NewWebhookID()))

	list, _ := s.ListByWebhook(ctx(), whID, delivery.ListOpts{})
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}

	failed := delivery.StateFailed
	list, _ = s.ListByWebhook(ctx(), whID, delivery.ListOpts{State: &failed})
	if len(list) != 0 {
		t.Fatalf("expected 0 failed, got %d", len(list))
	}
}

func TestDeliveryListByEvent(t *testing.T) {
	s := New()

	evtID := id.NewEventID()
	_ = s.Enqueue(ctx(), newTestDelivery(evtID, id.NewWebhookID()))
	_ = s.Enqueue(ctx(), newTestDelivery(evtID, id.NewWebhookID()))
	_ = s.Enqueue(ctx(), newTestDelivery(id.NewEventID(), id.NewWebhookID()))

	list, _ := s.ListByEvent(ctx(), evtID)
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
}

func TestDeliveryCountPending(t *testing.T) {
	s := New()

	d1 := newTestDelivery(id.NewEventID(), id.NewWebhookID())
	d2 := newTestDelivery(id.NewEventID(), id.NewWebhookID())
	_ = s.Enqueue(ctx(), d1)
	_ = s.Enqueue(ctx(), d2)

	d1.State = delivery.StateSucceeded
	_ = s.UpdateDelivery(ctx(), d1)

	count, _ := s.CountPending(ctx())
	if count != 1 {
		t.Fatalf("expected 1, got %d", count)
	}
}

// ──────────────────────────────────────────────────
// Attempt log
// ──────────────────────────────────────────────────

func newTestAttempt(delID, whID id.ID, seq int, status delivery.AttemptStatus, startedAt time.Time) *delivery.Attempt {
	completed := startedAt.Add(time.Second)
	a := &delivery.Attempt{
		Entity:     entity.New(),
		ID:         id.NewAttemptID(),
		DeliveryID: delID,
		WebhookID:  whID,
		EventID:    id.NewEventID(),
		EventType:  "submission.created",
		Seq:        seq,
		Status:     status,
		StatusCode: 200,
		LatencyMs:  100,
		StartedAt:  startedAt,
	}
	if status != delivery.AttemptPending {
		a.CompletedAt = &completed
	}
	return a
}

func TestAttemptCRUD(t *testing.T) {
	s := New()

	att := newTestAttempt(id.NewDeliveryID(), id.NewWebhookID(), 1, delivery.AttemptPending, time.Now())

	if err := s.CreateAttempt(ctx(), att); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAttempt(ctx(), att.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Seq != 1 {
		t.Fatalf("got seq %d", got.Seq)
	}

	att.Status = delivery.AttemptSuccess
	if err := s.UpdateAttempt(ctx(), att); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetAttempt(ctx(), att.ID)
	if got.Status != delivery.AttemptSuccess {
		t.Fatalf("expected success, got %s", got.Status)
	}

	_, err = s.GetAttempt(ctx(), id.NewAttemptID())
	if !errors.Is(err, hooks.ErrAttemptNotFound) {
		t.Fatalf("expected ErrAttemptNotFound, got %v", err)
	}
}

func TestAttemptListFilters(t *testing.T) {
	s := New()

	whID := id.NewWebhookID()
	delID := id.NewDeliveryID()
	now := time.Now()

	_ = s.CreateAttempt(ctx(), newTestAttempt(delID, whID, 1, delivery.AttemptFailed, now.Add(-2*time.Minute)))
	_ = s.CreateAttempt(ctx(), newTestAttempt(delID, whID, 2, delivery.AttemptSuccess, now.Add(-time.Minute)))
	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), id.NewWebhookID(), 1, delivery.AttemptSuccess, now))

	// By webhook
	list, _ := s.ListAttempts(ctx(), delivery.AttemptListOpts{WebhookID: whID})
	if len(list) != 2 {
		t.Fatalf("expected 2, got %d", len(list))
	}
	// Newest first
	if list[0].Seq != 2 {
		t.Fatalf("expected seq 2 first, got %d", list[0].Seq)
	}

	// By status
	failed := delivery.AttemptFailed
	list, _ = s.ListAttempts(ctx(), delivery.AttemptListOpts{Status: &failed})
	if len(list) != 1 {
		t.Fatalf("expected 1 failed, got %d", len(list))
	}

	// Count matches list
	count, _ := s.CountAttempts(ctx(), delivery.AttemptListOpts{WebhookID: whID})
	if count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
}

func TestAttemptListByDelivery(t *testing.T) {
	s := New()

	delID := id.NewDeliveryID()
	whID := id.NewWebhookID()
	now := time.Now()

	// Created out of order; listing must sort by Seq.
	_ = s.CreateAttempt(ctx(), newTestAttempt(delID, whID, 3, delivery.AttemptSuccess, now))
	_ = s.CreateAttempt(ctx(), newTestAttempt(delID, whID, 1, delivery.AttemptFailed, now.Add(-2*time.Minute)))
	_ = s.CreateAttempt(ctx(), newTestAttempt(delID, whID, 2, delivery.AttemptFailed, now.Add(-time.Minute)))

	list, err := s.ListAttemptsByDelivery(ctx(), delID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3, got %d", len(list))
	}
	for i, a := range list {
		if a.Seq != i+1 {
			t.Fatalf("position %d has seq %d", i, a.Seq)
		}
	}
}

func TestAttemptStats(t *testing.T) {
	s := New()

	whID := id.NewWebhookID()
	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)

	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptSuccess, day1))
	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptFailed, day1))
	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptSuccess, day2))

	stats, err := s.AttemptStats(ctx(), whID, day1.Add(-time.Hour), day2.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 days, got %d", len(stats))
	}
	if stats[0].Total != 2 || stats[0].Success != 1 || stats[0].Failed != 1 {
		t.Fatalf("day1 stats: %+v", stats[0])
	}
	if stats[1].Total != 1 || stats[1].Success != 1 {
		t.Fatalf("day2 stats: %+v", stats[1])
	}
	if stats[0].AvgLatencyMs != 100 {
		t.Fatalf("expected avg latency 100, got %f", stats[0].AvgLatencyMs)
	}
}

func TestAttemptPurge(t *testing.T) {
	s := New()

	whID := id.NewWebhookID()
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptSuccess, old))
	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptSuccess, recent))
	// Pending attempts are never purged.
	_ = s.CreateAttempt(ctx(), newTestAttempt(id.NewDeliveryID(), whID, 1, delivery.AttemptPending, old))

	count, err := s.PurgeAttempts(ctx(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("expected 1 purged, got %d", count)
	}

	remaining, _ := s.CountAttempts(ctx(), delivery.AttemptListOpts{WebhookID: whID})
	if remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", remaining)
	}
}
