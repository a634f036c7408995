package hooks

import (
	"context"
	"fmt"
	"time"

	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/filter"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
	"github.com/formatic/hooks/quota"
	"github.com/formatic/hooks/ratelimit"
	"github.com/formatic/hooks/store"
	"github.com/formatic/hooks/webhook"
)

// quotaDeniedMessage is recorded on the terminal attempt of a quota-denied
// dispatch.
const quotaDeniedMessage = "daily limit exceeded"

// wireServices initializes the internal services after options have been applied.
func (e *Engine) wireServices() {
	e.filter = filter.NewEvaluator()
	e.limiter = ratelimit.New()

	if e.quota == nil {
		e.quota = quota.NewStoreGuard(e.store)
	}

	e.webhookSvc = webhook.NewService(e.store, e.logger)
	e.logSvc = delivery.NewLogService(e.store, e.logger)

	e.engine = delivery.NewEngine(e.store, e.limiter, delivery.EngineConfig{
		Concurrency:    e.config.Concurrency,
		PollInterval:   e.config.PollInterval,
		BatchSize:      e.config.BatchSize,
		RequestTimeout: e.config.RequestTimeout,
		Metrics:        e.metrics,
		Tracer:         e.tracer,
	}, e.logger)
}

var purgeInterval = 12 * time.Hour

// Start begins the delivery engine and the attempt log purge loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.engine.Start(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.purgeLoop(ctx)
	}()
}

// Stop gracefully shuts down the delivery engine.
func (e *Engine) Stop(ctx context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.engine.Stop(ctx)
	e.wg.Wait()
}

// purgeLoop periodically removes attempt log rows past the retention window.
func (e *Engine) purgeLoop(ctx context.Context) {
	if e.config.LogRetention <= 0 {
		return
	}

	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.logSvc.Purge(ctx, e.config.LogRetention); err != nil {
				e.logger.ErrorContext(ctx, "attempt log purge failed", "error", err)
			}
		}
	}
}

// Dispatch persists a form event and fans out deliveries to matching webhooks.
//
// The critical path:
//  1. Reject unknown event types.
//  2. Persist the event (durable before any delivery work).
//  3. Resolve active, approved webhooks subscribed to this event type.
//  4. Drop webhooks whose filter conditions reject the event data (silent).
//  5. Reserve daily quota per webhook; a denial is recorded as a terminal
//     failed attempt without any HTTP call.
//  6. Enqueue one pending delivery per surviving webhook, with the field
//     visibility rules applied to the data snapshot.
func (e *Engine) Dispatch(ctx context.Context, evt *event.Event) error {
	if !event.KnownType(evt.Type) {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, evt.Type)
	}

	evt.Entity = entity.New()
	evt.ID = id.NewEventID()
	now := time.Now().UTC()
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = now
	}

	if err := e.store.CreateEvent(ctx, evt); err != nil {
		return fmt.Errorf("hooks: persist event: %w", err)
	}

	webhooks, err := e.store.Resolve(ctx, evt.FormID, evt.Type)
	if err != nil {
		return fmt.Errorf("hooks: resolve webhooks: %w", err)
	}

	if e.metrics != nil {
		e.metrics.EventsDispatchedTotal.Inc()
	}

	if len(webhooks) == 0 {
		return nil // nothing subscribed, no delivery owed
	}

	pending := make([]*delivery.Delivery, 0, len(webhooks))
	for _, wh := range webhooks {
		matched, ferr := e.filter.Matches(wh.FilterConditions, evt.Data)
		if ferr != nil {
			e.logger.ErrorContext(ctx, "filter evaluation failed",
				"webhook_id", wh.ID, "error", ferr)
			continue
		}
		if !matched {
			continue // filtered out: no delivery record
		}

		granted, qerr := e.quota.Reserve(ctx, wh, now)
		if qerr != nil {
			e.logger.ErrorContext(ctx, "quota reservation failed",
				"webhook_id", wh.ID, "error", qerr)
			continue
		}
		if !granted {
			if derr := e.recordQuotaDenial(ctx, wh, evt, now); derr != nil {
				e.logger.ErrorContext(ctx, "record quota denial failed",
					"webhook_id", wh.ID, "error", derr)
			}
			continue
		}

		pending = append(pending, &delivery.Delivery{
			Entity:        entity.New(),
			ID:            id.NewDeliveryID(),
			EventID:       evt.ID,
			WebhookID:     wh.ID,
			State:         delivery.StatePending,
			MaxAttempts:   wh.MaxAttempts(),
			NextAttemptAt: now,
			Data:          wh.RedactData(evt.Data),
		})
	}

	if len(pending) > 0 {
		if err := e.store.EnqueueBatch(ctx, pending); err != nil {
			return fmt.Errorf("hooks: enqueue deliveries: %w", err)
		}
	}

	if e.metrics != nil {
		e.metrics.PendingDeliveries.Add(float64(len(pending)))
	}

	e.logger.DebugContext(ctx, "event dispatched",
		"event_id", evt.ID,
		"type", evt.Type,
		"form_id", evt.FormID,
		"deliveries", len(pending),
	)

	return nil
}

// recordQuotaDenial writes the terminal failed delivery and attempt row for a
// webhook whose daily quota is exhausted. No HTTP request is made.
func (e *Engine) recordQuotaDenial(ctx context.Context, wh *webhook.Webhook, evt *event.Event, now time.Time) error {
	d := &delivery.Delivery{
		Entity:        entity.New(),
		ID:            id.NewDeliveryID(),
		EventID:       evt.ID,
		WebhookID:     wh.ID,
		State:         delivery.StateFailed,
		AttemptCount:  1,
		MaxAttempts:   wh.MaxAttempts(),
		NextAttemptAt: now,
		Data:          wh.RedactData(evt.Data),
		LastError:     quotaDeniedMessage,
		CompletedAt:   &now,
	}
	if err := e.store.Enqueue(ctx, d); err != nil {
		return err
	}

	att := &delivery.Attempt{
		Entity:       entity.New(),
		ID:           id.NewAttemptID(),
		DeliveryID:   d.ID,
		WebhookID:    wh.ID,
		EventID:      evt.ID,
		EventType:    evt.Type,
		Seq:          1,
		Status:       delivery.AttemptFailed,
		ErrorMessage: quotaDeniedMessage,
		StartedAt:    now,
		CompletedAt:  &now,
	}
	if err := e.store.CreateAttempt(ctx, att); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.QuotaDenialsTotal.Inc()
	}
	e.logger.DebugContext(ctx, "quota denied",
		"webhook_id", wh.ID, "event_id", evt.ID)
	return nil
}

// TestWebhook sends a synthetic submission through the real executor path,
// synchronously, without touching the delivery queue or the attempt log.
func (e *Engine) TestWebhook(ctx context.Context, whID id.ID) (delivery.Result, error) {
	wh, err := e.store.GetWebhook(ctx, whID)
	if err != nil {
		return delivery.Result{}, err
	}

	now := time.Now().UTC()
	evt := &event.Event{
		Entity:       entity.New(),
		ID:           id.NewEventID(),
		Type:         event.TypeSubmissionCreated,
		FormID:       wh.FormID,
		FormTitle:    "Test delivery",
		SubmissionID: "test",
		Data: map[string]any{
			"test":    true,
			"message": "This is a test delivery from Formatic",
		},
		OccurredAt: now,
	}

	d := &delivery.Delivery{
		Entity:      entity.New(),
		ID:          id.NewDeliveryID(),
		EventID:     evt.ID,
		WebhookID:   wh.ID,
		State:       delivery.StatePending,
		MaxAttempts: 1,
		Data:        wh.RedactData(evt.Data),
	}

	body, err := delivery.BuildEnvelope(evt, d, now)
	if err != nil {
		return delivery.Result{}, fmt.Errorf("hooks: build test envelope: %w", err)
	}

	return e.engine.Sender().Send(ctx, wh, evt, d, body), nil
}

// Webhooks returns the webhook registry service.
func (e *Engine) Webhooks() *webhook.Service {
	return e.webhookSvc
}

// Logs returns the delivery log service.
func (e *Engine) Logs() *delivery.LogService {
	return e.logSvc
}

// Limiter returns the per-webhook outbound rate limiter.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store {
	return e.store
}

// DeliveryEngine returns the underlying delivery engine.
func (e *Engine) DeliveryEngine() *delivery.Engine {
	return e.engine
}
