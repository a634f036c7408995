package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
	"github.com/formatic/hooks/internal/entity"
	"github.com/formatic/hooks/observability"
	"github.com/formatic/hooks/ratelimit"
	"github.com/formatic/hooks/webhook"
)

// EngineStore is the interface the engine needs for delivery operations.
type EngineStore interface {
	Dequeue(ctx context.Context, limit int) ([]*Delivery, error)
	UpdateDelivery(ctx context.Context, d *Delivery) error
	CreateAttempt(ctx context.Context, a *Attempt) error
	UpdateAttempt(ctx context.Context, a *Attempt) error
	ListAttemptsByDelivery(ctx context.Context, delID id.ID) ([]*Attempt, error)
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
}

// EngineConfig holds engine configuration.
type EngineConfig struct {
	Concurrency    int
	PollInterval   time.Duration
	BatchSize      int
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Engine is the delivery worker pool that dequeues and processes deliveries.
type Engine struct {
	store   EngineStore
	sender  *Sender
	retrier *Retrier
	limiter *ratelimit.Limiter
	config  EngineConfig
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates a delivery engine.
func NewEngine(store EngineStore, limiter *ratelimit.Limiter, cfg EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ratelimit.New()
	}
	return &Engine{
		store:   store,
		sender:  NewSender(cfg.RequestTimeout),
		retrier: NewRetrier(),
		limiter: limiter,
		config:  cfg,
		logger:  logger,
	}
}

// Start begins the delivery workers and poll loop.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight deliveries to complete.
func (e *Engine) Stop(_ context.Context) {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Sender exposes the engine's HTTP executor for synchronous test deliveries.
func (e *Engine) Sender() *Sender {
	return e.sender
}

// pollLoop periodically dequeues due deliveries and dispatches them to workers.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := e.store.Dequeue(ctx, e.config.BatchSize)
			if err != nil {
				e.logger.ErrorContext(ctx, "dequeue failed", "error", err)
				continue
			}

			for _, d := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				e.wg.Add(1)
				go func(del *Delivery) {
					defer e.wg.Done()
					defer func() { <-sem }()
					e.Process(ctx, del)
				}(d)
			}
		}
	}
}

// Process runs one attempt of a dequeued delivery: gate check, rate limit,
// attempt log, HTTP send, retry decision, state update.
func (e *Engine) Process(ctx context.Context, d *Delivery) {
	var span trace.Span
	if e.config.Tracer != nil {
		ctx, span = e.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), d.EventID.String(), d.WebhookID.String())
	}
	defer func() {
		if span != nil {
			e.config.Tracer.EndDeliverySpan(span, d.LastStatusCode, d.LastLatencyMs, d.LastError)
		}
	}()

	// A missing webhook or event means the sequence can never complete.
	// Any other lookup error is transient: leave the row untouched and the
	// stale-lock timeout returns it to the queue.
	wh, err := e.store.GetWebhook(ctx, d.WebhookID)
	if err != nil {
		if errors.Is(err, webhook.ErrNotFound) {
			e.terminate(ctx, d, "webhook no longer exists")
			return
		}
		e.logger.ErrorContext(ctx, "webhook lookup failed",
			"delivery_id", d.ID, "error", err)
		return
	}

	evt, err := e.store.GetEvent(ctx, d.EventID)
	if err != nil {
		if errors.Is(err, event.ErrNotFound) {
			e.terminate(ctx, d, "event no longer exists")
			return
		}
		e.logger.ErrorContext(ctx, "event lookup failed",
			"delivery_id", d.ID, "error", err)
		return
	}

	// An interrupted attempt (engine crash mid-send) left a pending log row.
	// Count it as a failure before deciding what happens next.
	if e.reconcileInterrupted(ctx, d, wh) {
		return
	}

	// The gate is re-checked before every attempt: deactivation or approval
	// revocation mid-sequence terminates without logging a new attempt.
	if !wh.Deliverable() {
		e.terminate(ctx, d, "webhook inactive or not approved")
		return
	}

	// Throttled deliveries are rescheduled, not logged: no attempt was owed.
	if !e.limiter.Allow(wh.ID.String(), wh.RateLimit) {
		d.NextAttemptAt = time.Now().UTC().Add(ratelimit.Delay(wh.RateLimit))
		if updateErr := e.store.UpdateDelivery(ctx, d); updateErr != nil {
			e.logger.ErrorContext(ctx, "reschedule throttled delivery failed",
				"delivery_id", d.ID, "error", updateErr)
		}
		return
	}

	d.AttemptCount++
	now := time.Now().UTC()

	body, err := BuildEnvelope(evt, d, now)
	if err != nil {
		// Unmarshalable payload cannot succeed on retry.
		d.AttemptCount--
		e.terminate(ctx, d, "build envelope: "+err.Error())
		return
	}

	att := &Attempt{
		Entity:      entity.New(),
		ID:          id.NewAttemptID(),
		DeliveryID:  d.ID,
		WebhookID:   d.WebhookID,
		EventID:     d.EventID,
		EventType:   evt.Type,
		Seq:         d.AttemptCount,
		Status:      AttemptPending,
		RequestBody: string(body),
		StartedAt:   now,
	}

	// The pending row is durable before any bytes leave the process, so an
	// interrupted attempt is visible after a crash.
	if createErr := e.store.CreateAttempt(ctx, att); createErr != nil {
		e.logger.ErrorContext(ctx, "create attempt failed",
			"delivery_id", d.ID, "error", createErr)
		d.AttemptCount--
		return
	}

	result := e.sender.Send(ctx, wh, evt, d, body)
	e.finalize(ctx, d, wh, att, result)
}

// finalize applies the attempt result to the attempt row and the delivery.
func (e *Engine) finalize(ctx context.Context, d *Delivery, wh *webhook.Webhook, att *Attempt, result Result) {
	done := time.Now().UTC()
	att.CompletedAt = &done
	att.StatusCode = result.StatusCode
	att.ResponseBody = result.Response
	att.ErrorMessage = result.Error
	att.LatencyMs = result.LatencyMs
	att.Touch()

	d.LastError = result.Error
	d.LastStatusCode = result.StatusCode
	d.LastLatencyMs = result.LatencyMs

	latencySeconds := float64(result.LatencyMs) / 1000.0

	switch e.retrier.Decide(result, d) {
	case Delivered:
		att.Status = AttemptSuccess
		d.State = StateSucceeded
		d.CompletedAt = &done
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("succeeded", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID, "status", result.StatusCode, "latency_ms", result.LatencyMs)

	case Retry:
		att.Status = AttemptFailed
		next := e.retrier.ComputeNextAttempt(wh.RetryInterval, d.AttemptCount)
		att.NextAttemptAt = &next
		d.NextAttemptAt = next
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("retried", latencySeconds)
		}
		e.logger.DebugContext(ctx, "retry scheduled",
			"delivery_id", d.ID, "attempt", d.AttemptCount, "next_at", next)

	case Failed:
		att.Status = AttemptFailed
		d.State = StateFailed
		d.CompletedAt = &done
		if e.config.Metrics != nil {
			e.config.Metrics.RecordDelivery("failed", latencySeconds)
			e.config.Metrics.PendingDeliveries.Dec()
		}
		e.logger.WarnContext(ctx, "delivery failed permanently",
			"delivery_id", d.ID, "webhook_id", d.WebhookID,
			"status", result.StatusCode, "error", result.Error)
	}

	if err := e.store.UpdateAttempt(ctx, att); err != nil {
		e.logger.ErrorContext(ctx, "update attempt failed",
			"attempt_id", att.ID, "error", err)
	}
	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}

// terminate ends a sequence without logging a new attempt.
func (e *Engine) terminate(ctx context.Context, d *Delivery, reason string) {
	now := time.Now().UTC()
	d.State = StateFailed
	d.LastError = reason
	d.CompletedAt = &now

	if e.config.Metrics != nil {
		e.config.Metrics.RecordDelivery("terminated", 0)
		e.config.Metrics.PendingDeliveries.Dec()
	}
	e.logger.DebugContext(ctx, "delivery terminated",
		"delivery_id", d.ID, "reason", reason)

	if err := e.store.UpdateDelivery(ctx, d); err != nil {
		e.logger.ErrorContext(ctx, "update delivery failed",
			"delivery_id", d.ID, "error", err)
	}
}

// reconcileInterrupted finalizes an attempt row left pending by a crash and
// reschedules or fails the sequence. Returns true when the cycle is consumed
// by reconciliation.
func (e *Engine) reconcileInterrupted(ctx context.Context, d *Delivery, wh *webhook.Webhook) bool {
	atts, err := e.store.ListAttemptsByDelivery(ctx, d.ID)
	if err != nil || len(atts) == 0 {
		return false
	}

	last := atts[len(atts)-1]
	if last.Status != AttemptPending {
		return false
	}

	now := time.Now().UTC()
	last.Status = AttemptFailed
	last.ErrorMessage = "attempt interrupted"
	last.CompletedAt = &now
	last.Touch()

	d.AttemptCount = last.Seq
	d.LastError = last.ErrorMessage

	if d.AttemptCount < d.MaxAttempts {
		next := e.retrier.ComputeNextAttempt(wh.RetryInterval, d.AttemptCount)
		last.NextAttemptAt = &next
		d.NextAttemptAt = next
	} else {
		d.State = StateFailed
		d.CompletedAt = &now
	}

	if updErr := e.store.UpdateAttempt(ctx, last); updErr != nil {
		e.logger.ErrorContext(ctx, "reconcile attempt failed",
			"attempt_id", last.ID, "error", updErr)
	}
	if updErr := e.store.UpdateDelivery(ctx, d); updErr != nil {
		e.logger.ErrorContext(ctx, "reconcile delivery failed",
			"delivery_id", d.ID, "error", updErr)
	}

	e.logger.WarnContext(ctx, "interrupted attempt reconciled",
		"delivery_id", d.ID, "seq", last.Seq)
	return true
}
