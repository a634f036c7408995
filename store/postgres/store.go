// Package postgres implements the hooks store on PostgreSQL via Grove ORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	hooks "github.com/formatic/hooks"
	"github.com/formatic/hooks/delivery"
	"github.com/formatic/hooks/event"
	"github.com/formatic/hooks/id"
	hooksstore "github.com/formatic/hooks/store"
	"github.com/formatic/hooks/webhook"
)

// compile-time interface check
var _ hooksstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hooks/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hooks/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Webhook Store ====================

func (s *Store) CreateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", whID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hooks.ErrWebhookNotFound
		}
		return nil, err
	}
	return fromWebhookModel(m)
}

// UpdateWebhook writes every configuration column. The daily quota counters
// are excluded: they belong to ReserveQuota and must not be clobbered by a
// stale read-modify-write cycle.
func (s *Store) UpdateWebhook(ctx context.Context, wh *webhook.Webhook) error {
	m := toWebhookModel(wh)
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("name = $1", m.Name).
		Set("url = $2", m.URL).
		Set("secret = $3", m.Secret).
		Set("event_types = $4", m.EventTypes).
		Set("auth_type = $5", m.AuthType).
		Set("auth_token = $6", m.AuthToken).
		Set("auth_username = $7", m.AuthUsername).
		Set("auth_password = $8", m.AuthPassword).
		Set("include_fields = $9", m.IncludeFields).
		Set("exclude_fields = $10", m.ExcludeFields).
		Set("allowed_ips = $11", m.AllowedIPs).
		Set("filter_conditions = $12", m.FilterConditions).
		Set("headers = $13", m.Headers).
		Set("active = $14", m.Active).
		Set("approval = $15", m.Approval).
		Set("retry_count = $16", m.RetryCount).
		Set("retry_interval_ms = $17", m.RetryIntervalMs).
		Set("rate_limit = $18", m.RateLimit).
		Set("daily_limit = $19", m.DailyLimit).
		Set("metadata = $20", m.Metadata).
		Set("updated_at = $21", time.Now().UTC()).
		Where("id = $22", m.ID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hooks.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, whID id.ID) error {
	count, err := s.pg.NewSelect((*attemptModel)(nil)).
		Where("webhook_id = $1", whID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return hooks.ErrWebhookHasHistory
	}

	res, err := s.pg.NewDelete((*webhookModel)(nil)).
		Where("id = $1", whID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hooks.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) ListWebhooks(ctx context.Context, formID string, opts webhook.ListOpts) ([]*webhook.Webhook, error) {
	var models []webhookModel
	q := s.pg.NewSelect(&models).Where("form_id = $1", formID)

	argIdx := 1
	if opts.Active != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("active = $%d", argIdx), *opts.Active)
	}
	if opts.Approval != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("approval = $%d", argIdx), string(*opts.Approval))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*webhook.Webhook, len(models))
	for i := range models {
		wh, err := fromWebhookModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = wh
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, formID, eventType string) ([]*webhook.Webhook, error) {
	var models []webhookModel
	if err := s.pg.NewSelect(&models).
		Where("form_id = $1", formID).
		Where("active = true").
		Where("approval = 'approved'").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*webhook.Webhook
	for i := range models {
		for _, pattern := range models[i].EventTypes {
			if webhook.Match(pattern, eventType) {
				wh, err := fromWebhookModel(&models[i])
				if err != nil {
					return nil, err
				}
				result = append(result, wh)
				break
			}
		}
	}
	return result, nil
}

func (s *Store) SetActive(ctx context.Context, whID id.ID, active bool) error {
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("active = $1", active).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", whID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hooks.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) SetApproval(ctx context.Context, whID id.ID, approval webhook.Approval) error {
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("approval = $1", string(approval)).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", whID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hooks.ErrWebhookNotFound
	}
	return nil
}

func (s *Store) ApproveAllPending(ctx context.Context, formID string) (int, error) {
	res, err := s.pg.NewUpdate((*webhookModel)(nil)).
		Set("approval = 'approved'").
		Set("updated_at = $1", time.Now().UTC()).
		Where("form_id = $2", formID).
		Where("approval = 'pending'").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// ReserveQuota consumes one unit of the webhook's daily quota in a single
// conditional UPDATE, so concurrent dispatchers racing on the last unit or
// on the window rollover cannot overshoot the limit.
func (s *Store) ReserveQuota(ctx context.Context, whID id.ID, now time.Time) (bool, error) {
	m := new(webhookModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", whID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return false, hooks.ErrWebhookNotFound
		}
		return false, err
	}
	if m.DailyLimit <= 0 {
		return true, nil
	}

	now = now.UTC()
	reset := windowEnd(now)

	var updated []webhookModel
	err = s.pg.NewRaw(`
		UPDATE hooks_webhooks
		SET daily_usage = CASE WHEN daily_reset_at <= $1 THEN 1 ELSE daily_usage + 1 END,
		    daily_reset_at = CASE WHEN daily_reset_at <= $2 THEN $3 ELSE daily_reset_at END,
		    updated_at = $4
		WHERE id = $5
		  AND (daily_reset_at <= $6 OR daily_usage < daily_limit)
		RETURNING *
	`, now, now, reset, now, whID.String(), now).Scan(ctx, &updated)
	if err != nil {
		return false, err
	}
	return len(updated) > 0, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hooks.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.FormID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("form_id = $%d", argIdx), opts.FormID)
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// ==================== Delivery Store ====================

func (s *Store) Enqueue(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) EnqueueBatch(ctx context.Context, ds []*delivery.Delivery) error {
	if len(ds) == 0 {
		return nil
	}
	models := make([]deliveryModel, len(ds))
	for i, d := range ds {
		models[i] = *toDeliveryModel(d)
	}
	_, err := s.pg.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	// FOR UPDATE SKIP LOCKED keeps concurrent pollers off the same rows;
	// locked_at keeps them off across transactions until UpdateDelivery
	// clears it (or the lock times out after a worker crash).
	var models []deliveryModel
	err := s.pg.NewRaw(`
		UPDATE hooks_deliveries
		SET locked_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM hooks_deliveries
			WHERE state = 'pending' AND next_attempt_at <= NOW()
			  AND (locked_at IS NULL OR locked_at < NOW() - INTERVAL '5 minutes')
			ORDER BY next_attempt_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

// UpdateDelivery writes the delivery and releases its dequeue lock: the
// model's locked_at is always nil on the write path.
func (s *Store) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	m := toDeliveryModel(d)
	m.UpdatedAt = time.Now().UTC()
	_, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", delID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hooks.ErrDeliveryNotFound
		}
		return nil, err
	}
	return fromDeliveryModel(m)
}

func (s *Store) ListByWebhook(ctx context.Context, whID id.ID, opts delivery.ListOpts) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	q := s.pg.NewSelect(&models).Where("webhook_id = $1", whID.String())

	if opts.State != nil {
		q = q.Where("state = $2", string(*opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) ListByEvent(ctx context.Context, evtID id.ID) ([]*delivery.Delivery, error) {
	var models []deliveryModel
	if err := s.pg.NewSelect(&models).
		Where("event_id = $1", evtID.String()).
		OrderExpr("created_at DESC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Delivery, len(models))
	for i := range models {
		d, err := fromDeliveryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = d
	}
	return result, nil
}

func (s *Store) CountPending(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*deliveryModel)(nil)).
		Where("state = $1", string(delivery.StatePending)).
		Count(ctx)
	return count, err
}

// ==================== Attempt Store ====================

func (s *Store) HasAttempts(ctx context.Context, whID id.ID) (bool, error) {
	count, err := s.pg.NewSelect((*attemptModel)(nil)).
		Where("webhook_id = $1", whID.String()).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hooks.ErrAttemptNotFound
	}
	return nil
}

func (s *Store) GetAttempt(ctx context.Context, attID id.ID) (*delivery.Attempt, error) {
	m := new(attemptModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", attID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hooks.ErrAttemptNotFound
		}
		return nil, err
	}
	return fromAttemptModel(m)
}

func (s *Store) ListAttempts(ctx context.Context, opts delivery.AttemptListOpts) ([]*delivery.Attempt, error) {
	var models []attemptModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if !opts.WebhookID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("webhook_id = $%d", argIdx), opts.WebhookID.String())
	}
	if opts.EventType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("event_type = $%d", argIdx), opts.EventType)
	}
	if opts.Status != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(*opts.Status))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at <= $%d", argIdx), *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("started_at DESC, seq DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) CountAttempts(ctx context.Context, opts delivery.AttemptListOpts) (int64, error) {
	q := s.pg.NewSelect((*attemptModel)(nil))

	argIdx := 0
	if !opts.WebhookID.IsNil() {
		argIdx++
		q = q.Where(fmt.Sprintf("webhook_id = $%d", argIdx), opts.WebhookID.String())
	}
	if opts.EventType != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("event_type = $%d", argIdx), opts.EventType)
	}
	if opts.Status != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(*opts.Status))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("started_at <= $%d", argIdx), *opts.To)
	}

	return q.Count(ctx)
}

func (s *Store) ListAttemptsByDelivery(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("delivery_id = $1", delID.String()).
		OrderExpr("seq ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// AttemptStats loads the window's attempts and buckets them per UTC day.
func (s *Store) AttemptStats(ctx context.Context, whID id.ID, from, to time.Time) ([]*delivery.DayStats, error) {
	var models []attemptModel
	if err := s.pg.NewSelect(&models).
		Where("webhook_id = $1", whID.String()).
		Where("started_at >= $2", from).
		Where("started_at <= $3", to).
		Scan(ctx); err != nil {
		return nil, err
	}

	attempts := make([]*delivery.Attempt, len(models))
	for i := range models {
		a, err := fromAttemptModel(&models[i])
		if err != nil {
			return nil, err
		}
		attempts[i] = a
	}
	return delivery.BucketStats(attempts), nil
}

func (s *Store) PurgeAttempts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.pg.NewDelete((*attemptModel)(nil)).
		Where("status != $1", string(delivery.AttemptPending)).
		Where("completed_at < $2", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// windowEnd returns the next UTC midnight after now.
func windowEnd(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
