// Package sqlite implements the hooks store on SQLite via Grove ORM.
// It suits single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hooks/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hooks/sqlite: migration failed: %w", err)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error) {
	m := new(webhookModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", whID.String()).
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
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("name = ?", m.Name).
		Set("url = ?", m.URL).
		Set("secret = ?", m.Secret).
		Set("event_types = ?", m.EventTypes).
		Set("auth_type = ?", m.AuthType).
		Set("auth_token = ?", m.AuthToken).
		Set("auth_username = ?", m.AuthUsername).
		Set("auth_password = ?", m.AuthPassword).
		Set("include_fields = ?", m.IncludeFields).
		Set("exclude_fields = ?", m.ExcludeFields).
		Set("allowed_ips = ?", m.AllowedIPs).
		Set("filter_conditions = ?", m.FilterConditions).
		Set("headers = ?", m.Headers).
		Set("active = ?", m.Active).
		Set("approval = ?", m.Approval).
		Set("retry_count = ?", m.RetryCount).
		Set("retry_interval_ms = ?", m.RetryIntervalMs).
		Set("rate_limit = ?", m.RateLimit).
		Set("daily_limit = ?", m.DailyLimit).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", now()).
		Where("id = ?", m.ID).
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
	count, err := s.sdb.NewSelect((*attemptModel)(nil)).
		Where("webhook_id = ?", whID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return hooks.ErrWebhookHasHistory
	}

	res, err := s.sdb.NewDelete((*webhookModel)(nil)).
		Where("id = ?", whID.String()).
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
	q := s.sdb.NewSelect(&models).Where("form_id = ?", formID)

	if opts.Active != nil {
		q = q.Where("active = ?", *opts.Active)
	}
	if opts.Approval != nil {
		q = q.Where("approval = ?", string(*opts.Approval))
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
	if err := s.sdb.NewSelect(&models).
		Where("form_id = ?", formID).
		Where("active = 1").
		Where("approval = 'approved'").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*webhook.Webhook
	for i := range models {
		for _, pattern := range models[i].eventTypes() {
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
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("active = ?", active).
		Set("updated_at = ?", now()).
		Where("id = ?", whID.String()).
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
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("approval = ?", string(approval)).
		Set("updated_at = ?", now()).
		Where("id = ?", whID.String()).
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
	res, err := s.sdb.NewUpdate((*webhookModel)(nil)).
		Set("approval = 'approved'").
		Set("updated_at = ?", now()).
		Where("form_id = ?", formID).
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
// conditional UPDATE. SQLite serializes writes, so the window reset and the
// increment are atomic.
func (s *Store) ReserveQuota(ctx context.Context, whID id.ID, t time.Time) (bool, error) {
	m := new(webhookModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", whID.String()).
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

	t = t.UTC()
	reset := windowEnd(t)

	var updated []webhookModel
	err = s.sdb.NewRaw(`
		UPDATE hooks_webhooks
		SET daily_usage = CASE WHEN daily_reset_at <= ? THEN 1 ELSE daily_usage + 1 END,
		    daily_reset_at = CASE WHEN daily_reset_at <= ? THEN ? ELSE daily_reset_at END,
		    updated_at = ?
		WHERE id = ?
		  AND (daily_reset_at <= ? OR daily_usage < daily_limit)
		RETURNING *
	`, t, t, reset, t, whID.String(), t).Scan(ctx, &updated)
	if err != nil {
		return false, err
	}
	return len(updated) > 0, nil
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	m := toEventModel(evt)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
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
	q := s.sdb.NewSelect(&models)

	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.FormID != "" {
		q = q.Where("form_id = ?", opts.FormID)
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
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
	_, err := s.sdb.NewInsert(&models).Exec(ctx)
	return err
}

func (s *Store) Dequeue(ctx context.Context, limit int) ([]*delivery.Delivery, error) {
	// SQLite serializes writes (WAL mode), so no FOR UPDATE SKIP LOCKED is
	// needed; locked_at still keeps dequeued rows invisible to the next poll
	// cycle until UpdateDelivery clears it.
	var models []deliveryModel
	err := s.sdb.NewRaw(`
		UPDATE hooks_deliveries
		SET locked_at = datetime('now'), updated_at = datetime('now')
		WHERE id IN (
			SELECT id FROM hooks_deliveries
			WHERE state = 'pending' AND next_attempt_at <= datetime('now')
			  AND (locked_at IS NULL OR locked_at < datetime('now', '-5 minutes'))
			ORDER BY next_attempt_at ASC
			LIMIT ?
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
	m.UpdatedAt = now()
	_, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	return err
}

func (s *Store) GetDelivery(ctx context.Context, delID id.ID) (*delivery.Delivery, error) {
	m := new(deliveryModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", delID.String()).
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
	q := s.sdb.NewSelect(&models).Where("webhook_id = ?", whID.String())

	if opts.State != nil {
		q = q.Where("state = ?", string(*opts.State))
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
	if err := s.sdb.NewSelect(&models).
		Where("event_id = ?", evtID.String()).
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
	count, err := s.sdb.NewSelect((*deliveryModel)(nil)).
		Where("state = ?", string(delivery.StatePending)).
		Count(ctx)
	return count, err
}

// ==================== Attempt Store ====================

func (s *Store) HasAttempts(ctx context.Context, whID id.ID) (bool, error) {
	count, err := s.sdb.NewSelect((*attemptModel)(nil)).
		Where("webhook_id = ?", whID.String()).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) UpdateAttempt(ctx context.Context, a *delivery.Attempt) error {
	m := toAttemptModel(a)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
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
	err := s.sdb.NewSelect(m).
		Where("id = ?", attID.String()).
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
	q := s.sdb.NewSelect(&models)

	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		q = q.Where("started_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("started_at <= ?", *opts.To)
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
	q := s.sdb.NewSelect((*attemptModel)(nil))

	if !opts.WebhookID.IsNil() {
		q = q.Where("webhook_id = ?", opts.WebhookID.String())
	}
	if opts.EventType != "" {
		q = q.Where("event_type = ?", opts.EventType)
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		q = q.Where("started_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("started_at <= ?", *opts.To)
	}

	return q.Count(ctx)
}

func (s *Store) ListAttemptsByDelivery(ctx context.Context, delID id.ID) ([]*delivery.Attempt, error) {
	var models []attemptModel
	if err := s.sdb.NewSelect(&models).
		Where("delivery_id = ?", delID.String()).
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
	if err := s.sdb.NewSelect(&models).
		Where("webhook_id = ?", whID.String()).
		Where("started_at >= ?", from).
		Where("started_at <= ?", to).
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
	res, err := s.sdb.NewDelete((*attemptModel)(nil)).
		Where("status != ?", string(delivery.AttemptPending)).
		Where("completed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// windowEnd returns the next UTC midnight after t.
func windowEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
