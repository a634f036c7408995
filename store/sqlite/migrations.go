package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the hooks store (SQLite).
var Migrations = migrate.NewGroup("hooks")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_hooks_webhooks",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hooks_webhooks (
    id                TEXT PRIMARY KEY,
    form_id           TEXT NOT NULL DEFAULT '',
    name              TEXT NOT NULL DEFAULT '',
    url               TEXT NOT NULL DEFAULT '',
    secret            TEXT NOT NULL DEFAULT '',
    event_types       TEXT NOT NULL DEFAULT '[]',
    auth_type         TEXT NOT NULL DEFAULT 'none',
    auth_token        TEXT NOT NULL DEFAULT '',
    auth_username     TEXT NOT NULL DEFAULT '',
    auth_password     TEXT NOT NULL DEFAULT '',
    include_fields    TEXT NOT NULL DEFAULT '[]',
    exclude_fields    TEXT NOT NULL DEFAULT '[]',
    allowed_ips       TEXT NOT NULL DEFAULT '[]',
    filter_conditions TEXT NOT NULL DEFAULT '',
    headers           TEXT NOT NULL DEFAULT '{}',
    active            INTEGER NOT NULL DEFAULT 1,
    approval          TEXT NOT NULL DEFAULT 'pending',
    retry_count       INTEGER NOT NULL DEFAULT 0,
    retry_interval_ms INTEGER NOT NULL DEFAULT 0,
    rate_limit        INTEGER NOT NULL DEFAULT 0,
    daily_limit       INTEGER NOT NULL DEFAULT 0,
    daily_usage       INTEGER NOT NULL DEFAULT 0,
    daily_reset_at    TEXT NOT NULL DEFAULT '1970-01-01 00:00:00',
    metadata          TEXT NOT NULL DEFAULT '{}',
    created_at        TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hooks_webhooks_form ON hooks_webhooks (form_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hooks_webhooks`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hooks_events",
			Version: "20260101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hooks_events (
    id            TEXT PRIMARY KEY,
    type          TEXT NOT NULL DEFAULT '',
    form_id       TEXT NOT NULL DEFAULT '',
    form_title    TEXT NOT NULL DEFAULT '',
    submission_id TEXT NOT NULL DEFAULT '',
    data          TEXT NOT NULL DEFAULT '',
    occurred_at   TEXT NOT NULL DEFAULT (datetime('now')),
    created_at    TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hooks_events_form ON hooks_events (form_id);
CREATE INDEX IF NOT EXISTS idx_hooks_events_type ON hooks_events (type);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hooks_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hooks_deliveries",
			Version: "20260101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hooks_deliveries (
    id               TEXT PRIMARY KEY,
    event_id         TEXT NOT NULL DEFAULT '',
    webhook_id       TEXT NOT NULL DEFAULT '',
    state            TEXT NOT NULL DEFAULT 'pending',
    attempt_count    INTEGER NOT NULL DEFAULT 0,
    max_attempts     INTEGER NOT NULL DEFAULT 0,
    next_attempt_at  TEXT NOT NULL DEFAULT (datetime('now')),
    data             TEXT NOT NULL DEFAULT '',
    last_error       TEXT NOT NULL DEFAULT '',
    last_status_code INTEGER NOT NULL DEFAULT 0,
    last_latency_ms  INTEGER NOT NULL DEFAULT 0,
    completed_at     TEXT,
    locked_at        TEXT,
    created_at       TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hooks_deliveries_pending ON hooks_deliveries (state, next_attempt_at);
CREATE INDEX IF NOT EXISTS idx_hooks_deliveries_event ON hooks_deliveries (event_id);
CREATE INDEX IF NOT EXISTS idx_hooks_deliveries_webhook ON hooks_deliveries (webhook_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hooks_deliveries`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_hooks_attempts",
			Version: "20260101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS hooks_attempts (
    id              TEXT PRIMARY KEY,
    delivery_id     TEXT NOT NULL DEFAULT '',
    webhook_id      TEXT NOT NULL DEFAULT '',
    event_id        TEXT NOT NULL DEFAULT '',
    event_type      TEXT NOT NULL DEFAULT '',
    seq             INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL DEFAULT 'pending',
    request_body    TEXT NOT NULL DEFAULT '',
    response_body   TEXT NOT NULL DEFAULT '',
    status_code     INTEGER NOT NULL DEFAULT 0,
    error_message   TEXT NOT NULL DEFAULT '',
    latency_ms      INTEGER NOT NULL DEFAULT 0,
    started_at      TEXT NOT NULL DEFAULT (datetime('now')),
    completed_at    TEXT,
    next_attempt_at TEXT,
    created_at      TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at      TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_hooks_attempts_delivery ON hooks_attempts (delivery_id);
CREATE INDEX IF NOT EXISTS idx_hooks_attempts_webhook ON hooks_attempts (webhook_id, started_at);
CREATE INDEX IF NOT EXISTS idx_hooks_attempts_started ON hooks_attempts (started_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS hooks_attempts`)
				return err
			},
		},
	)
}
