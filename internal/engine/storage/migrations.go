package storage

import (
	"context"
	"fmt"
	"log/slog"
)

// migrations are applied in order at service startup. Statements must stay
// idempotent (IF NOT EXISTS) because both services run them.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id            UUID PRIMARY KEY,
		idempotency_key   TEXT NOT NULL UNIQUE,
		operation_type    TEXT NOT NULL,
		status            TEXT NOT NULL,
		scope_kind        TEXT,
		scope_id          TEXT,
		period            TEXT NOT NULL DEFAULT '',
		options           JSONB NOT NULL DEFAULT '{}',
		summary           JSONB NOT NULL DEFAULT '{}',
		dry_run_completed BOOLEAN NOT NULL DEFAULT FALSE,
		current_task_id   TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at        TIMESTAMPTZ,
		finished_at       TIMESTAMPTZ
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC, job_id DESC)`,

	`CREATE TABLE IF NOT EXISTS job_items (
		item_id           UUID PRIMARY KEY,
		job_id            UUID NOT NULL REFERENCES jobs (job_id),
		entity_kind       TEXT NOT NULL,
		entity_id         TEXT NOT NULL,
		status            TEXT NOT NULL,
		amount_cents      BIGINT NOT NULL DEFAULT 0,
		payload           JSONB NOT NULL DEFAULT '{}',
		validation_errors JSONB NOT NULL DEFAULT '[]',
		result            JSONB NOT NULL DEFAULT '{}',
		retry_count       INTEGER NOT NULL DEFAULT 0,
		executed_at       TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (job_id, entity_kind, entity_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_items_job_status ON job_items (job_id, status)`,

	`CREATE TABLE IF NOT EXISTS job_errors (
		error_id   UUID PRIMARY KEY,
		job_id     UUID NOT NULL REFERENCES jobs (job_id),
		item_id    UUID,
		code       TEXT NOT NULL,
		message    TEXT NOT NULL,
		details    JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_job_errors_job ON job_errors (job_id)`,

	// Read-mostly dunning configuration, consumed by the payment-reminder
	// resolver but owned by the collections domain.
	`CREATE TABLE IF NOT EXISTS dunning_policies (
		policy_id          UUID PRIMARY KEY,
		building_id        TEXT NOT NULL UNIQUE,
		min_debt_cents     BIGINT NOT NULL DEFAULT 0,
		grace_period_days  INTEGER NOT NULL DEFAULT 0,
		notification_kind  TEXT NOT NULL DEFAULT 'email',
		enabled            BOOLEAN NOT NULL DEFAULT TRUE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS buildings (
		building_id          TEXT PRIMARY KEY,
		name                 TEXT NOT NULL,
		management_fee_cents BIGINT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS apartments (
		apartment_id         TEXT PRIMARY KEY,
		building_id          TEXT NOT NULL REFERENCES buildings (building_id),
		monthly_charge_cents BIGINT NOT NULL DEFAULT 0,
		debt_cents           BIGINT NOT NULL DEFAULT 0,
		created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE INDEX IF NOT EXISTS idx_apartments_building ON apartments (building_id)`,

	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		transaction_id TEXT PRIMARY KEY,
		apartment_id   TEXT NOT NULL,
		building_id    TEXT NOT NULL,
		period         TEXT NOT NULL,
		amount_cents   BIGINT NOT NULL,
		kind           TEXT NOT NULL,
		job_id         UUID,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (apartment_id, period, kind)
	)`,

	`CREATE TABLE IF NOT EXISTS incomes (
		income_id    TEXT PRIMARY KEY,
		building_id  TEXT NOT NULL,
		period       TEXT NOT NULL,
		amount_cents BIGINT NOT NULL,
		kind         TEXT NOT NULL,
		job_id       UUID,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (building_id, period, kind)
	)`,

	`CREATE TABLE IF NOT EXISTS notifications (
		notification_id TEXT PRIMARY KEY,
		apartment_id    TEXT NOT NULL,
		building_id     TEXT NOT NULL,
		kind            TEXT NOT NULL,
		debt_cents      BIGINT NOT NULL,
		period          TEXT NOT NULL,
		job_id          UUID,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS debt_reports (
		report_id   TEXT PRIMARY KEY,
		building_id TEXT NOT NULL,
		period      TEXT NOT NULL,
		payload     JSONB NOT NULL DEFAULT '{}',
		job_id      UUID,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate applies the schema. Safe to run from both services.
func (s *Storage) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", i, err)
		}
	}

	s.logger.Info("Database schema up to date",
		slog.Int("statements", len(migrations)),
	)

	return nil
}
