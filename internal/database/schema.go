package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order at startup. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGSERIAL PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL CHECK (role IN ('parent', 'admin')),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS children (
		id               BIGSERIAL PRIMARY KEY,
		first_name       TEXT NOT NULL,
		access_code_hash TEXT NOT NULL UNIQUE,
		frozen           BOOLEAN NOT NULL DEFAULT false,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		child_id                   BIGINT PRIMARY KEY REFERENCES children(id) ON DELETE CASCADE,
		interest_rate              NUMERIC NOT NULL DEFAULT 0.01 CHECK (interest_rate >= 0),
		penalty_interest_rate      NUMERIC NOT NULL DEFAULT 0.02 CHECK (penalty_interest_rate >= 0),
		cd_penalty_rate            NUMERIC NOT NULL DEFAULT 0.1 CHECK (cd_penalty_rate >= 0 AND cd_penalty_rate <= 1),
		last_interest_applied      DATE,
		service_fee_last_charged   DATE,
		overdraft_fee_last_charged DATE,
		overdraft_fee_charged      BOOLEAN NOT NULL DEFAULT false
	)`,
	`CREATE TABLE IF NOT EXISTS child_grants (
		user_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		child_id    BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		permissions JSONB NOT NULL DEFAULT '[]',
		is_owner    BOOLEAN NOT NULL DEFAULT false,
		PRIMARY KEY (user_id, child_id)
	)`,
	`CREATE TABLE IF NOT EXISTS share_codes (
		code        TEXT PRIMARY KEY,
		child_id    BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		created_by  BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		permissions JSONB NOT NULL DEFAULT '[]',
		used_by     BIGINT REFERENCES users(id) ON DELETE SET NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		used_at     TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id           BIGSERIAL PRIMARY KEY,
		child_id     BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		type         TEXT NOT NULL CHECK (type IN ('credit', 'debit')),
		amount       NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		memo         TEXT,
		kind         TEXT NOT NULL DEFAULT 'manual',
		initiated_by TEXT NOT NULL CHECK (initiated_by IN ('parent', 'child', 'system', 'admin')),
		initiator_id BIGINT NOT NULL DEFAULT 0,
		timestamp    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_child_ts_idx ON transactions (child_id, timestamp, id)`,
	`CREATE TABLE IF NOT EXISTS withdrawal_requests (
		id            BIGSERIAL PRIMARY KEY,
		child_id      BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		amount        NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		memo          TEXT,
		status        TEXT NOT NULL DEFAULT 'pending',
		requested_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		responded_at  TIMESTAMPTZ,
		approver_id   BIGINT,
		denial_reason TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id                    BIGSERIAL PRIMARY KEY,
		child_id              BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		parent_id             BIGINT REFERENCES users(id) ON DELETE SET NULL,
		amount                NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		purpose               TEXT,
		interest_rate         NUMERIC NOT NULL DEFAULT 0 CHECK (interest_rate >= 0),
		terms                 TEXT,
		status                TEXT NOT NULL DEFAULT 'requested',
		principal_remaining   NUMERIC(18, 4) NOT NULL DEFAULT 0 CHECK (principal_remaining >= 0),
		last_interest_applied DATE,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS loan_transactions (
		id        BIGSERIAL PRIMARY KEY,
		loan_id   BIGINT NOT NULL REFERENCES loans(id) ON DELETE CASCADE,
		type      TEXT NOT NULL,
		amount    NUMERIC NOT NULL,
		memo      TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS certificates (
		id            BIGSERIAL PRIMARY KEY,
		child_id      BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		parent_id     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		amount        NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		interest_rate NUMERIC NOT NULL CHECK (interest_rate >= 0),
		term_days     INTEGER NOT NULL CHECK (term_days > 0),
		status        TEXT NOT NULL DEFAULT 'offered',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		accepted_at   TIMESTAMPTZ,
		matures_at    TIMESTAMPTZ,
		closed_at     TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS recurring_charges (
		id            BIGSERIAL PRIMARY KEY,
		child_id      BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		amount        NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		type          TEXT NOT NULL DEFAULT 'debit' CHECK (type IN ('credit', 'debit')),
		memo          TEXT,
		interval_days INTEGER NOT NULL CHECK (interval_days > 0),
		next_run      DATE NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS recurring_runs (
		charge_id      BIGINT NOT NULL REFERENCES recurring_charges(id) ON DELETE CASCADE,
		run_date       DATE NOT NULL,
		transaction_id BIGINT,
		PRIMARY KEY (charge_id, run_date)
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id             BIGSERIAL PRIMARY KEY,
		code           TEXT NOT NULL UNIQUE,
		amount         NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		memo           TEXT,
		expiration     TIMESTAMPTZ,
		max_uses       INTEGER NOT NULL CHECK (max_uses > 0),
		uses_remaining INTEGER NOT NULL CHECK (uses_remaining >= 0),
		scope          TEXT NOT NULL CHECK (scope IN ('child', 'my_children', 'all_children')),
		child_id       BIGINT REFERENCES children(id) ON DELETE CASCADE,
		created_by     BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		qr_code        TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS coupon_redemptions (
		id             BIGSERIAL PRIMARY KEY,
		coupon_id      BIGINT NOT NULL REFERENCES coupons(id) ON DELETE CASCADE,
		child_id       BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		transaction_id BIGINT NOT NULL,
		redeemed_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chores (
		id               BIGSERIAL PRIMARY KEY,
		child_id         BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		description      TEXT NOT NULL,
		amount           NUMERIC(18, 4) NOT NULL CHECK (amount > 0),
		interval_days    INTEGER,
		next_due         DATE,
		status           TEXT NOT NULL DEFAULT 'pending',
		active           BOOLEAN NOT NULL DEFAULT true,
		created_by_child BOOLEAN NOT NULL DEFAULT false,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		id                            INTEGER PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		site_name                     TEXT NOT NULL DEFAULT 'Uncle Jon''s Bank',
		default_interest_rate         NUMERIC NOT NULL DEFAULT 0.01,
		default_penalty_interest_rate NUMERIC NOT NULL DEFAULT 0.02,
		default_cd_penalty_rate       NUMERIC NOT NULL DEFAULT 0.1,
		service_fee_amount            NUMERIC NOT NULL DEFAULT 0,
		service_fee_is_percentage     BOOLEAN NOT NULL DEFAULT false,
		overdraft_fee_amount          NUMERIC NOT NULL DEFAULT 0,
		overdraft_fee_is_percentage   BOOLEAN NOT NULL DEFAULT false,
		overdraft_fee_daily           BOOLEAN NOT NULL DEFAULT false,
		currency_symbol               TEXT NOT NULL DEFAULT '$'
	)`,
	`INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS education_modules (
		id      BIGINT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS child_badges (
		child_id   BIGINT NOT NULL REFERENCES children(id) ON DELETE CASCADE,
		module_id  BIGINT NOT NULL REFERENCES education_modules(id) ON DELETE CASCADE,
		source     TEXT NOT NULL,
		awarded_by BIGINT,
		awarded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (child_id, module_id)
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id                 BIGSERIAL PRIMARY KEY,
		subject            TEXT NOT NULL,
		body               TEXT NOT NULL,
		sender_user_id     BIGINT REFERENCES users(id) ON DELETE CASCADE,
		sender_child_id    BIGINT REFERENCES children(id) ON DELETE CASCADE,
		recipient_user_id  BIGINT REFERENCES users(id) ON DELETE CASCADE,
		recipient_child_id BIGINT REFERENCES children(id) ON DELETE CASCADE,
		read               BOOLEAN NOT NULL DEFAULT false,
		sender_archived    BOOLEAN NOT NULL DEFAULT false,
		recipient_archived BOOLEAN NOT NULL DEFAULT false,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((sender_user_id IS NULL) <> (sender_child_id IS NULL)),
		CHECK ((recipient_user_id IS NULL) <> (recipient_child_id IS NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS messages_recipient_user_idx ON messages (recipient_user_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS messages_recipient_child_idx ON messages (recipient_child_id, created_at DESC)`,
}

// Migrate applies the schema inside one transaction.
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return tx.Commit()
}
