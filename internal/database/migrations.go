package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id                       UUID PRIMARY KEY,
		email                    VARCHAR(255) NOT NULL UNIQUE,
		full_name                VARCHAR(140) NOT NULL,
		password_hash            TEXT NOT NULL,
		role                     VARCHAR(10) NOT NULL DEFAULT 'user' CHECK (role IN ('user', 'admin')),
		balance                  BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		task_balance             BIGINT NOT NULL DEFAULT 0,
		referral_balance         BIGINT NOT NULL DEFAULT 0,
		is_vip                   BOOLEAN NOT NULL DEFAULT FALSE,
		num_referrals            INTEGER NOT NULL DEFAULT 0,
		num_tasks_done           INTEGER NOT NULL DEFAULT 0,
		referral_code            VARCHAR(16) NOT NULL UNIQUE,
		referral_code_expires_at TIMESTAMPTZ,
		version                  INTEGER NOT NULL DEFAULT 1,
		created_at               TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id           UUID PRIMARY KEY,
		slug         VARCHAR(160) NOT NULL UNIQUE,
		title        VARCHAR(140) NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL,
		type         VARCHAR(10) NOT NULL CHECK (type IN ('visit', 'signup', 'share')),
		reward       BIGINT NOT NULL CHECK (reward > 0),
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_by   UUID REFERENCES users(id),
		completed_by TEXT[] NOT NULL DEFAULT '{}',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_active ON tasks(active, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_completed_by ON tasks USING GIN (completed_by)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id                UUID PRIMARY KEY,
		user_id           UUID NOT NULL REFERENCES users(id),
		amount            BIGINT NOT NULL,
		type              VARCHAR(20) NOT NULL,
		status            VARCHAR(10) NOT NULL CHECK (status IN ('pending', 'completed', 'rejected')),
		bucket            VARCHAR(10) NOT NULL DEFAULT '',
		related_record_id UUID,
		balance_after     BIGINT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transactions_user ON transactions(user_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_signup_bonus
		ON transactions(user_id) WHERE type = 'signup_bonus'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_related
		ON transactions(user_id, type, related_record_id) WHERE related_record_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS withdrawals (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL REFERENCES users(id),
		amount         BIGINT NOT NULL CHECK (amount > 0),
		status         VARCHAR(10) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		transaction_id UUID REFERENCES transactions(id),
		bank_name      VARCHAR(100) NOT NULL,
		bank_code      VARCHAR(10) NOT NULL DEFAULT '',
		account_number VARCHAR(10) NOT NULL,
		account_name   VARCHAR(140) NOT NULL,
		processed_by   UUID REFERENCES users(id),
		processed_at   TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawals(status, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_withdrawals_user ON withdrawals(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id             UUID PRIMARY KEY,
		user_id        UUID NOT NULL REFERENCES users(id),
		amount         BIGINT NOT NULL CHECK (amount > 0),
		reason         TEXT NOT NULL,
		status         VARCHAR(10) NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
		bank_name      VARCHAR(100) NOT NULL,
		bank_code      VARCHAR(10) NOT NULL DEFAULT '',
		account_number VARCHAR(10) NOT NULL,
		account_name   VARCHAR(140) NOT NULL,
		processed_by   UUID REFERENCES users(id),
		approved_at    TIMESTAMPTZ,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_status ON loans(status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS referrals (
		id             UUID PRIMARY KEY,
		referrer_id    UUID NOT NULL REFERENCES users(id),
		referred_id    UUID NOT NULL UNIQUE REFERENCES users(id),
		reward         BIGINT NOT NULL,
		vip_bonus_paid BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK (referrer_id <> referred_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_referrals_referrer ON referrals(referrer_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS vip_payments (
		id          UUID PRIMARY KEY,
		user_id     UUID NOT NULL REFERENCES users(id),
		payment_ref VARCHAR(255) NOT NULL UNIQUE,
		amount      BIGINT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS user_bank_accounts (
		user_id        UUID PRIMARY KEY REFERENCES users(id),
		bank_name      VARCHAR(100) NOT NULL,
		bank_code      VARCHAR(10) NOT NULL DEFAULT '',
		account_number VARCHAR(10) NOT NULL,
		account_name   VARCHAR(140) NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS admin_settings (
		key        VARCHAR(64) PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates every table and index idempotently.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	log.Printf("[DATABASE] Applied %d schema statements", len(schema))
	return nil
}
