package storage

import (
	"context"
	"fmt"
)

// schema is the minimal DDL a fresh self-hosted install needs. Applied
// idempotently at startup; anything fancier belongs to external
// migration tooling.
const schema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	team_id TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	model_provider TEXT NOT NULL,
	model_name TEXT NOT NULL,
	prompt TEXT NOT NULL,
	options JSONB,
	status TEXT NOT NULL,
	response TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	cost_per_input_token DOUBLE PRECISION NOT NULL DEFAULT 0,
	cost_per_output_token DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
	safety_flags JSONB,
	retry_count INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_usage_identity_created
	ON usage_records (user_id, team_id, created_at);
CREATE INDEX IF NOT EXISTS idx_usage_created
	ON usage_records (created_at);

CREATE TABLE IF NOT EXISTS pricing_entries (
	id UUID PRIMARY KEY,
	provider TEXT NOT NULL,
	model_name TEXT NOT NULL,
	input_cost_per_1k DOUBLE PRECISION NOT NULL,
	output_cost_per_1k DOUBLE PRECISION NOT NULL,
	currency TEXT NOT NULL DEFAULT 'USD',
	effective_date TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_pricing_lookup
	ON pricing_entries (provider, model_name, is_active);

CREATE TABLE IF NOT EXISTS safety_filters (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	filter_type TEXT NOT NULL,
	rules JSONB NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS operators (
	id UUID PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates missing tables and indexes.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
