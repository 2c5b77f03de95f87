package store

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS arena_sessions (
		id UUID PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'pending',
		config JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ,
		ended_at TIMESTAMPTZ,
		start_price DOUBLE PRECISION,
		end_price DOUBLE PRECISION,
		total_runtime_ms BIGINT,
		summary JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS arena_agents (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES arena_sessions(id),
		name TEXT NOT NULL,
		personality TEXT,
		avatar_shape TEXT,
		colour_index INTEGER NOT NULL DEFAULT 0,
		strategy_config JSONB NOT NULL DEFAULT '{}',
		starting_capital DOUBLE PRECISION NOT NULL,
		current_capital DOUBLE PRECISION NOT NULL,
		peak_equity DOUBLE PRECISION NOT NULL,
		total_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
		total_fees DOUBLE PRECISION NOT NULL DEFAULT 0,
		win_count INTEGER NOT NULL DEFAULT 0,
		loss_count INTEGER NOT NULL DEFAULT 0,
		max_drawdown DOUBLE PRECISION NOT NULL DEFAULT 0,
		health DOUBLE PRECISION NOT NULL DEFAULT 100,
		rank INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'alive',
		death_tick INTEGER,
		death_reason TEXT,
		model_calls INTEGER NOT NULL DEFAULT 0,
		input_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		estimated_cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS arena_positions (
		id UUID PRIMARY KEY,
		agent_id UUID NOT NULL REFERENCES arena_agents(id),
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		avg_entry_price DOUBLE PRECISION NOT NULL,
		leverage DOUBLE PRECISION NOT NULL,
		margin_used DOUBLE PRECISION NOT NULL,
		total_fees DOUBLE PRECISION NOT NULL DEFAULT 0,
		dca_count INTEGER NOT NULL DEFAULT 0,
		dca_history JSONB,
		is_open BOOLEAN NOT NULL DEFAULT TRUE,
		entry_conditions JSONB,
		entry_reasoning TEXT,
		exit_price DOUBLE PRECISION,
		realized_pnl DOUBLE PRECISION,
		hold_duration_ms BIGINT,
		exit_reasoning TEXT,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS arena_decisions (
		id BIGSERIAL PRIMARY KEY,
		agent_id UUID NOT NULL REFERENCES arena_agents(id),
		tick INTEGER NOT NULL,
		action TEXT NOT NULL,
		reasoning TEXT,
		confidence DOUBLE PRECISION NOT NULL,
		used_model BOOLEAN NOT NULL DEFAULT FALSE,
		price_at DOUBLE PRECISION NOT NULL,
		balance_at DOUBLE PRECISION NOT NULL,
		pnl_at DOUBLE PRECISION NOT NULL,
		input_tokens INTEGER,
		output_tokens INTEGER,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_arena_decisions_agent_tick ON arena_decisions (agent_id, tick)`,
	`CREATE TABLE IF NOT EXISTS arena_snapshots (
		id BIGSERIAL PRIMARY KEY,
		session_id UUID NOT NULL REFERENCES arena_sessions(id),
		market_price DOUBLE PRECISION NOT NULL,
		data JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the arena tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return nil
}
