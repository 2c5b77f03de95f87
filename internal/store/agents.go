package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateAgent inserts a freshly rostered agent
func (s *Store) CreateAgent(ctx context.Context, agent *ArenaAgent) error {
	if agent.ID == uuid.Nil {
		agent.ID = uuid.New()
	}
	if agent.Status == "" {
		agent.Status = "alive"
	}

	query := `
		INSERT INTO arena_agents (
			id, session_id, name, personality, avatar_shape, colour_index,
			strategy_config, starting_capital, current_capital, peak_equity, health, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := s.pool.Exec(ctx, query,
		agent.ID,
		agent.SessionID,
		agent.Name,
		agent.Personality,
		agent.AvatarShape,
		agent.ColourIndex,
		agent.StrategyConfig,
		agent.StartingCapital,
		agent.CurrentCapital,
		agent.PeakEquity,
		agent.Health,
		agent.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}
	return nil
}

// UpdateAgent writes the full mutable state of an agent back
func (s *Store) UpdateAgent(ctx context.Context, agent *ArenaAgent) error {
	query := `
		UPDATE arena_agents SET
			current_capital = $2, peak_equity = $3, total_pnl = $4, total_fees = $5,
			win_count = $6, loss_count = $7, max_drawdown = $8, health = $9, rank = $10,
			status = $11, death_tick = $12, death_reason = $13,
			model_calls = $14, input_tokens = $15, output_tokens = $16, estimated_cost_usd = $17,
			updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query,
		agent.ID,
		agent.CurrentCapital,
		agent.PeakEquity,
		agent.TotalPnL,
		agent.TotalFees,
		agent.WinCount,
		agent.LossCount,
		agent.MaxDrawdown,
		agent.Health,
		agent.Rank,
		agent.Status,
		agent.DeathTick,
		agent.DeathReason,
		agent.ModelCalls,
		agent.InputTokens,
		agent.OutputTokens,
		agent.EstimatedCostUSD,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	return nil
}

// ListAgentsBySession loads every agent of a session, used by stop() to
// reconstruct state after a crash-like reset
func (s *Store) ListAgentsBySession(ctx context.Context, sessionID uuid.UUID) ([]*ArenaAgent, error) {
	query := `
		SELECT id, session_id, name, personality, avatar_shape, colour_index,
			strategy_config, starting_capital, current_capital, peak_equity,
			total_pnl, total_fees, win_count, loss_count, max_drawdown, health, rank,
			status, death_tick, death_reason,
			model_calls, input_tokens, output_tokens, estimated_cost_usd
		FROM arena_agents
		WHERE session_id = $1
		ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*ArenaAgent
	for rows.Next() {
		var a ArenaAgent
		if err := rows.Scan(
			&a.ID, &a.SessionID, &a.Name, &a.Personality, &a.AvatarShape, &a.ColourIndex,
			&a.StrategyConfig, &a.StartingCapital, &a.CurrentCapital, &a.PeakEquity,
			&a.TotalPnL, &a.TotalFees, &a.WinCount, &a.LossCount, &a.MaxDrawdown, &a.Health, &a.Rank,
			&a.Status, &a.DeathTick, &a.DeathReason,
			&a.ModelCalls, &a.InputTokens, &a.OutputTokens, &a.EstimatedCostUSD,
		); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read agents: %w", err)
	}
	return agents, nil
}
