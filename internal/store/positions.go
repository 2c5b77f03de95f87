package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreatePosition inserts a newly opened position
func (s *Store) CreatePosition(ctx context.Context, position *ArenaPosition) error {
	if position.ID == uuid.Nil {
		position.ID = uuid.New()
	}

	query := `
		INSERT INTO arena_positions (
			id, agent_id, pair, side, volume, avg_entry_price, leverage, margin_used,
			total_fees, dca_count, dca_history, is_open, entry_conditions, entry_reasoning, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.pool.Exec(ctx, query,
		position.ID,
		position.AgentID,
		position.Pair,
		position.Side,
		position.Volume,
		position.AvgEntryPrice,
		position.Leverage,
		position.MarginUsed,
		position.TotalFees,
		position.DCACount,
		position.DCAHistory,
		position.IsOpen,
		position.EntryConditions,
		position.EntryReasoning,
		position.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create position: %w", err)
	}
	return nil
}

// UpdatePositionAveraging rewrites the averaged fields after a DCA
func (s *Store) UpdatePositionAveraging(ctx context.Context, position *ArenaPosition) error {
	query := `
		UPDATE arena_positions
		SET volume = $2, avg_entry_price = $3, margin_used = $4, total_fees = $5,
			dca_count = $6, dca_history = $7
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query,
		position.ID,
		position.Volume,
		position.AvgEntryPrice,
		position.MarginUsed,
		position.TotalFees,
		position.DCACount,
		position.DCAHistory,
	)
	if err != nil {
		return fmt.Errorf("failed to update position averaging: %w", err)
	}
	return nil
}

// ClosePosition records the exit of a position
func (s *Store) ClosePosition(ctx context.Context, position *ArenaPosition) error {
	query := `
		UPDATE arena_positions
		SET is_open = FALSE, exit_price = $2, realized_pnl = $3, total_fees = $4,
			hold_duration_ms = $5, exit_reasoning = $6, closed_at = $7
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query,
		position.ID,
		position.ExitPrice,
		position.RealizedPnL,
		position.TotalFees,
		position.HoldDurationMs,
		position.ExitReasoning,
		position.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}
	return nil
}

// ListPositionsByAgent returns all positions of one agent, newest first
func (s *Store) ListPositionsByAgent(ctx context.Context, agentID uuid.UUID) ([]*ArenaPosition, error) {
	query := `
		SELECT id, agent_id, pair, side, volume, avg_entry_price, leverage, margin_used,
			total_fees, dca_count, dca_history, is_open, entry_conditions, entry_reasoning,
			exit_price, realized_pnl, hold_duration_ms, exit_reasoning, opened_at, closed_at
		FROM arena_positions
		WHERE agent_id = $1
		ORDER BY opened_at DESC
	`
	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}
	defer rows.Close()

	var positions []*ArenaPosition
	for rows.Next() {
		var p ArenaPosition
		if err := rows.Scan(
			&p.ID, &p.AgentID, &p.Pair, &p.Side, &p.Volume, &p.AvgEntryPrice, &p.Leverage, &p.MarginUsed,
			&p.TotalFees, &p.DCACount, &p.DCAHistory, &p.IsOpen, &p.EntryConditions, &p.EntryReasoning,
			&p.ExitPrice, &p.RealizedPnL, &p.HoldDurationMs, &p.ExitReasoning, &p.OpenedAt, &p.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read positions: %w", err)
	}
	return positions, nil
}
