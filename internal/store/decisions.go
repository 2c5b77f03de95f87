package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AppendDecisions writes a buffered batch of decision records. A failure
// leaves the caller free to retry the whole batch on the next flush.
func (s *Store) AppendDecisions(ctx context.Context, decisions []*ArenaDecision) error {
	query := `
		INSERT INTO arena_decisions (
			agent_id, tick, action, reasoning, confidence, used_model,
			price_at, balance_at, pnl_at, input_tokens, output_tokens
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, d := range decisions {
		_, err := s.pool.Exec(ctx, query,
			d.AgentID,
			d.Tick,
			d.Action,
			d.Reasoning,
			d.Confidence,
			d.UsedModel,
			d.PriceAt,
			d.BalanceAt,
			d.PnLAt,
			d.InputTokens,
			d.OutputTokens,
		)
		if err != nil {
			return fmt.Errorf("failed to append decision batch: %w", err)
		}
	}
	return nil
}

// ListDecisions returns an agent's decisions for a tick range, in order
func (s *Store) ListDecisions(ctx context.Context, agentID uuid.UUID, fromTick, toTick int) ([]*ArenaDecision, error) {
	query := `
		SELECT agent_id, tick, action, reasoning, confidence, used_model,
			price_at, balance_at, pnl_at, input_tokens, output_tokens
		FROM arena_decisions
		WHERE agent_id = $1 AND tick BETWEEN $2 AND $3
		ORDER BY tick
	`
	rows, err := s.pool.Query(ctx, query, agentID, fromTick, toTick)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*ArenaDecision
	for rows.Next() {
		var d ArenaDecision
		if err := rows.Scan(
			&d.AgentID, &d.Tick, &d.Action, &d.Reasoning, &d.Confidence, &d.UsedModel,
			&d.PriceAt, &d.BalanceAt, &d.PnLAt, &d.InputTokens, &d.OutputTokens,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	return decisions, nil
}

// WriteSnapshot stores a periodic full-state capture
func (s *Store) WriteSnapshot(ctx context.Context, snapshot *ArenaSnapshot) error {
	query := `
		INSERT INTO arena_snapshots (session_id, market_price, data)
		VALUES ($1, $2, $3)
	`
	_, err := s.pool.Exec(ctx, query, snapshot.SessionID, snapshot.MarketPrice, snapshot.Data)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
