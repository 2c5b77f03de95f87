package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSession inserts a new pending session
func (s *Store) CreateSession(ctx context.Context, session *ArenaSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.Status == "" {
		session.Status = SessionPending
	}

	query := `
		INSERT INTO arena_sessions (id, status, config)
		VALUES ($1, $2, $3)
	`
	_, err := s.pool.Exec(ctx, query, session.ID, session.Status, session.Config)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// MarkSessionStarted records the start time and start price and flips the
// session to running
func (s *Store) MarkSessionStarted(ctx context.Context, sessionID uuid.UUID, startedAt time.Time, startPrice float64) error {
	query := `
		UPDATE arena_sessions
		SET status = $2, started_at = $3, start_price = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, sessionID, SessionRunning, startedAt, startPrice)
	if err != nil {
		return fmt.Errorf("failed to mark session started: %w", err)
	}
	return nil
}

// UpdateSessionStatus updates only the lifecycle status
func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status SessionStatus) error {
	query := `UPDATE arena_sessions SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, sessionID, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return nil
}

// CompleteSession records the final prices, runtime and summary blob
func (s *Store) CompleteSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, endPrice float64, runtimeMs int64, summary map[string]interface{}) error {
	query := `
		UPDATE arena_sessions
		SET status = $2, ended_at = $3, end_price = $4, total_runtime_ms = $5, summary = $6, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, sessionID, SessionCompleted, endedAt, endPrice, runtimeMs, summary)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	return nil
}

// GetSession loads one session by id
func (s *Store) GetSession(ctx context.Context, sessionID uuid.UUID) (*ArenaSession, error) {
	query := `
		SELECT id, status, config, started_at, ended_at, start_price, end_price, total_runtime_ms, summary
		FROM arena_sessions
		WHERE id = $1
	`
	var session ArenaSession
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Status,
		&session.Config,
		&session.StartedAt,
		&session.EndedAt,
		&session.StartPrice,
		&session.EndPrice,
		&session.TotalRuntimeMs,
		&session.Summary,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}
