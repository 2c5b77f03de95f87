package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pr3m/xrparena/internal/store"
)

// Store is the persistence capability the orchestrator consumes. The core
// writes; anyone may read. *store.Store satisfies it.
type Store interface {
	CreateSession(ctx context.Context, session *store.ArenaSession) error
	MarkSessionStarted(ctx context.Context, sessionID uuid.UUID, startedAt time.Time, startPrice float64) error
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status store.SessionStatus) error
	CompleteSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time, endPrice float64, runtimeMs int64, summary map[string]interface{}) error

	CreateAgent(ctx context.Context, agent *store.ArenaAgent) error
	UpdateAgent(ctx context.Context, agent *store.ArenaAgent) error
	ListAgentsBySession(ctx context.Context, sessionID uuid.UUID) ([]*store.ArenaAgent, error)

	CreatePosition(ctx context.Context, position *store.ArenaPosition) error
	UpdatePositionAveraging(ctx context.Context, position *store.ArenaPosition) error
	ClosePosition(ctx context.Context, position *store.ArenaPosition) error

	AppendDecisions(ctx context.Context, decisions []*store.ArenaDecision) error
	WriteSnapshot(ctx context.Context, snapshot *store.ArenaSnapshot) error
}

var _ Store = (*store.Store)(nil)
