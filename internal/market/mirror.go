package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Mirror publishes the latest snapshot to redis so external dashboard
// readers can follow the market without touching the arena core.
type Mirror struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// NewMirror creates a redis snapshot mirror
func NewMirror(client *redis.Client, ttl time.Duration, log zerolog.Logger) *Mirror {
	if ttl == 0 {
		ttl = time.Minute
	}
	return &Mirror{
		client: client,
		ttl:    ttl,
		log:    log.With().Str("component", "market_mirror").Logger(),
	}
}

// Key returns the redis key for a pair's latest snapshot
func Key(pair string) string {
	return fmt.Sprintf("arena:market:latest:%s", krakenPair(pair))
}

// Write stores the snapshot under its pair key. Failures are logged and
// never propagated; the mirror is best-effort by design of the callers.
func (m *Mirror) Write(snap *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(snap)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to marshal snapshot for mirror")
		return
	}

	if err := m.client.Set(ctx, Key(snap.Pair), data, m.ttl).Err(); err != nil {
		m.log.Warn().Err(err).Msg("Failed to mirror snapshot to redis")
		return
	}

	m.log.Debug().Str("key", Key(snap.Pair)).Msg("Snapshot mirrored")
}

// Read loads the latest mirrored snapshot for a pair
func (m *Mirror) Read(ctx context.Context, pair string) (*Snapshot, error) {
	data, err := m.client.Get(ctx, Key(pair)).Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mirrored snapshot: %w", err)
	}

	return &snap, nil
}
