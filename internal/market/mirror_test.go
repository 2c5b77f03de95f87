package market

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMirrorWriteRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mirror := NewMirror(client, time.Minute, zerolog.Nop())

	snap := &Snapshot{
		Pair:      "XRP/EUR",
		LastPrice: 0.6050,
		Bid:       0.6048,
		Ask:       0.6052,
		BTCTrend:  "neut",
		FetchedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	mirror.Write(snap)

	got, err := mirror.Read(context.Background(), "XRP/EUR")
	require.NoError(t, err)
	assert.Equal(t, snap.Pair, got.Pair)
	assert.InDelta(t, snap.LastPrice, got.LastPrice, 1e-9)
	assert.Equal(t, snap.BTCTrend, got.BTCTrend)

	// Key carries a TTL so stale mirrors expire on their own
	ttl := mr.TTL(Key("XRP/EUR"))
	assert.Greater(t, ttl, time.Duration(0))
}

func TestMirrorReadMissing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mirror := NewMirror(client, time.Minute, zerolog.Nop())

	_, err := mirror.Read(context.Background(), "XRP/EUR")
	require.Error(t, err)
}
