package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pr3m/xrparena/internal/arena"
)

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.NewServer(&server.Options{Port: -1})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(5*time.Second))
	t.Cleanup(srv.Shutdown)
	return srv
}

func TestNATSSinkPublishesBySubject(t *testing.T) {
	srv := startEmbeddedNATS(t)

	sink, err := NewNATSSink(NATSSinkConfig{URL: srv.ClientURL()})
	require.NoError(t, err)
	defer sink.Close()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("arena.events.trade_open")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	event := arena.NewEvent(arena.EventTradeOpen, arena.ImportanceHigh,
		"Blade goes long", "10% margin at 0.6012", 0.6012)
	require.NoError(t, sink.Deliver(event))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)

	var got arena.Event
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, arena.EventTradeOpen, got.Type)
	assert.Equal(t, "Blade goes long", got.Title)
	assert.Equal(t, 0.6012, got.PriceAt)
}

func TestNATSSinkCustomPrefix(t *testing.T) {
	srv := startEmbeddedNATS(t)

	sink, err := NewNATSSink(NATSSinkConfig{URL: srv.ClientURL(), Prefix: "xrp.arena."})
	require.NoError(t, err)
	defer sink.Close()

	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer nc.Close()

	sub, err := nc.SubscribeSync("xrp.arena.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	require.NoError(t, sink.Deliver(arena.NewEvent(arena.EventAgentDeath, arena.ImportanceCritical,
		"Surge is eliminated", "", 0.58)))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "xrp.arena.agent_death", msg.Subject)
}

func TestNATSSinkConnectFailure(t *testing.T) {
	_, err := NewNATSSink(NATSSinkConfig{URL: "nats://127.0.0.1:1"})
	assert.Error(t, err)
}
