package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/pr3m/xrparena/internal/arena"
)

// NATSSinkConfig configures the NATS event sink
type NATSSinkConfig struct {
	URL    string
	Prefix string // subject prefix, default "arena.events."
}

// NATSSink publishes every arena event to a NATS subject derived from the
// event type. Publishing is fire-and-forget, which keeps the sink
// non-blocking on the tick path.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSSink connects to NATS and returns a sink ready to subscribe
func NewNATSSink(config NATSSinkConfig) (*NATSSink, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("xrparena-orchestrator"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := config.Prefix
	if prefix == "" {
		prefix = "arena.events."
	}
	return &NATSSink{nc: nc, prefix: prefix}, nil
}

// Deliver publishes the event to <prefix><type>
func (s *NATSSink) Deliver(event arena.Event) error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("NATS connection is not healthy")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.nc.Publish(s.prefix+string(event.Type), payload); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection
func (s *NATSSink) Close() {
	if s.nc != nil {
		_ = s.nc.Drain()
	}
}

var _ Sink = (*NATSSink)(nil)
