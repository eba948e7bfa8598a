/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus mirrors events over core NATS subjects "slotmarket.events.<type>".
// When the server is unreachable at startup it runs local-only.
type NATSBus struct {
	local  *events.Bus
	conn   *nats.Conn
	sub    *nats.Subscription
	nodeID string
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

var _ events.Broker = (*NATSBus)(nil)

// NewNATSBus connects to NATS and starts receiving remote events.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) *NATSBus {
	nb := &NATSBus{
		local:  events.NewBus(),
		nodeID: NodeID(nodeID),
		logger: logger.With().Str("component", "nats_bus").Logger(),
	}

	opts := []nats.Option{
		nats.Name("slotmarket-" + nb.nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			nb.logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			nb.logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS connection failed, using in-memory event bus")
		return nb
	}

	sub, err := conn.Subscribe(subjectPrefix+">", nb.receive)
	if err != nil {
		nb.logger.Warn().Err(err).Msg("NATS subscribe failed, using in-memory event bus")
		conn.Close()
		return nb
	}

	nb.conn = conn
	nb.sub = sub
	nb.logger.Info().Str("url", cfg.URL).Str("node_id", nb.nodeID).Msg("NATS event bus initialized")
	return nb
}

// Connected reports whether events are mirrored to NATS.
func (nb *NATSBus) Connected() bool {
	return nb.conn != nil && nb.conn.IsConnected()
}

func (nb *NATSBus) receive(m *nats.Msg) {
	msg, err := unmarshalMessage(m.Data)
	if err != nil {
		nb.logger.Error().Err(err).Str("subject", m.Subject).Msg("dropping malformed NATS event")
		return
	}
	if msg.NodeID == nb.nodeID {
		return
	}
	if want := eventTypeFromSubject(m.Subject); want != msg.EventType {
		nb.logger.Warn().Str("subject", m.Subject).Str("event_type", string(msg.EventType)).Msg("subject and event type disagree")
	}
	nb.local.Publish(msg.EventType, msg.remotePayload())
}

// Publish delivers locally, then mirrors to NATS.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)
	if nb.conn == nil {
		return
	}
	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}
	if err := nb.conn.Publish(subject(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Close drains the subscription and closes the connection.
func (nb *NATSBus) Close() error {
	nb.mu.Lock()
	defer nb.mu.Unlock()
	if nb.closed || nb.conn == nil {
		nb.closed = true
		return nil
	}
	nb.closed = true
	if err := nb.conn.Drain(); err != nil {
		nb.conn.Close()
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
