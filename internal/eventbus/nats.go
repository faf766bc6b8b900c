/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"sync"
	"time"

	"github.com/friendsincode/memequeue/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const natsSubjectPrefix = "memequeue.events."

// NATSBus fans events out across instances through NATS core pub/sub.
// Like RedisBus, local delivery goes through the in-memory bus so a
// broker outage only costs cross-instance fan-out.
type NATSBus struct {
	conn     *nats.Conn
	logger   zerolog.Logger
	fallback *events.Bus
	nodeID   string

	mu   sync.RWMutex
	subs map[events.EventType][]events.Subscriber
	nsub map[events.EventType]*nats.Subscription
}

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL string

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

// NewNATSBus creates a NATS-backed event bus.
func NewNATSBus(cfg NATSConfig, nodeID string, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		logger:   logger,
		fallback: events.NewBus(),
		nodeID:   nodeID,
		subs:     make(map[events.EventType][]events.Subscriber),
		nsub:     make(map[events.EventType]*nats.Subscription),
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("memequeue-"+nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected, local delivery continues")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("NATS connection failed, using in-memory fallback")
		return nb, nil
	}

	nb.conn = conn
	logger.Info().Str("url", cfg.URL).Msg("NATS event bus initialized")

	return nb, nil
}

// Subscribe registers a subscriber for an event type.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	sub := nb.fallback.Subscribe(eventType)
	nb.subs[eventType] = append(nb.subs[eventType], sub)

	if nb.conn == nil {
		return sub
	}

	if _, exists := nb.nsub[eventType]; !exists {
		natsSub, err := nb.conn.Subscribe(natsSubjectPrefix+string(eventType), func(msg *nats.Msg) {
			nb.deliver(eventType, msg.Data)
		})
		if err != nil {
			nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS subscribe failed")
			return sub
		}
		nb.nsub[eventType] = natsSub
	}

	return sub
}

func (nb *NATSBus) deliver(eventType events.EventType, data []byte) {
	wire, err := unmarshalMessage(data)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to unmarshal NATS message")
		return
	}

	// Skip our own messages; local subscribers already got them.
	if wire.NodeID == nb.nodeID {
		return
	}

	nb.fallback.Publish(eventType, wire.Payload)
}

// Publish sends an event payload to all subscribers, local and remote.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.fallback.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}

	data, err := marshalMessage(eventType, payload, nb.nodeID)
	if err != nil {
		nb.logger.Error().Err(err).Msg("failed to marshal NATS message")
		return
	}

	if err := nb.conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to NATS")
	}
}

// Unsubscribe removes a subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.mu.Lock()
	defer nb.mu.Unlock()

	subs := nb.subs[eventType]
	for i, s := range subs {
		if s == sub {
			nb.subs[eventType] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	nb.fallback.Unsubscribe(eventType, sub)

	if len(nb.subs[eventType]) == 0 {
		if natsSub, exists := nb.nsub[eventType]; exists {
			if err := natsSub.Unsubscribe(); err != nil {
				nb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("NATS unsubscribe failed")
			}
			delete(nb.nsub, eventType)
		}
	}
}

// Close drains the NATS connection and tears down subscriptions.
func (nb *NATSBus) Close() error {
	nb.logger.Info().Msg("closing NATS event bus")

	nb.mu.Lock()
	for _, natsSub := range nb.nsub {
		natsSub.Unsubscribe()
	}
	nb.nsub = make(map[events.EventType]*nats.Subscription)
	nb.mu.Unlock()

	if nb.conn != nil {
		if err := nb.conn.Drain(); err != nil {
			nb.logger.Error().Err(err).Msg("NATS drain failed")
			nb.conn.Close()
		}
	}

	return nb.fallback.Close()
}
