/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// MaxFailures consecutive publish errors switch the bus to local-only.
	MaxFailures int
}

// RedisBus mirrors events over Redis pub/sub channels named like the NATS
// subjects. It degrades to local-only delivery when Redis is unreachable or
// keeps failing.
type RedisBus struct {
	local  *events.Bus
	client *redis.Client
	pubsub *redis.PubSub
	nodeID string
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	failCount   int
	maxFails    int
	useFallback bool
}

var _ events.Broker = (*RedisBus)(nil)

// NewRedisBus connects to Redis and starts receiving remote events.
func NewRedisBus(cfg RedisConfig, nodeID string, logger zerolog.Logger) *RedisBus {
	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		local:    events.NewBus(),
		nodeID:   NodeID(nodeID),
		logger:   logger.With().Str("component", "redis_bus").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		maxFails: cfg.MaxFailures,
	}
	if rb.maxFails <= 0 {
		rb.maxFails = 5
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis connection failed, using in-memory event bus")
		_ = client.Close()
		rb.useFallback = true
		return rb
	}

	rb.client = client
	rb.pubsub = client.PSubscribe(ctx, subjectPrefix+"*")
	rb.wg.Add(1)
	go rb.receive()

	rb.logger.Info().Str("addr", cfg.Addr).Str("node_id", rb.nodeID).Msg("Redis event bus initialized")
	return rb
}

func (rb *RedisBus) receive() {
	defer rb.wg.Done()
	ch := rb.pubsub.Channel()
	for {
		select {
		case <-rb.ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("Redis channel closed")
				return
			}
			msg, err := unmarshalMessage([]byte(m.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Str("channel", m.Channel).Msg("dropping malformed Redis event")
				continue
			}
			if msg.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(msg.EventType, msg.remotePayload())
		}
	}
}

// Publish delivers locally, then mirrors to Redis.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	rb.mu.Lock()
	fallback := rb.useFallback
	rb.mu.Unlock()
	if fallback {
		return
	}

	data, err := marshalMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to marshal event")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, subject(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to publish to Redis")
		rb.handleFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

func (rb *RedisBus) handleFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.useFallback {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("Redis failure threshold reached, switching to in-memory event bus")
		rb.useFallback = true
	}
}

func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	return rb.local.Subscribe(eventType)
}

func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Close stops the receiver and closes the client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
	rb.wg.Wait()
	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}
