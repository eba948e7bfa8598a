/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects a single instance to run singleton background
// work, using a Redis lease.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/telemetry"
)

const (
	defaultElectionKey     = "slotmarket:leader:settlement"
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
	defaultRetryInterval   = 2 * time.Second
)

// releaseScript deletes the lease only while this instance holds it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Election manages distributed leader election using Redis.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	config     ElectionConfig
	instanceID string

	isLeader   atomic.Bool
	cancelFunc context.CancelFunc
	stopOnce   sync.Once
	done       chan struct{}
	leaderCh   chan bool
}

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ElectionKey is the Redis key holding the leader's instance ID.
	ElectionKey string

	// LeaseDuration is how long a lease survives without renewal.
	LeaseDuration time.Duration

	// RenewalInterval is how often the leader renews.
	RenewalInterval time.Duration

	// RetryInterval is how often followers try to take over.
	RetryInterval time.Duration

	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		RedisAddr:       "localhost:6379",
		ElectionKey:     defaultElectionKey,
		LeaseDuration:   defaultLeaseDuration,
		RenewalInterval: defaultRenewalInterval,
		RetryInterval:   defaultRetryInterval,
		InstanceID:      uuid.New().String(),
	}
}

func (c *ElectionConfig) applyDefaults() error {
	if c.ElectionKey == "" {
		c.ElectionKey = defaultElectionKey
	}
	if c.LeaseDuration == 0 {
		c.LeaseDuration = defaultLeaseDuration
	}
	if c.RenewalInterval == 0 {
		c.RenewalInterval = defaultRenewalInterval
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = defaultRetryInterval
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.New().String()
	}
	if c.RenewalInterval >= c.LeaseDuration {
		return fmt.Errorf("renewal interval %s must be shorter than lease %s", c.RenewalInterval, c.LeaseDuration)
	}
	return nil
}

// NewElection connects to Redis and prepares an election.
func NewElection(config ElectionConfig, logger zerolog.Logger) (*Election, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisAddr,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info().
		Str("redis_addr", config.RedisAddr).
		Str("instance_id", config.InstanceID).
		Msg("connected to Redis for leader election")

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leader_election").Logger(),
		config:     config,
		instanceID: config.InstanceID,
		done:       make(chan struct{}),
		leaderCh:   make(chan bool, 1),
	}, nil
}

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.logger.Info().
		Str("instance_id", e.instanceID).
		Dur("lease_duration", e.config.LeaseDuration).
		Msg("starting leader election")

	go e.campaignLoop(ctx)
	return nil
}

// Stop ends the campaign, releases a held lease and closes Redis.
func (e *Election) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		e.logger.Info().Msg("stopping leader election")
		if e.cancelFunc != nil {
			e.cancelFunc()
			<-e.done
		}

		if e.isLeader.Load() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if relErr := e.releaseLock(ctx); relErr != nil {
				e.logger.Error().Err(relErr).Msg("failed to release leadership lock")
			}
			e.updateLeadershipStatus(false)
		}
		err = e.client.Close()
	})
	return err
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// LeaderCh delivers leadership transitions. Slow readers miss intermediate
// values but IsLeader always reflects the latest state.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the current leader instance ID, or "" when vacant.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	leaderID, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leaderID, nil
}

func (e *Election) campaignLoop(ctx context.Context) {
	defer close(e.done)

	e.attemptLeadership(ctx)
	for {
		interval := e.config.RetryInterval
		if e.isLeader.Load() {
			interval = e.config.RenewalInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			e.attemptLeadership(ctx)
		}
	}
}

func (e *Election) attemptLeadership(ctx context.Context) {
	acquired, err := e.acquireLock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Error().Err(err).Msg("failed to acquire leadership lock")
		e.updateLeadershipStatus(false)
		return
	}

	switch {
	case acquired && !e.isLeader.Load():
		e.logger.Info().Str("instance_id", e.instanceID).Msg("acquired leadership")
	case !acquired && e.isLeader.Load():
		e.logger.Warn().Str("instance_id", e.instanceID).Msg("lost leadership")
	}
	e.updateLeadershipStatus(acquired)
}

// acquireLock takes the lease if vacant or renews it if already held.
func (e *Election) acquireLock(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.ElectionKey, e.instanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		return true, nil
	}

	current, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get current leader: %w", err)
	}
	if current != e.instanceID {
		return false, nil
	}

	if err := e.client.Expire(ctx, e.config.ElectionKey, e.config.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return true, nil
}

func (e *Election) releaseLock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, e.client, []string{e.config.ElectionKey}, e.instanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	e.logger.Info().Msg("released leadership lock")
	return nil
}

func (e *Election) updateLeadershipStatus(isLeader bool) {
	if e.isLeader.Swap(isLeader) == isLeader {
		return
	}

	if isLeader {
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "acquired").Inc()
	} else {
		telemetry.LeaderElectionStatus.WithLabelValues(e.instanceID).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(e.instanceID, "lost").Inc()
	}

	// Keep only the newest transition in the buffer.
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
