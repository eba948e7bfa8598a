/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based caching layer for ledger reads that
// are polled far more often than they change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// DefaultOwnerSlotsTTL is short so that a missed invalidation never outlives
// one slot boundary by much.
const DefaultOwnerSlotsTTL = 3 * time.Second

// Key prefixes for Redis cache
const (
	KeyOwnerSlots = "slotmarket:cache:owner_slots:" // + owner address
	KeyPattern    = "slotmarket:cache:*"
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	OwnerSlotsTTL time.Duration

	// DisableOnError turns the cache off after the first Redis error.
	DisableOnError bool
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:      "localhost:6379",
		OwnerSlotsTTL:  DefaultOwnerSlotsTTL,
		DisableOnError: true,
	}
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache. An unreachable Redis yields a disabled cache, not an
// error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	logger = logger.With().Str("component", "cache").Logger()
	if cfg.OwnerSlotsTTL <= 0 {
		cfg.OwnerSlotsTTL = DefaultOwnerSlotsTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return &Cache{logger: logger, config: cfg, disabled: true}
	}

	logger.Info().Str("addr", cfg.RedisAddr).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}
}

// Disabled returns a cache that never stores anything.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{logger: logger, config: DefaultConfig(), disabled: true}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")
	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		telemetry.CacheOperationsTotal.WithLabelValues("miss").Inc()
		return false
	}
	if err != nil {
		c.handleError(err, "get")
		telemetry.CacheOperationsTotal.WithLabelValues("error").Inc()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false
	}
	telemetry.CacheOperationsTotal.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.IsAvailable() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

func (c *Cache) delete(ctx context.Context, keys ...string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// CachedSlot is the JSON form of a slot snapshot.
type CachedSlot struct {
	ID            string `json:"id"`
	StartTime     int64  `json:"start_time"`
	DurationMs    int64  `json:"duration_ms"`
	TimeOwner     string `json:"time_owner"`
	MinBid        uint64 `json:"min_bid"`
	AuctionEnd    int64  `json:"auction_end"`
	CurrentBidder string `json:"current_bidder,omitempty"`
	CurrentBid    uint64 `json:"current_bid"`
	Instructions  []byte `json:"instructions,omitempty"`
	Finalized     bool   `json:"finalized"`
	Claimed       bool   `json:"claimed"`
}

func fromSlot(s auction.Slot) CachedSlot {
	return CachedSlot{
		ID:            s.ID,
		StartTime:     s.StartTime,
		DurationMs:    s.DurationMs,
		TimeOwner:     s.TimeOwner.String(),
		MinBid:        s.MinBid,
		AuctionEnd:    s.AuctionEnd,
		CurrentBidder: s.CurrentBidder.String(),
		CurrentBid:    s.CurrentBid,
		Instructions:  s.Instructions,
		Finalized:     s.Finalized,
		Claimed:       s.Claimed,
	}
}

func (cs CachedSlot) toSlot() auction.Slot {
	return auction.Slot{
		ID:            cs.ID,
		StartTime:     cs.StartTime,
		DurationMs:    cs.DurationMs,
		TimeOwner:     auction.Address(cs.TimeOwner),
		MinBid:        cs.MinBid,
		AuctionEnd:    cs.AuctionEnd,
		CurrentBidder: auction.Address(cs.CurrentBidder),
		CurrentBid:    cs.CurrentBid,
		Instructions:  cs.Instructions,
		Finalized:     cs.Finalized,
		Claimed:       cs.Claimed,
	}
}

// GetOwnerSlots retrieves the cached slot list of owner.
func (c *Cache) GetOwnerSlots(ctx context.Context, owner auction.Address) ([]auction.Slot, bool) {
	var cached []CachedSlot
	if !c.get(ctx, KeyOwnerSlots+owner.String(), &cached) {
		return nil, false
	}
	slots := make([]auction.Slot, len(cached))
	for i, cs := range cached {
		slots[i] = cs.toSlot()
	}
	return slots, true
}

// SetOwnerSlots caches the slot list of owner.
func (c *Cache) SetOwnerSlots(ctx context.Context, owner auction.Address, slots []auction.Slot) error {
	cached := make([]CachedSlot, len(slots))
	for i, s := range slots {
		cached[i] = fromSlot(s)
	}
	return c.set(ctx, KeyOwnerSlots+owner.String(), cached, c.config.OwnerSlotsTTL)
}

// InvalidateOwner removes every cache entry for owner.
func (c *Cache) InvalidateOwner(ctx context.Context, owner auction.Address) error {
	c.logger.Debug().Str("owner", owner.Short()).Msg("invalidating owner slot cache")
	return c.delete(ctx, KeyOwnerSlots+owner.String())
}

// FlushAll removes all cached data (use sparingly).
func (c *Cache) FlushAll(ctx context.Context) error {
	if !c.IsAvailable() {
		return nil
	}
	c.logger.Warn().Msg("flushing all cache data")
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, KeyPattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.delete(ctx, keys...); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
