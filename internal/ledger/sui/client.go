/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sui reaches the time slot Move module over Sui JSON-RPC. Reads go to
// a fullnode. Writes are handed as unsigned move calls to a transaction relay
// that holds the sender's signing key and executes them.
package sui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

const (
	moduleName       = "time_slot"
	defaultClockID   = "0x6"
	defaultPageLimit = 50
	defaultMaxPages  = 20
	multiGetChunk    = 50
	tracerName       = "slotmarket/ledger/sui"
)

var (
	// ErrRelayNotConfigured is returned by submissions when no relay URL is set.
	ErrRelayNotConfigured = errors.New("transaction relay not configured")

	// ErrUnsupportedDuration is returned when a slot duration differs from the
	// one the deployed module enforces.
	ErrUnsupportedDuration = errors.New("slot duration not supported by contract")
)

// Config configures the adapter.
type Config struct {
	RPCURL        string
	RelayURL      string
	PackageID     string
	ClockObjectID string
	// SlotDurationMs is the duration the deployed module gives every slot.
	// Zero disables the check.
	SlotDurationMs int64
	PageLimit      int
	MaxPages       int
	Timeout        time.Duration
	GasBudget      uint64
}

// Client implements ledger.Adapter against Sui.
type Client struct {
	cfg    Config
	node   *rpc.Client
	relay  *rpc.Client
	logger zerolog.Logger
}

var _ ledger.Adapter = (*Client)(nil)

// Dial connects to the fullnode and, when configured, the relay.
func Dial(ctx context.Context, cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("sui rpc url is required")
	}
	if cfg.PackageID == "" {
		return nil, errors.New("sui package id is required")
	}
	if cfg.ClockObjectID == "" {
		cfg.ClockObjectID = defaultClockID
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	node, err := rpc.DialOptions(ctx, cfg.RPCURL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial sui rpc: %w", err)
	}

	c := &Client{
		cfg:    cfg,
		node:   node,
		logger: logger.With().Str("component", "sui_ledger").Logger(),
	}
	if cfg.RelayURL != "" {
		relay, err := rpc.DialOptions(ctx, cfg.RelayURL, rpc.WithHTTPClient(httpClient))
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("dial relay: %w", err)
		}
		c.relay = relay
	}

	c.logger.Info().
		Str("rpc", cfg.RPCURL).
		Str("package", cfg.PackageID).
		Bool("relay", c.relay != nil).
		Msg("sui ledger client ready")
	return c, nil
}

// Close releases both connections.
func (c *Client) Close() {
	c.node.Close()
	if c.relay != nil {
		c.relay.Close()
	}
}

func (c *Client) target(fn string) string {
	return fmt.Sprintf("%s::%s::%s", c.cfg.PackageID, moduleName, fn)
}

func (c *Client) eventType(name string) string {
	return fmt.Sprintf("%s::%s::%s", c.cfg.PackageID, moduleName, name)
}

// call performs one node request with a deadline, a span and metrics.
func (c *Client) call(ctx context.Context, result any, method string, args ...any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, tracerName, method)
	start := time.Now()
	defer func() {
		telemetry.ObserveLedgerCall(method, start, err)
		telemetry.EndSpan(span, err)
	}()

	if err = c.node.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// Now reads the shared clock object.
func (c *Client) Now(ctx context.Context) (int64, error) {
	var resp objectResponse
	if err := c.call(ctx, &resp, "sui_getObject", c.cfg.ClockObjectID, objectOptions); err != nil {
		return 0, err
	}
	if resp.Error != nil {
		return 0, fmt.Errorf("read clock object: %s", resp.Error.Code)
	}
	var fields clockFields
	if err := resp.decodeFields(&fields); err != nil {
		return 0, fmt.Errorf("decode clock object: %w", err)
	}
	return fields.TimestampMs.millis("clock timestamp_ms")
}

// QuerySlot loads one TimeSlot object.
func (c *Client) QuerySlot(ctx context.Context, slotID string) (auction.Slot, error) {
	var resp objectResponse
	if err := c.call(ctx, &resp, "sui_getObject", slotID, objectOptions); err != nil {
		return auction.Slot{}, err
	}
	return resp.slot(slotID)
}

// QuerySlotsByOwner walks SlotCreated events newest first, keeps the owner's
// slots and loads them in chunks.
func (c *Client) QuerySlotsByOwner(ctx context.Context, owner auction.Address) ([]auction.Slot, error) {
	var ids []string
	err := c.walkEvents(ctx, c.eventType("SlotCreated"), func(ev eventEnvelope) (bool, error) {
		var created slotCreatedEvent
		if err := ev.decode(&created); err != nil {
			return false, err
		}
		addr, err := auction.ParseAddress(created.TimeOwner)
		if err != nil {
			c.logger.Warn().Err(err).Str("slot_id", created.SlotID).Msg("skipping SlotCreated with bad owner")
			return true, nil
		}
		if addr == owner {
			ids = append(ids, created.SlotID)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slots := make([]auction.Slot, 0, len(ids))
	for start := 0; start < len(ids); start += multiGetChunk {
		end := min(start+multiGetChunk, len(ids))
		var resp []objectResponse
		if err := c.call(ctx, &resp, "sui_multiGetObjects", ids[start:end], objectOptions); err != nil {
			return nil, err
		}
		for i, obj := range resp {
			s, err := obj.slot(ids[start+i])
			if errors.Is(err, auction.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			slots = append(slots, s)
		}
	}
	sortByStart(slots)
	return slots, nil
}

// QueryBidHistory returns BidPlaced events for slotID, newest first.
func (c *Client) QueryBidHistory(ctx context.Context, slotID string, limit int) ([]ledger.BidEvent, error) {
	var bids []ledger.BidEvent
	err := c.walkEvents(ctx, c.eventType("BidPlaced"), func(ev eventEnvelope) (bool, error) {
		var placed bidPlacedEvent
		if err := ev.decode(&placed); err != nil {
			return false, err
		}
		if placed.SlotID != slotID {
			return true, nil
		}
		bidder, err := auction.ParseAddress(placed.Bidder)
		if err != nil {
			return false, fmt.Errorf("BidPlaced bidder: %w", err)
		}
		ts, err := placed.Timestamp.millis("BidPlaced timestamp")
		if err != nil {
			return false, err
		}
		bids = append(bids, ledger.BidEvent{
			SlotID:    placed.SlotID,
			Bidder:    bidder,
			Amount:    uint64(placed.Amount),
			Timestamp: ts,
			Digest:    ev.ID.TxDigest,
		})
		return limit <= 0 || len(bids) < limit, nil
	})
	if err != nil {
		return nil, err
	}
	return bids, nil
}

// walkEvents pages through events of eventType, newest first, until visit
// returns false, pages run out, or MaxPages is reached.
func (c *Client) walkEvents(ctx context.Context, eventType string, visit func(eventEnvelope) (bool, error)) error {
	query := map[string]string{"MoveEventType": eventType}
	var cursor *eventID
	for page := 0; page < c.cfg.MaxPages; page++ {
		var resp eventPage
		if err := c.call(ctx, &resp, "suix_queryEvents", query, cursor, c.cfg.PageLimit, true); err != nil {
			return err
		}
		for _, ev := range resp.Data {
			more, err := visit(ev)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
		if !resp.HasNextPage || resp.NextCursor == nil {
			return nil
		}
		cursor = resp.NextCursor
	}
	c.logger.Warn().Str("event_type", eventType).Int("pages", c.cfg.MaxPages).Msg("event scan truncated")
	return nil
}
