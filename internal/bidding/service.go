/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bidding submits bids, settlements and instructions for single
// slots. Local validation only decides whether to submit; the ledger decides
// the outcome.
package bidding

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// OwnerInvalidator drops cached slot lists for an owner.
type OwnerInvalidator interface {
	InvalidateOwner(ctx context.Context, owner auction.Address) error
}

// Receipt is the result of an executed operation.
type Receipt struct {
	Slot   auction.Slot
	Digest string
	Now    int64
}

// Service performs slot operations against the ledger.
type Service struct {
	ledger ledger.Adapter
	bus    events.Broker
	cache  OwnerInvalidator
	logger zerolog.Logger
}

// NewService creates a bidding service. cache may be nil.
func NewService(l ledger.Adapter, bus events.Broker, cache OwnerInvalidator, logger zerolog.Logger) *Service {
	return &Service{
		ledger: l,
		bus:    bus,
		cache:  cache,
		logger: logger.With().Str("component", "bidding").Logger(),
	}
}

// Snapshot reads a slot together with the ledger time.
func (s *Service) Snapshot(ctx context.Context, slotID string) (auction.Slot, int64, error) {
	now, err := s.ledger.Now(ctx)
	if err != nil {
		return auction.Slot{}, 0, fmt.Errorf("read ledger clock: %w", err)
	}
	slot, err := s.ledger.QuerySlot(ctx, slotID)
	if err != nil {
		return auction.Slot{}, now, err
	}
	return slot, now, nil
}

// PlaceBid bids amount on slotID for bidder.
func (s *Service) PlaceBid(ctx context.Context, slotID string, bidder auction.Address, amount uint64) (Receipt, error) {
	slot, now, err := s.Snapshot(ctx, slotID)
	if err != nil {
		return Receipt{}, err
	}
	expected, err := auction.ApplyBid(slot, bidder, amount, now)
	if err != nil {
		return Receipt{}, s.rejected(auction.OpBid, slot, err)
	}

	res, err := s.ledger.SubmitBid(ctx, slotID, amount, bidder)
	if err != nil {
		return Receipt{}, s.failed(ctx, auction.OpBid, slot, res, err, bidder)
	}

	receipt := s.settle(ctx, expected, res.Digest, now)
	telemetry.BidsAcceptedTotal.Inc()
	s.logger.Info().
		Str("slot_id", slotID).
		Str("owner", slot.TimeOwner.String()).
		Str("bidder", bidder.String()).
		Uint64("amount", amount).
		Str("digest", res.Digest).
		Msg("bid accepted")
	s.bus.Publish(events.EventBidPlaced, events.Payload{
		"slot_id": slotID,
		"owner":   slot.TimeOwner.String(),
		"bidder":  bidder.String(),
		"amount":  amount,
		"digest":  res.Digest,
		"at":      now,
	})
	return receipt, nil
}

// Finalize settles the auction of slotID. Anyone may call it.
func (s *Service) Finalize(ctx context.Context, slotID string, caller auction.Address) (Receipt, error) {
	slot, now, err := s.Snapshot(ctx, slotID)
	if err != nil {
		return Receipt{}, err
	}
	expected, err := auction.ApplyFinalize(slot, now)
	if err != nil {
		return Receipt{}, s.rejected(auction.OpFinalize, slot, err)
	}

	res, err := s.ledger.SubmitFinalize(ctx, slotID, caller)
	if err != nil {
		return Receipt{}, s.failed(ctx, auction.OpFinalize, slot, res, err, caller)
	}

	receipt := s.settle(ctx, expected, res.Digest, now)
	s.logger.Info().
		Str("slot_id", slotID).
		Str("owner", slot.TimeOwner.String()).
		Str("winner", receipt.Slot.CurrentBidder.String()).
		Uint64("amount", receipt.Slot.CurrentBid).
		Str("digest", res.Digest).
		Msg("auction finalized")
	s.bus.Publish(events.EventAuctionFinalized, events.Payload{
		"slot_id": slotID,
		"owner":   slot.TimeOwner.String(),
		"caller":  caller.String(),
		"winner":  receipt.Slot.CurrentBidder.String(),
		"amount":  receipt.Slot.CurrentBid,
		"digest":  res.Digest,
	})
	return receipt, nil
}

// SetInstructions stores payload on slotID for its winning bidder.
func (s *Service) SetInstructions(ctx context.Context, slotID string, caller auction.Address, payload []byte) (Receipt, error) {
	slot, now, err := s.Snapshot(ctx, slotID)
	if err != nil {
		return Receipt{}, err
	}
	expected, err := auction.ApplySetInstructions(slot, caller, payload, now)
	if err != nil {
		return Receipt{}, s.rejected(auction.OpSetInstructions, slot, err)
	}

	res, err := s.ledger.SubmitSetInstructions(ctx, slotID, payload, caller)
	if err != nil {
		return Receipt{}, s.failed(ctx, auction.OpSetInstructions, slot, res, err, caller)
	}

	receipt := s.settle(ctx, expected, res.Digest, now)
	s.logger.Info().
		Str("slot_id", slotID).
		Str("owner", slot.TimeOwner.String()).
		Str("caller", caller.String()).
		Int("bytes", len(payload)).
		Str("digest", res.Digest).
		Msg("instructions set")
	s.bus.Publish(events.EventInstructionsSet, events.Payload{
		"slot_id":      slotID,
		"owner":        slot.TimeOwner.String(),
		"caller":       caller.String(),
		"instructions": string(payload),
		"digest":       res.Digest,
	})
	return receipt, nil
}

// settle re-reads the slot after a successful submission, falling back to
// the locally applied state when the read fails.
func (s *Service) settle(ctx context.Context, expected auction.Slot, digest string, now int64) Receipt {
	s.invalidate(ctx, expected.TimeOwner)
	latest, err := s.ledger.QuerySlot(ctx, expected.ID)
	if err != nil {
		s.logger.Debug().Err(err).Str("slot_id", expected.ID).Msg("post-submit read failed, using applied state")
		latest = expected
	}
	return Receipt{Slot: latest, Digest: digest, Now: now}
}

func (s *Service) rejected(op string, slot auction.Slot, err error) error {
	reason, _ := auction.IsRejected(err)
	telemetry.ValidationRejectionsTotal.WithLabelValues(op, string(reason)).Inc()
	s.logger.Debug().
		Str("op", op).
		Str("slot_id", slot.ID).
		Str("reason", string(reason)).
		Msg("operation rejected locally")
	return err
}

// failed re-queries the slot so callers see ledger truth, never a local guess.
func (s *Service) failed(ctx context.Context, op string, slot auction.Slot, res ledger.TxResult, cause error, caller auction.Address) error {
	telemetry.TransactionFailuresTotal.WithLabelValues(op).Inc()
	txErr := &auction.TransactionFailedError{Op: op, SlotID: slot.ID, Digest: res.Digest, Cause: cause}

	latest, err := s.ledger.QuerySlot(ctx, slot.ID)
	if err == nil {
		txErr.Latest = &latest
	} else if !errors.Is(err, context.Canceled) {
		s.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("could not re-read slot after failed submission")
	}
	s.invalidate(ctx, slot.TimeOwner)

	s.logger.Warn().Err(cause).
		Str("op", op).
		Str("slot_id", slot.ID).
		Str("caller", caller.String()).
		Str("digest", res.Digest).
		Msg("ledger transaction failed")
	s.bus.Publish(events.EventTxFailed, events.Payload{
		"op":      op,
		"slot_id": slot.ID,
		"owner":   slot.TimeOwner.String(),
		"caller":  caller.String(),
		"digest":  res.Digest,
		"error":   cause.Error(),
	})
	return txErr
}

func (s *Service) invalidate(ctx context.Context, owner auction.Address) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateOwner(ctx, owner); err != nil {
		s.logger.Debug().Err(err).Str("owner", owner.String()).Msg("owner cache invalidation failed")
	}
}

// History returns recent accepted bids for slotID, newest first.
func (s *Service) History(ctx context.Context, slotID string, limit int) ([]ledger.BidEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.ledger.QueryBidHistory(ctx, slotID, limit)
}

// OwnerSlots lists owner's slots together with the ledger time.
func (s *Service) OwnerSlots(ctx context.Context, owner auction.Address) ([]auction.Slot, int64, error) {
	now, err := s.ledger.Now(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("read ledger clock: %w", err)
	}
	slots, err := s.ledger.QuerySlotsByOwner(ctx, owner)
	return slots, now, err
}
