/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gate answers whether an address currently controls an owner's
// time. Ambiguous ledger state never grants control.
package gate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// SlotSource reads slots from the ledger. ledger.Reader satisfies it.
type SlotSource interface {
	QuerySlot(ctx context.Context, slotID string) (auction.Slot, error)
	QuerySlotsByOwner(ctx context.Context, owner auction.Address) ([]auction.Slot, error)
}

// SlotCache holds short-lived owner slot lists. Cached entries are only
// trusted for slot times, which never change; bids are always re-read.
type SlotCache interface {
	GetOwnerSlots(ctx context.Context, owner auction.Address) ([]auction.Slot, bool)
	SetOwnerSlots(ctx context.Context, owner auction.Address, slots []auction.Slot) error
}

// Decision is the gate's view of an owner at one instant.
type Decision struct {
	Owner         auction.Address
	Now           int64
	HasActiveSlot bool
	Slot          auction.Slot
	Controller    auction.Address
}

// HasController reports whether the live slot has a winning bidder.
func (d Decision) HasController() bool {
	return d.HasActiveSlot && !d.Controller.IsZero()
}

// Gate resolves active controllers from ledger state.
type Gate struct {
	source SlotSource
	cache  SlotCache
	logger zerolog.Logger
}

// New creates a gate. cache may be nil.
func New(source SlotSource, cache SlotCache, logger zerolog.Logger) *Gate {
	return &Gate{
		source: source,
		cache:  cache,
		logger: logger.With().Str("component", "gate").Logger(),
	}
}

// ActiveSlot finds the single live slot of owner at now. When more than one
// slot is live the result is a fail-closed Decision and ErrAmbiguousState.
func (g *Gate) ActiveSlot(ctx context.Context, owner auction.Address, now int64) (Decision, error) {
	decision := Decision{Owner: owner, Now: now}

	slots, cached, err := g.slots(ctx, owner)
	if err != nil {
		telemetry.GateDecisionsTotal.WithLabelValues("error").Inc()
		return decision, fmt.Errorf("load slots for %s: %w", owner.Short(), err)
	}

	var live []auction.Slot
	for _, s := range slots {
		if s.TimeOwner != owner {
			continue
		}
		if auction.PhaseAt(s, now) == auction.PhaseLive {
			live = append(live, s)
		}
	}

	switch len(live) {
	case 0:
		telemetry.GateDecisionsTotal.WithLabelValues("no_slot").Inc()
		return decision, nil
	case 1:
	default:
		ids := make([]string, 0, len(live))
		for _, s := range live {
			ids = append(ids, s.ID)
		}
		telemetry.GateAmbiguousTotal.Inc()
		telemetry.GateDecisionsTotal.WithLabelValues("ambiguous").Inc()
		g.logger.Warn().
			Str("owner", owner.String()).
			Int64("now", now).
			Strs("slot_ids", ids).
			Msg("multiple live slots for owner, denying control")
		return decision, fmt.Errorf("owner %s: %w", owner.Short(), auction.ErrAmbiguousState)
	}

	current := live[0]
	if cached {
		// Bids placed elsewhere do not invalidate the cache.
		fresh, err := g.source.QuerySlot(ctx, current.ID)
		if err != nil {
			telemetry.GateDecisionsTotal.WithLabelValues("error").Inc()
			return decision, fmt.Errorf("refresh live slot %s: %w", current.ID, err)
		}
		current = fresh
	}

	decision.HasActiveSlot = true
	decision.Slot = current
	if controller, ok := auction.Controller(current, now); ok {
		decision.Controller = controller
		telemetry.GateDecisionsTotal.WithLabelValues("controlled").Inc()
	} else {
		telemetry.GateDecisionsTotal.WithLabelValues("uncontrolled").Inc()
	}
	return decision, nil
}

// GetActiveController returns the controller of owner at now, if any.
func (g *Gate) GetActiveController(ctx context.Context, owner auction.Address, now int64) (auction.Address, bool, error) {
	d, err := g.ActiveSlot(ctx, owner, now)
	if err != nil {
		return "", false, err
	}
	return d.Controller, d.HasController(), nil
}

// IsController reports whether caller controls owner at now. The empty
// address never controls anything.
func (g *Gate) IsController(ctx context.Context, owner, caller auction.Address, now int64) (bool, error) {
	if caller.IsZero() {
		return false, nil
	}
	d, err := g.ActiveSlot(ctx, owner, now)
	if err != nil {
		return false, err
	}
	return d.HasActiveSlot && auction.HasControl(d.Slot, caller, now), nil
}

// slots returns owner's slots and whether they came from the cache.
func (g *Gate) slots(ctx context.Context, owner auction.Address) ([]auction.Slot, bool, error) {
	if g.cache != nil {
		if cached, ok := g.cache.GetOwnerSlots(ctx, owner); ok {
			return cached, true, nil
		}
	}
	slots, err := g.source.QuerySlotsByOwner(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	if g.cache != nil {
		if err := g.cache.SetOwnerSlots(ctx, owner, slots); err != nil {
			g.logger.Debug().Err(err).Str("owner", owner.String()).Msg("owner slot cache write failed")
		}
	}
	return slots, false, nil
}
