/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package shift plans and submits batches of consecutive time slots for an
// owner.
package shift

import (
	"fmt"
	"time"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/ledger"
)

// Strategy decides when bidding closes for each slot of a batch.
type Strategy string

const (
	// StrategyUniform closes bidding for every slot at now+AuctionWindow.
	StrategyUniform Strategy = "uniform"
	// StrategyPerSlot closes bidding AuctionWindow before each slot starts.
	StrategyPerSlot Strategy = "per_slot"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(raw string) (Strategy, error) {
	switch Strategy(raw) {
	case StrategyUniform, StrategyPerSlot:
		return Strategy(raw), nil
	default:
		return "", fmt.Errorf("unknown auction strategy %q", raw)
	}
}

// ShiftRequest describes a new shift. Every field participates in planning;
// there are no implicit defaults.
type ShiftRequest struct {
	Owner         auction.Address
	StartFrom     int64
	ShiftDuration time.Duration
	SlotDuration  time.Duration
	MinBid        uint64
	AuctionWindow time.Duration
	Strategy      Strategy
}

// TopUpRequest extends an owner's schedule after their latest slot.
// NotBefore is an optional lower bound on the first new start (0 = none).
type TopUpRequest struct {
	Owner              auction.Address
	AdditionalDuration time.Duration
	SlotDuration       time.Duration
	MinBid             uint64
	AuctionWindow      time.Duration
	Strategy           Strategy
	NotBefore          int64
}

// PlannedSlot is one slot of a plan, in ledger milliseconds.
type PlannedSlot struct {
	StartTime  int64
	DurationMs int64
	MinBid     uint64
	AuctionEnd int64
}

// Plan is an ordered, gapless run of slots for one owner.
type Plan struct {
	Owner    auction.Address
	Strategy Strategy
	Now      int64
	Slots    []PlannedSlot
}

// FirstStart is the start of the first slot.
func (p Plan) FirstStart() int64 {
	if len(p.Slots) == 0 {
		return 0
	}
	return p.Slots[0].StartTime
}

// EndTime is the end of the last slot.
func (p Plan) EndTime() int64 {
	if len(p.Slots) == 0 {
		return 0
	}
	last := p.Slots[len(p.Slots)-1]
	return last.StartTime + last.DurationMs
}

// Requests converts the plan into ledger creation requests. The auction
// duration is relative to the plan's clock reading.
func (p Plan) Requests() []ledger.CreateSlotRequest {
	reqs := make([]ledger.CreateSlotRequest, 0, len(p.Slots))
	for _, s := range p.Slots {
		reqs = append(reqs, ledger.CreateSlotRequest{
			Owner:             p.Owner,
			StartTime:         s.StartTime,
			DurationMs:        s.DurationMs,
			MinBid:            s.MinBid,
			AuctionDurationMs: s.AuctionEnd - p.Now,
			AuctionEnd:        s.AuctionEnd,
		})
	}
	return reqs
}

// Planner partitions shifts into slots. It holds no state besides limits.
type Planner struct {
	maxSlots int
	marginMs int64
}

// NewPlanner creates a planner that refuses batches larger than maxSlots.
// A non-positive maxSlots disables the limit. Every planned slot closes
// bidding at least clockMargin before it starts, so the ledger clock may
// advance that much between planning and execution.
func NewPlanner(maxSlots int, clockMargin time.Duration) *Planner {
	if clockMargin < 0 {
		clockMargin = 0
	}
	return &Planner{maxSlots: maxSlots, marginMs: clockMargin.Milliseconds()}
}

// ClockMargin is the minimum gap between a slot's auction end and its start.
func (p *Planner) ClockMargin() time.Duration {
	return time.Duration(p.marginMs) * time.Millisecond
}

// EarliestStart is the first slot boundary at which a batch planned at now
// satisfies the strategy's timing rules.
func (p *Planner) EarliestStart(now int64, window, slot time.Duration, strategy Strategy) int64 {
	return alignUp(p.minStart(now, window, strategy), slot.Milliseconds())
}

func (p *Planner) minStart(now int64, window time.Duration, strategy Strategy) int64 {
	if strategy == StrategyPerSlot {
		return now + window.Milliseconds()
	}
	return now + window.Milliseconds() + p.marginMs
}

func alignUp(ms, step int64) int64 {
	if step <= 0 {
		return ms
	}
	if rem := ms % step; rem != 0 {
		ms += step - rem
	}
	return ms
}

// CreateShift plans a shift starting at req.StartFrom.
func (p *Planner) CreateShift(req ShiftRequest, now int64) (Plan, error) {
	return p.partition(req.Owner, req.StartFrom, req.ShiftDuration, req.SlotDuration, req.MinBid, req.AuctionWindow, req.Strategy, now)
}

// TopUp plans additional slots anchored at the later of now, req.NotBefore
// and the end of the owner's latest slot in existing. Slots of other owners
// are ignored. An anchor too early for the strategy moves to EarliestStart;
// otherwise the new slots follow the latest one without a gap.
func (p *Planner) TopUp(req TopUpRequest, existing []auction.Slot, now int64) (Plan, error) {
	anchor := Anchor(req.Owner, existing, max(now, req.NotBefore))
	if req.AuctionWindow >= 0 && anchor < p.minStart(now, req.AuctionWindow, req.Strategy) {
		anchor = p.EarliestStart(now, req.AuctionWindow, req.SlotDuration, req.Strategy)
	}
	return p.partition(req.Owner, anchor, req.AdditionalDuration, req.SlotDuration, req.MinBid, req.AuctionWindow, req.Strategy, now)
}

// Anchor returns max(floor, latest end among owner's slots).
func Anchor(owner auction.Address, existing []auction.Slot, floor int64) int64 {
	anchor := floor
	for _, s := range existing {
		if s.TimeOwner != owner {
			continue
		}
		if end := s.EndTime(); end > anchor {
			anchor = end
		}
	}
	return anchor
}

func (p *Planner) partition(owner auction.Address, start int64, total, slot time.Duration, minBid uint64, window time.Duration, strategy Strategy, now int64) (Plan, error) {
	op := auction.OpCreateSlots
	if owner.IsZero() {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "owner is empty")
	}
	if slot <= 0 || slot%time.Millisecond != 0 {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "slot duration %s must be a positive whole number of milliseconds", slot)
	}
	if total <= 0 {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "shift duration %s must be positive", total)
	}
	if total%slot != 0 {
		return Plan{}, auction.Reject(op, auction.ReasonUnevenShift, "shift duration %s is not a multiple of slot duration %s", total, slot)
	}
	if window < 0 {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "auction window %s is negative", window)
	}
	if minBid == 0 {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "minimum bid must be positive")
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "%v", err)
	}

	count := int(total / slot)
	if p.maxSlots > 0 && count > p.maxSlots {
		return Plan{}, auction.Reject(op, auction.ReasonInvalidPlan, "%d slots exceeds the batch limit of %d", count, p.maxSlots)
	}

	slotMs := slot.Milliseconds()
	windowMs := window.Milliseconds()
	plan := Plan{Owner: owner, Strategy: strategy, Now: now, Slots: make([]PlannedSlot, 0, count)}
	for k := 0; k < count; k++ {
		startTime := start + int64(k)*slotMs
		auctionEnd := now + windowMs
		if strategy == StrategyPerSlot {
			auctionEnd = startTime - windowMs
		}
		if startTime-auctionEnd < p.marginMs || auctionEnd > startTime {
			return Plan{}, auction.Reject(op, auction.ReasonAuctionAfterStart, "slot %d starts at %d but bidding closes at %d, within the %dms clock margin", k, startTime, auctionEnd, p.marginMs)
		}
		if auctionEnd < now {
			return Plan{}, auction.Reject(op, auction.ReasonAuctionInPast, "slot %d bidding would close at %d, before now %d", k, auctionEnd, now)
		}
		plan.Slots = append(plan.Slots, PlannedSlot{
			StartTime:  startTime,
			DurationMs: slotMs,
			MinBid:     minBid,
			AuctionEnd: auctionEnd,
		})
	}
	return plan, nil
}
