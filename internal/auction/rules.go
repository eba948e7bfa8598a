/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auction

import "bytes"

// Operation names used in errors and logs.
const (
	OpBid             = "bid"
	OpFinalize        = "finalize"
	OpSetInstructions = "set_instructions"
	OpCreateSlots     = "create_slots"
)

// MinNextBid is the smallest amount the next bid must carry.
func MinNextBid(s Slot) uint64 {
	if !s.HasBid() {
		return s.MinBid
	}
	return s.CurrentBid + 1
}

// ValidateBid checks a bid of amount against s at now.
func ValidateBid(s Slot, amount uint64, now int64) error {
	if phase := PhaseAt(s, now); phase != PhaseBiddingOpen {
		return reject(OpBid, ReasonAuctionClosed, "slot is %s", phase)
	}
	if amount == 0 {
		return reject(OpBid, ReasonZeroAmount, "amount must be positive")
	}
	if !s.HasBid() {
		if amount < s.MinBid {
			return reject(OpBid, ReasonBelowMinimum, "amount %d below minimum %d", amount, s.MinBid)
		}
		return nil
	}
	if amount <= s.CurrentBid {
		return reject(OpBid, ReasonNotAboveCurrent, "amount %d not above current %d", amount, s.CurrentBid)
	}
	return nil
}

// ApplyBid returns s after an accepted bid.
func ApplyBid(s Slot, bidder Address, amount uint64, now int64) (Slot, error) {
	if bidder.IsZero() {
		return s, reject(OpBid, ReasonNotController, "bidder is empty")
	}
	if err := ValidateBid(s, amount, now); err != nil {
		return s, err
	}
	out := s.Clone()
	out.CurrentBid = amount
	out.CurrentBidder = bidder
	return out, nil
}

// ValidateFinalize checks whether the auction of s can be settled at now.
// Anyone may finalize.
func ValidateFinalize(s Slot, now int64) error {
	if now < s.AuctionEnd {
		return reject(OpFinalize, ReasonTooEarly, "auction ends at %d, now %d", s.AuctionEnd, now)
	}
	if s.Finalized {
		return reject(OpFinalize, ReasonAlreadyFinalized, "slot %s", s.ID)
	}
	return nil
}

// ApplyFinalize returns s after settlement.
func ApplyFinalize(s Slot, now int64) (Slot, error) {
	if err := ValidateFinalize(s, now); err != nil {
		return s, err
	}
	out := s.Clone()
	out.Finalized = true
	return out, nil
}

// ValidateSetInstructions checks whether caller may store instructions on s
// at now.
func ValidateSetInstructions(s Slot, caller Address, now int64) error {
	if !s.HasBid() {
		return reject(OpSetInstructions, ReasonNoWinner, "slot %s has no bids", s.ID)
	}
	if caller != s.CurrentBidder {
		return reject(OpSetInstructions, ReasonNotController, "caller %s is not the winning bidder", caller.Short())
	}
	if now < s.AuctionEnd {
		return reject(OpSetInstructions, ReasonAuctionOpen, "auction ends at %d", s.AuctionEnd)
	}
	if now >= s.EndTime() {
		return reject(OpSetInstructions, ReasonWindowOver, "slot ended at %d", s.EndTime())
	}
	return nil
}

// ApplySetInstructions returns s with payload stored.
func ApplySetInstructions(s Slot, caller Address, payload []byte, now int64) (Slot, error) {
	if len(payload) == 0 {
		return s, reject(OpSetInstructions, ReasonEmptyPayload, "instructions are empty")
	}
	if err := ValidateSetInstructions(s, caller, now); err != nil {
		return s, err
	}
	out := s.Clone()
	out.Instructions = bytes.Clone(payload)
	return out, nil
}
