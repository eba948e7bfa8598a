/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auction

import (
	"errors"
	"fmt"
)

// Slot is a time slot resident on the ledger. Times are milliseconds since the
// Unix epoch as reported by the ledger clock; amounts are in the smallest
// currency unit.
type Slot struct {
	ID            string
	StartTime     int64
	DurationMs    int64
	TimeOwner     Address
	MinBid        uint64
	AuctionEnd    int64
	CurrentBidder Address
	CurrentBid    uint64
	Instructions  []byte
	Finalized     bool
	Claimed       bool
}

// EndTime is the exclusive end of the slot's live window.
func (s Slot) EndTime() int64 {
	return s.StartTime + s.DurationMs
}

// HasBid reports whether any bid has been accepted.
func (s Slot) HasBid() bool {
	return !s.CurrentBidder.IsZero()
}

// HasInstructions reports whether the winner has stored instructions.
func (s Slot) HasInstructions() bool {
	return len(s.Instructions) > 0
}

// Clone returns a deep copy of the slot.
func (s Slot) Clone() Slot {
	out := s
	if s.Instructions != nil {
		out.Instructions = append([]byte(nil), s.Instructions...)
	}
	return out
}

// Validate checks the structural invariants every ledger slot must satisfy.
func (s Slot) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("slot id is empty"))
	}
	if s.DurationMs <= 0 {
		errs = append(errs, fmt.Errorf("duration %dms must be positive", s.DurationMs))
	}
	if s.AuctionEnd > s.StartTime {
		errs = append(errs, fmt.Errorf("auction end %d after start %d", s.AuctionEnd, s.StartTime))
	}
	if s.TimeOwner.IsZero() {
		errs = append(errs, errors.New("time owner is empty"))
	}
	if s.HasBid() != (s.CurrentBid > 0) {
		errs = append(errs, fmt.Errorf("bidder %q inconsistent with bid %d", s.CurrentBidder, s.CurrentBid))
	}
	if s.HasBid() && s.CurrentBid < s.MinBid {
		errs = append(errs, fmt.Errorf("current bid %d below minimum %d", s.CurrentBid, s.MinBid))
	}
	return errors.Join(errs...)
}
