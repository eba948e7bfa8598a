/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auction

// Phase is the derived lifecycle state of a slot at an instant.
type Phase string

const (
	PhaseBiddingOpen   Phase = "bidding_open"
	PhaseBiddingClosed Phase = "bidding_closed"
	PhaseLive          Phase = "live"
	PhaseCompleted     Phase = "completed"
)

// PhaseAt derives the phase of s at now. Phases partition the time axis: the
// live window takes priority, then the open auction, then the gap before the
// slot starts. Anything else is completed.
func PhaseAt(s Slot, now int64) Phase {
	switch {
	case now >= s.StartTime && now < s.EndTime():
		return PhaseLive
	case now < s.AuctionEnd:
		return PhaseBiddingOpen
	case now < s.StartTime:
		return PhaseBiddingClosed
	default:
		return PhaseCompleted
	}
}

// HasControl reports whether addr controls the slot at now.
func HasControl(s Slot, addr Address, now int64) bool {
	if addr.IsZero() {
		return false
	}
	return PhaseAt(s, now) == PhaseLive && addr == s.CurrentBidder
}

// Controller returns the winning bidder if the slot is live at now.
func Controller(s Slot, now int64) (Address, bool) {
	if PhaseAt(s, now) != PhaseLive || !s.HasBid() {
		return "", false
	}
	return s.CurrentBidder, true
}
