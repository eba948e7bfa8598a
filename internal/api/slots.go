/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/bidding"
	"github.com/friendsincode/slotmarket/internal/currency"
	"github.com/friendsincode/slotmarket/internal/ledger"
)

// slotView is the JSON form of a slot at one instant.
type slotView struct {
	ID                string          `json:"id"`
	Owner             auction.Address `json:"owner"`
	StartTime         int64           `json:"startTime"`
	EndTime           int64           `json:"endTime"`
	DurationMs        int64           `json:"durationMs"`
	AuctionEnd        int64           `json:"auctionEnd"`
	MinBid            uint64          `json:"minBid"`
	MinBidDisplay     string          `json:"minBidDisplay"`
	CurrentBid        uint64          `json:"currentBid"`
	CurrentBidDisplay string          `json:"currentBidDisplay"`
	CurrentBidder     auction.Address `json:"currentBidder,omitempty"`
	MinNextBid        uint64          `json:"minNextBid"`
	MinNextBidDisplay string          `json:"minNextBidDisplay"`
	Instructions      string          `json:"instructions,omitempty"`
	Finalized         bool            `json:"finalized"`
	Claimed           bool            `json:"claimed"`
	Phase             auction.Phase   `json:"phase"`
	Controller        auction.Address `json:"controller,omitempty"`
}

func newSlotView(s auction.Slot, now int64) slotView {
	next := auction.MinNextBid(s)
	v := slotView{
		ID:                s.ID,
		Owner:             s.TimeOwner,
		StartTime:         s.StartTime,
		EndTime:           s.EndTime(),
		DurationMs:        s.DurationMs,
		AuctionEnd:        s.AuctionEnd,
		MinBid:            s.MinBid,
		MinBidDisplay:     currency.FormatDisplay(s.MinBid),
		CurrentBid:        s.CurrentBid,
		CurrentBidDisplay: currency.FormatDisplay(s.CurrentBid),
		CurrentBidder:     s.CurrentBidder,
		MinNextBid:        next,
		MinNextBidDisplay: currency.FormatDisplay(next),
		Instructions:      string(s.Instructions),
		Finalized:         s.Finalized,
		Claimed:           s.Claimed,
		Phase:             auction.PhaseAt(s, now),
	}
	if controller, ok := auction.Controller(s, now); ok {
		v.Controller = controller
	}
	return v
}

func slotViews(slots []auction.Slot, now int64) []slotView {
	out := make([]slotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, newSlotView(s, now))
	}
	return out
}

type bidView struct {
	Bidder        auction.Address `json:"bidder"`
	Amount        uint64          `json:"amount"`
	AmountDisplay string          `json:"amountDisplay"`
	Timestamp     int64           `json:"timestamp"`
	Digest        string          `json:"digest,omitempty"`
}

func newBidViews(bids []ledger.BidEvent) []bidView {
	out := make([]bidView, 0, len(bids))
	for _, b := range bids {
		out = append(out, bidView{
			Bidder:        b.Bidder,
			Amount:        b.Amount,
			AmountDisplay: currency.FormatDisplay(b.Amount),
			Timestamp:     b.Timestamp,
			Digest:        b.Digest,
		})
	}
	return out
}

func receiptResponse(rc bidding.Receipt) map[string]any {
	return map[string]any{
		"slot":        newSlotView(rc.Slot, rc.Now),
		"digest":      rc.Digest,
		"currentTime": rc.Now,
	}
}

func (a *API) handleSlotGet(w http.ResponseWriter, r *http.Request) {
	slot, now, err := a.bidding.Snapshot(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":        newSlotView(slot, now),
		"currentTime": now,
	})
}

func (a *API) handleSlotBids(w http.ResponseWriter, r *http.Request) {
	bids, err := a.bidding.History(r.Context(), chi.URLParam(r, "slotID"), queryInt(r, "limit", 50))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": newBidViews(bids)})
}

func (a *API) handleOwnerSlots(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	slots, now, err := a.bidding.OwnerSlots(r.Context(), owner)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":       owner,
		"slots":       slotViews(slots, now),
		"currentTime": now,
	})
}

type bidRequest struct {
	Amount        *uint64 `json:"amount"`
	AmountDisplay string  `json:"amountDisplay"`
}

func (a *API) handleBidPlace(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var amount uint64
	switch {
	case req.Amount != nil:
		amount = *req.Amount
	case req.AmountDisplay != "":
		units, err := currency.ParseDisplay(req.AmountDisplay)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_amount")
			return
		}
		amount = units
	default:
		writeError(w, http.StatusBadRequest, "amount_required")
		return
	}

	rc, err := a.bidding.PlaceBid(r.Context(), chi.URLParam(r, "slotID"), auth.CallerFromContext(r.Context()), amount)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(rc))
}

func (a *API) handleFinalize(w http.ResponseWriter, r *http.Request) {
	rc, err := a.bidding.Finalize(r.Context(), chi.URLParam(r, "slotID"), auth.CallerFromContext(r.Context()))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(rc))
}

type instructionsRequest struct {
	Instructions string `json:"instructions"`
}

func (a *API) handleInstructionsSet(w http.ResponseWriter, r *http.Request) {
	var req instructionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	rc, err := a.bidding.SetInstructions(r.Context(), chi.URLParam(r, "slotID"), auth.CallerFromContext(r.Context()), []byte(req.Instructions))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse(rc))
}
