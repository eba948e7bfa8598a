/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/currency"
	"github.com/friendsincode/slotmarket/internal/models"
	"github.com/friendsincode/slotmarket/internal/shift"
)

// shiftRequest carries the optional overrides accepted by both shift
// endpoints. Missing fields fall back to Defaults.
type shiftRequest struct {
	ShiftMinutes         *int   `json:"shiftMinutes"`
	AdditionalMinutes    *int   `json:"additionalMinutes"`
	SlotSeconds          *int   `json:"slotSeconds"`
	MinBidDisplay        string `json:"minBidDisplay"`
	AuctionWindowMinutes *int   `json:"auctionWindowMinutes"`
	StartFrom            *int64 `json:"startFrom"`
	Strategy             string `json:"strategy"`
}

// resolved is a shiftRequest with defaults applied.
type resolved struct {
	duration time.Duration
	slot     time.Duration
	window   time.Duration
	minBid   uint64
	strategy shift.Strategy
	start    *int64
}

func (a *API) resolveShift(req shiftRequest, minutes *int) (resolved, string) {
	out := resolved{
		duration: a.defaults.ShiftDuration,
		slot:     a.defaults.SlotDuration,
		window:   a.defaults.AuctionWindow,
		minBid:   a.defaults.MinBid,
		strategy: a.defaults.Strategy,
		start:    req.StartFrom,
	}
	if minutes != nil {
		if *minutes <= 0 {
			return out, "invalid_duration"
		}
		out.duration = time.Duration(*minutes) * time.Minute
	}
	if req.SlotSeconds != nil {
		if *req.SlotSeconds <= 0 {
			return out, "invalid_slot_seconds"
		}
		out.slot = time.Duration(*req.SlotSeconds) * time.Second
	}
	if req.AuctionWindowMinutes != nil {
		if *req.AuctionWindowMinutes < 0 {
			return out, "invalid_auction_window"
		}
		out.window = time.Duration(*req.AuctionWindowMinutes) * time.Minute
	}
	if req.MinBidDisplay != "" {
		units, err := currency.ParseDisplay(req.MinBidDisplay)
		if err != nil {
			return out, "invalid_min_bid"
		}
		out.minBid = units
	}
	if req.Strategy != "" {
		strategy, err := shift.ParseStrategy(req.Strategy)
		if err != nil {
			return out, "invalid_strategy"
		}
		out.strategy = strategy
	}
	return out, ""
}

// defaultStart is the planner's earliest start, measured one slot past now so
// a ledger clock read taken later by the shift service still accepts it.
func (a *API) defaultStart(now int64, opts resolved) int64 {
	return a.shifts.Planner().EarliestStart(now+opts.slot.Milliseconds(), opts.window, opts.slot, opts.strategy)
}

func (a *API) handleShiftStart(w http.ResponseWriter, r *http.Request) {
	var req shiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	opts, code := a.resolveShift(req, req.ShiftMinutes)
	if code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	start := int64(0)
	if opts.start != nil {
		start = *opts.start
	} else {
		now, err := a.clock.Now(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
		start = a.defaultStart(now, opts)
	}

	batch, err := a.shifts.StartShift(r.Context(), shift.ShiftRequest{
		Owner:         auth.CallerFromContext(r.Context()),
		StartFrom:     start,
		ShiftDuration: opts.duration,
		SlotDuration:  opts.slot,
		MinBid:        opts.minBid,
		AuctionWindow: opts.window,
		Strategy:      opts.strategy,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse(batch))
}

func (a *API) handleShiftTopUp(w http.ResponseWriter, r *http.Request) {
	var req shiftRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.AdditionalMinutes == nil {
		writeError(w, http.StatusBadRequest, "additional_minutes_required")
		return
	}
	opts, code := a.resolveShift(req, req.AdditionalMinutes)
	if code != "" {
		writeError(w, http.StatusBadRequest, code)
		return
	}

	// Without startFrom the planner anchors at the owner's latest slot, or at
	// its earliest valid start when that slot ends too soon.
	notBefore := int64(0)
	if opts.start != nil {
		notBefore = *opts.start
	}

	batch, err := a.shifts.TopUp(r.Context(), shift.TopUpRequest{
		Owner:              auth.CallerFromContext(r.Context()),
		AdditionalDuration: opts.duration,
		SlotDuration:       opts.slot,
		MinBid:             opts.minBid,
		AuctionWindow:      opts.window,
		Strategy:           opts.strategy,
		NotBefore:          notBefore,
	})
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, batchResponse(batch))
}

func (a *API) handleOwnerShifts(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	batches, err := a.shifts.ListBatches(r.Context(), owner, queryInt(r, "limit", 100))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	out := make([]map[string]any, 0, len(batches))
	for i := range batches {
		out = append(out, batchResponse(&batches[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner, "shifts": out})
}

func batchResponse(b *models.ShiftBatch) map[string]any {
	return map[string]any{
		"id":            b.ID,
		"owner":         b.Owner,
		"kind":          b.Kind,
		"strategy":      b.Strategy,
		"status":        b.Status,
		"firstStart":    b.FirstStart,
		"endTime":       b.EndTime,
		"slotDuration":  b.SlotDurationMs,
		"slotCount":     b.SlotCount,
		"minBid":        b.MinBid,
		"minBidDisplay": currency.FormatDisplay(b.MinBid),
		"auctionEnd":    b.AuctionEnd,
		"digest":        b.Digest,
		"slotIds":       b.SlotIDs,
		"createdAt":     b.CreatedAt,
	}
}
