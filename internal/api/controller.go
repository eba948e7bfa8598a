/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/gate"
)

// maxCommandLength bounds chat command submissions.
const maxCommandLength = 2000

type controllerResponse struct {
	HasActiveSlot bool             `json:"hasActiveSlot"`
	Controller    *auction.Address `json:"controller"`
	SlotID        *string          `json:"slotId"`
	SlotStart     *int64           `json:"slotStart"`
	SlotEnd       *int64           `json:"slotEnd"`
	Instructions  *string          `json:"instructions"`
	CurrentTime   int64            `json:"currentTime"`
	Error         string           `json:"error,omitempty"`
}

func newControllerResponse(d gate.Decision) controllerResponse {
	resp := controllerResponse{CurrentTime: d.Now}
	if !d.HasActiveSlot {
		return resp
	}
	id, start, end := d.Slot.ID, d.Slot.StartTime, d.Slot.EndTime()
	resp.HasActiveSlot = true
	resp.SlotID = &id
	resp.SlotStart = &start
	resp.SlotEnd = &end
	if d.HasController() {
		controller := d.Controller
		resp.Controller = &controller
	}
	if d.Slot.HasInstructions() {
		text := string(d.Slot.Instructions)
		resp.Instructions = &text
	}
	return resp
}

// handleActiveController answers "who controls owner right now". A client
// supplied now is honoured for this read only.
func (a *API) handleActiveController(w http.ResponseWriter, r *http.Request) {
	owner, err := auction.ParseAddress(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_owner")
		return
	}

	var now int64
	if raw := r.URL.Query().Get("now"); raw != "" {
		now, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || now < 0 {
			writeError(w, http.StatusBadRequest, "invalid_now")
			return
		}
	} else {
		now, err = a.clock.Now(r.Context())
		if err != nil {
			a.writeServiceError(w, r, err)
			return
		}
	}

	decision, err := a.gate.ActiveSlot(r.Context(), owner, now)
	if errors.Is(err, auction.ErrAmbiguousState) {
		resp := newControllerResponse(decision)
		resp.Error = "ambiguous_state"
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newControllerResponse(decision))
}

type commandRequest struct {
	Text string `json:"text"`
}

// handleCommand accepts a command for owner's stream from its current
// controller only.
func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text_required")
		return
	}
	if len(text) > maxCommandLength {
		writeError(w, http.StatusRequestEntityTooLarge, "text_too_long")
		return
	}

	now, err := a.clock.Now(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	decision, err := a.gate.ActiveSlot(r.Context(), owner, now)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}

	caller := auth.CallerFromContext(r.Context())
	if caller.IsZero() || !decision.HasController() || decision.Controller != caller {
		writeError(w, http.StatusForbidden, "not_controller")
		return
	}

	a.bus.Publish(events.EventCommandIssued, events.Payload{
		"owner":      owner.String(),
		"controller": caller.String(),
		"slot_id":    decision.Slot.ID,
		"text":       text,
		"at":         now,
	})
	a.logger.Debug().
		Str("owner", owner.String()).
		Str("controller", caller.String()).
		Str("slot_id", decision.Slot.ID).
		Msg("command accepted")

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":      "accepted",
		"slotId":      decision.Slot.ID,
		"controller":  caller,
		"currentTime": now,
	})
}
