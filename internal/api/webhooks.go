/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/webhooks"
)

type webhookRequest struct {
	URL    string `json:"url"`
	Events string `json:"events"`
}

// webhookOwner resolves the owner path param and requires the caller to be
// that owner.
func (a *API) webhookOwner(w http.ResponseWriter, r *http.Request) (auction.Address, bool) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return "", false
	}
	if auth.CallerFromContext(r.Context()) != owner {
		writeError(w, http.StatusForbidden, "owner_only")
		return "", false
	}
	return owner, true
}

func (a *API) handleWebhooksList(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.webhookOwner(w, r)
	if !ok {
		return
	}
	targets, err := a.webhooks.List(r.Context(), owner.String())
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to list webhooks")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"webhooks": targets})
}

// handleWebhookCreate registers a target. The signing secret is returned once.
func (a *API) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.webhookOwner(w, r)
	if !ok {
		return
	}
	var req webhookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	target, err := a.webhooks.Register(r.Context(), owner.String(), req.URL, req.Events)
	switch {
	case errors.Is(err, webhooks.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "invalid_url")
		return
	case errors.Is(err, webhooks.ErrUnknownEvent):
		writeError(w, http.StatusBadRequest, "invalid_events")
		return
	case err != nil:
		a.logger.Error().Err(err).Msg("failed to register webhook")
		writeError(w, http.StatusInternalServerError, "create_failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"webhook": target,
		"secret":  target.Secret,
	})
}

func (a *API) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	owner, ok := a.webhookOwner(w, r)
	if !ok {
		return
	}
	err := a.webhooks.Delete(r.Context(), owner.String(), chi.URLParam(r, "webhookID"))
	switch {
	case errors.Is(err, webhooks.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
		return
	case err != nil:
		a.logger.Error().Err(err).Msg("failed to delete webhook")
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
