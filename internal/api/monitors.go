/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"

	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/registry"
)

// handleMonitorStart starts a controller-change watcher. Only the owner may
// watch their own stream.
func (a *API) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	if auth.CallerFromContext(r.Context()) != owner {
		writeError(w, http.StatusForbidden, "owner_only")
		return
	}
	writeJSON(w, http.StatusCreated, a.monitors.Watch(owner))
}

func (a *API) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	if auth.CallerFromContext(r.Context()) != owner {
		writeError(w, http.StatusForbidden, "owner_only")
		return
	}
	if err := a.monitors.Unwatch(owner); err != nil {
		if errors.Is(err, registry.ErrNotRunning) {
			writeError(w, http.StatusNotFound, "not_watching")
			return
		}
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleMonitorsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"monitors": a.monitors.List()})
}
