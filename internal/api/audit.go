/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/slotmarket/internal/audit"
	"github.com/friendsincode/slotmarket/internal/models"
)

// handleOwnerActivity returns audit entries touching owner's slots.
func (a *API) handleOwnerActivity(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	filters := parseAuditFilters(r)
	filters.Owner = owner.String()

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("failed to query audit logs")
		writeError(w, http.StatusInternalServerError, "query_failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"owner":    owner,
		"activity": logs,
		"total":    total,
		"limit":    filters.Limit,
		"offset":   filters.Offset,
	})
}

func parseAuditFilters(r *http.Request) audit.QueryFilters {
	q := r.URL.Query()
	filters := audit.QueryFilters{
		SlotID: q.Get("slot_id"),
		Actor:  q.Get("actor"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if filters.Limit == 0 || filters.Limit > 500 {
		filters.Limit = 50
	}
	if action := q.Get("action"); action != "" {
		act := models.AuditAction(action)
		filters.Action = &act
	}
	if raw := q.Get("start_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.StartTime = &t
		}
	}
	if raw := q.Get("end_time"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filters.EndTime = &t
		}
	}
	return filters
}
