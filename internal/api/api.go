/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/slotmarket/internal/audit"
	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/bidding"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/gate"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/monitor"
	"github.com/friendsincode/slotmarket/internal/shift"
	"github.com/friendsincode/slotmarket/internal/telemetry"
	"github.com/friendsincode/slotmarket/internal/webhooks"
)

// Defaults are applied to shift requests that leave fields out.
type Defaults struct {
	SlotDuration  time.Duration
	ShiftDuration time.Duration
	AuctionWindow time.Duration
	Strategy      shift.Strategy
	MinBid        uint64
}

// API exposes HTTP handlers.
type API struct {
	jwtSecret []byte
	clock     ledger.Clock
	bidding   *bidding.Service
	shifts    *shift.Service
	gate      *gate.Gate
	monitors  *monitor.Manager
	auditSvc  *audit.Service
	webhooks  *webhooks.Service
	bus       events.Broker
	defaults  Defaults
	logger    zerolog.Logger
}

// New constructs the API.
func New(jwtSecret []byte, clock ledger.Clock, biddingSvc *bidding.Service, shiftSvc *shift.Service, g *gate.Gate, monitors *monitor.Manager, auditSvc *audit.Service, webhookSvc *webhooks.Service, bus events.Broker, defaults Defaults, logger zerolog.Logger) *API {
	return &API{
		jwtSecret: jwtSecret,
		clock:     clock,
		bidding:   biddingSvc,
		shifts:    shiftSvc,
		gate:      g,
		monitors:  monitors,
		auditSvc:  auditSvc,
		webhooks:  webhookSvc,
		bus:       bus,
		defaults:  defaults,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers API routes on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)
		r.Get("/time", a.handleTime)
		r.Get("/active-controller", a.handleActiveController)
		r.Get("/events", a.handleEvents)

		r.Get("/slots/{slotID}", a.handleSlotGet)
		r.Get("/slots/{slotID}/bids", a.handleSlotBids)
		r.Get("/owners/{owner}/slots", a.handleOwnerSlots)
		r.Get("/owners/{owner}/shifts", a.handleOwnerShifts)
		r.Get("/owners/{owner}/activity", a.handleOwnerActivity)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))

			pr.Post("/slots/{slotID}/bids", a.handleBidPlace)
			pr.Post("/slots/{slotID}/finalize", a.handleFinalize)
			pr.Put("/slots/{slotID}/instructions", a.handleInstructionsSet)

			pr.Post("/shifts", a.handleShiftStart)
			pr.Post("/shifts/top-up", a.handleShiftTopUp)

			pr.Post("/owners/{owner}/commands", a.handleCommand)
			pr.Post("/owners/{owner}/monitor", a.handleMonitorStart)
			pr.Delete("/owners/{owner}/monitor", a.handleMonitorStop)
			pr.Get("/monitors", a.handleMonitorsList)

			pr.Get("/owners/{owner}/webhooks", a.handleWebhooksList)
			pr.Post("/owners/{owner}/webhooks", a.handleWebhookCreate)
			pr.Delete("/owners/{owner}/webhooks/{webhookID}", a.handleWebhookDelete)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleTime(w http.ResponseWriter, r *http.Request) {
	now, err := a.clock.Now(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"now": now,
		"iso": time.UnixMilli(now).UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.All
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Debug().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

// writeServiceError maps service errors onto HTTP responses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var rejected *auction.RejectedError
	var failed *auction.TransactionFailedError

	switch {
	case errors.As(err, &rejected):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "rejected",
			"op":     rejected.Op,
			"reason": rejected.Reason,
			"detail": rejected.Detail,
		})
	case errors.As(err, &failed):
		body := map[string]any{
			"error":  "transaction_failed",
			"op":     failed.Op,
			"digest": failed.Digest,
			"reason": errorText(failed.Cause),
		}
		if failed.Latest != nil {
			now, nowErr := a.clock.Now(r.Context())
			if nowErr == nil {
				body["latest"] = newSlotView(*failed.Latest, now)
			}
		}
		writeJSON(w, http.StatusBadGateway, body)
	case errors.Is(err, auction.ErrAmbiguousState):
		writeError(w, http.StatusConflict, "ambiguous_state")
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "ledger_timeout")
	default:
		a.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// ownerParam parses the {owner} URL parameter, writing a 400 on failure.
func ownerParam(w http.ResponseWriter, r *http.Request) (auction.Address, bool) {
	owner, err := auction.ParseAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_owner")
		return "", false
	}
	return owner, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
