/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/audit"
	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
	"github.com/friendsincode/slotmarket/internal/bidding"
	"github.com/friendsincode/slotmarket/internal/db"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/gate"
	"github.com/friendsincode/slotmarket/internal/ledger/memory"
	"github.com/friendsincode/slotmarket/internal/models"
	"github.com/friendsincode/slotmarket/internal/monitor"
	"github.com/friendsincode/slotmarket/internal/shift"
	"github.com/friendsincode/slotmarket/internal/webhooks"
)

const t0 = int64(1_700_000_000_000)

var (
	secret = []byte("api-test-secret")
	owner  = auction.MustParseAddress("0xa11ce")
	bidder = auction.MustParseAddress("0xb0b")
	other  = auction.MustParseAddress("0xc4a1")
)

type harness struct {
	router   chi.Router
	ledger   *memory.Ledger
	clock    *atomic.Int64
	bus      *events.Bus
	auditSvc *audit.Service
	monitors *monitor.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	clock := &atomic.Int64{}
	clock.Store(t0)
	l := memory.NewWithClock(clock.Load)
	bus := events.NewBus()
	logger := zerolog.Nop()

	g := gate.New(l, nil, logger)
	monitors := monitor.NewManager(g, l, bus, time.Hour, logger)
	t.Cleanup(monitors.StopAll)
	auditSvc := audit.NewService(database, bus, logger)

	a := New(
		secret,
		l,
		bidding.NewService(l, bus, nil, logger),
		shift.NewService(l, shift.NewPlanner(64, time.Second), database, bus, nil, logger),
		g,
		monitors,
		auditSvc,
		webhooks.NewService(database, bus, logger),
		bus,
		Defaults{
			SlotDuration:  time.Minute,
			ShiftDuration: 4 * time.Minute,
			AuctionWindow: 10 * time.Minute,
			Strategy:      shift.StrategyUniform,
			MinBid:        10_000,
		},
		logger,
	)
	r := chi.NewRouter()
	a.Routes(r)

	return &harness{router: r, ledger: l, clock: clock, bus: bus, auditSvc: auditSvc, monitors: monitors}
}

func token(t *testing.T, addr auction.Address) string {
	t.Helper()
	tok, err := auth.Issue(secret, auth.Claims{Address: addr}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (h *harness) do(t *testing.T, method, path string, caller auction.Address, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if !caller.IsZero() {
		req.Header.Set("Authorization", "Bearer "+token(t, caller))
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)

	var out map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %q: %v", rr.Body.String(), err)
		}
	}
	return rr, out
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d: %s", rr.Code, want, rr.Body.String())
	}
}

func expectString(t *testing.T, m map[string]any, key, want string) {
	t.Helper()
	if got, _ := m[key].(string); got != want {
		t.Fatalf("%s = %v, want %q", key, m[key], want)
	}
}

func expectNumber(t *testing.T, m map[string]any, key string, want int64) {
	t.Helper()
	got, ok := m[key].(float64)
	if !ok || int64(got) != want {
		t.Fatalf("%s = %v, want %d", key, m[key], want)
	}
}

func expectBool(t *testing.T, m map[string]any, key string, want bool) {
	t.Helper()
	if got, ok := m[key].(bool); !ok || got != want {
		t.Fatalf("%s = %v, want %v", key, m[key], want)
	}
}

func expectNull(t *testing.T, m map[string]any, key string) {
	t.Helper()
	if m[key] != nil {
		t.Fatalf("%s = %v, want null", key, m[key])
	}
}

func object(t *testing.T, m map[string]any, key string) map[string]any {
	t.Helper()
	v, ok := m[key].(map[string]any)
	if !ok {
		t.Fatalf("%s = %v, want object", key, m[key])
	}
	return v
}

func array(t *testing.T, m map[string]any, key string, wantLen int) []any {
	t.Helper()
	v, ok := m[key].([]any)
	if !ok || len(v) != wantLen {
		t.Fatalf("%s = %v, want %d entries", key, m[key], wantLen)
	}
	return v
}

// openSlot is in bidding for the next ten minutes and starts at t0+20m.
func openSlot(id string) auction.Slot {
	return auction.Slot{
		ID:         id,
		StartTime:  t0 + 20*60_000,
		DurationMs: 60_000,
		TimeOwner:  owner,
		MinBid:     10_000,
		AuctionEnd: t0 + 10*60_000,
	}
}

// liveSlot is live at t0 and won by bidder.
func liveSlot(id string) auction.Slot {
	return auction.Slot{
		ID:            id,
		StartTime:     t0 - 30_000,
		DurationMs:    60_000,
		TimeOwner:     owner,
		MinBid:        10_000,
		AuctionEnd:    t0 - 60_000,
		CurrentBidder: bidder,
		CurrentBid:    25_000,
	}
}

func TestHealthAndTime(t *testing.T) {
	h := newHarness(t)

	rr, body := h.do(t, http.MethodGet, "/api/v1/health", "", nil)
	expectCode(t, rr, http.StatusOK)
	expectString(t, body, "status", "ok")

	rr, body = h.do(t, http.MethodGet, "/api/v1/time", "", nil)
	expectCode(t, rr, http.StatusOK)
	expectNumber(t, body, "now", t0)
}

func TestActiveController(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(liveSlot("0x1"))

	rr, body := h.do(t, http.MethodGet, "/api/v1/active-controller?owner="+owner.String(), "", nil)
	expectCode(t, rr, http.StatusOK)
	expectBool(t, body, "hasActiveSlot", true)
	expectString(t, body, "controller", bidder.String())
	expectString(t, body, "slotId", "0x1")
	expectNumber(t, body, "slotEnd", t0+30_000)
	expectNull(t, body, "instructions")

	// A client supplied instant after the slot ends sees nobody in control.
	rr, body = h.do(t, http.MethodGet, "/api/v1/active-controller?owner="+owner.String()+"&now=1700000030000", "", nil)
	expectCode(t, rr, http.StatusOK)
	expectBool(t, body, "hasActiveSlot", false)
	expectNull(t, body, "controller")
	expectNull(t, body, "slotId")

	rr, _ = h.do(t, http.MethodGet, "/api/v1/active-controller?owner=nope", "", nil)
	expectCode(t, rr, http.StatusBadRequest)
}

func TestActiveControllerAmbiguousFailsClosed(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(liveSlot("0x1"))
	overlap := liveSlot("0x2")
	overlap.CurrentBidder = other
	h.ledger.Put(overlap)

	rr, body := h.do(t, http.MethodGet, "/api/v1/active-controller?owner="+owner.String(), "", nil)
	expectCode(t, rr, http.StatusConflict)
	expectString(t, body, "error", "ambiguous_state")
	expectBool(t, body, "hasActiveSlot", false)
	expectNull(t, body, "controller")
}

func TestSlotGetAndNotFound(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(openSlot("0x1"))

	rr, body := h.do(t, http.MethodGet, "/api/v1/slots/0x1", "", nil)
	expectCode(t, rr, http.StatusOK)
	slot := object(t, body, "slot")
	expectString(t, slot, "phase", string(auction.PhaseBiddingOpen))
	expectString(t, slot, "minBidDisplay", "1.0000")
	expectNumber(t, slot, "minNextBid", 10_000)

	rr, body = h.do(t, http.MethodGet, "/api/v1/slots/0x99", "", nil)
	expectCode(t, rr, http.StatusNotFound)
	expectString(t, body, "error", "not_found")
}

func TestPlaceBidFlow(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(openSlot("0x1"))

	rr, _ := h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", "", map[string]any{"amount": 15_000})
	expectCode(t, rr, http.StatusUnauthorized)

	rr, body := h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", bidder, map[string]any{"amountDisplay": "1.5"})
	expectCode(t, rr, http.StatusOK)
	slot := object(t, body, "slot")
	expectNumber(t, slot, "currentBid", 15_000)
	expectString(t, slot, "currentBidder", bidder.String())
	expectNumber(t, slot, "minNextBid", 15_001)

	rr, body = h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", other, map[string]any{"amount": 15_000})
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "error", "rejected")
	expectString(t, body, "reason", string(auction.ReasonNotAboveCurrent))

	rr, body = h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", other, map[string]any{"amountDisplay": "1.00001"})
	expectCode(t, rr, http.StatusBadRequest)
	expectString(t, body, "error", "invalid_amount")

	rr, body = h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", other, map[string]any{})
	expectCode(t, rr, http.StatusBadRequest)
	expectString(t, body, "error", "amount_required")

	rr, body = h.do(t, http.MethodGet, "/api/v1/slots/0x1/bids", "", nil)
	expectCode(t, rr, http.StatusOK)
	bids := array(t, body, "bids", 1)
	expectString(t, bids[0].(map[string]any), "amountDisplay", "1.5000")
}

func TestTransactionFailureReturnsLatestState(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(openSlot("0x1"))
	h.ledger.FailNextSubmit(errors.New("rpc unavailable"))

	rr, body := h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", bidder, map[string]any{"amount": 20_000})
	expectCode(t, rr, http.StatusBadGateway)
	expectString(t, body, "error", "transaction_failed")
	if reason, _ := body["reason"].(string); !strings.Contains(reason, "rpc unavailable") {
		t.Fatalf("reason = %q", reason)
	}
	expectNumber(t, object(t, body, "latest"), "currentBid", 0)
}

func TestFinalizeAndInstructions(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(openSlot("0x1"))

	rr, _ := h.do(t, http.MethodPost, "/api/v1/slots/0x1/bids", bidder, map[string]any{"amount": 20_000})
	expectCode(t, rr, http.StatusOK)

	rr, body := h.do(t, http.MethodPost, "/api/v1/slots/0x1/finalize", other, nil)
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "reason", string(auction.ReasonTooEarly))

	h.clock.Store(t0 + 10*60_000)
	rr, body = h.do(t, http.MethodPost, "/api/v1/slots/0x1/finalize", other, nil)
	expectCode(t, rr, http.StatusOK)
	expectBool(t, object(t, body, "slot"), "finalized", true)

	rr, body = h.do(t, http.MethodPut, "/api/v1/slots/0x1/instructions", other, map[string]any{"instructions": "play jazz"})
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "reason", string(auction.ReasonNotController))

	rr, body = h.do(t, http.MethodPut, "/api/v1/slots/0x1/instructions", bidder, map[string]any{"instructions": "play jazz"})
	expectCode(t, rr, http.StatusOK)
	expectString(t, object(t, body, "slot"), "instructions", "play jazz")
}

func TestStartShiftWithDefaults(t *testing.T) {
	h := newHarness(t)

	rr, body := h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{})
	expectCode(t, rr, http.StatusCreated)
	expectNumber(t, body, "slotCount", 4)
	expectString(t, body, "status", string(models.BatchStatusSubmitted))

	first := int64(body["firstStart"].(float64))
	if first < t0+11*60_000 || first%60_000 != 0 {
		t.Fatalf("firstStart = %d, want a minute boundary at or after %d", first, t0+11*60_000)
	}
	expectNumber(t, body, "auctionEnd", t0+10*60_000)

	rr, body = h.do(t, http.MethodGet, "/api/v1/owners/"+owner.String()+"/slots", "", nil)
	expectCode(t, rr, http.StatusOK)
	array(t, body, "slots", 4)

	rr, body = h.do(t, http.MethodPost, "/api/v1/shifts/top-up", owner, map[string]any{"additionalMinutes": 2})
	expectCode(t, rr, http.StatusCreated)
	expectNumber(t, body, "firstStart", first+4*60_000)

	rr, body = h.do(t, http.MethodGet, "/api/v1/owners/"+owner.String()+"/shifts", "", nil)
	expectCode(t, rr, http.StatusOK)
	array(t, body, "shifts", 2)
}

func TestTopUpFollowsLatestSlotWithoutGap(t *testing.T) {
	h := newHarness(t)
	// Ends at t0+30s, sooner than one default slot from now.
	h.ledger.Put(liveSlot("0x1"))

	rr, body := h.do(t, http.MethodPost, "/api/v1/shifts/top-up", owner, map[string]any{
		"additionalMinutes":    1,
		"auctionWindowMinutes": 0,
	})
	expectCode(t, rr, http.StatusCreated)
	expectNumber(t, body, "firstStart", t0+30_000)
	expectNumber(t, body, "endTime", t0+90_000)
	expectNumber(t, body, "auctionEnd", t0)
}

func TestStartShiftRejectsBadInput(t *testing.T) {
	h := newHarness(t)

	rr, body := h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{"shiftMinutes": 10, "slotSeconds": 420})
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "reason", string(auction.ReasonUnevenShift))

	rr, body = h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{"strategy": "dutch"})
	expectCode(t, rr, http.StatusBadRequest)
	expectString(t, body, "error", "invalid_strategy")

	rr, body = h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{"startFrom": t0 + 60_000})
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "reason", string(auction.ReasonAuctionAfterStart))

	rr, body = h.do(t, http.MethodPost, "/api/v1/shifts/top-up", owner, map[string]any{})
	expectCode(t, rr, http.StatusBadRequest)
	expectString(t, body, "error", "additional_minutes_required")
}

func TestPerSlotWindowInsideClockMarginRejected(t *testing.T) {
	h := newHarness(t)

	rr, body := h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{
		"strategy":             "per_slot",
		"auctionWindowMinutes": 0,
	})
	expectCode(t, rr, http.StatusUnprocessableEntity)
	expectString(t, body, "reason", string(auction.ReasonAuctionAfterStart))

	slots, err := h.ledger.QuerySlotsByOwner(context.Background(), owner)
	if err != nil || len(slots) != 0 {
		t.Fatalf("ledger slots = %d, %v; want none submitted", len(slots), err)
	}

	rr, _ = h.do(t, http.MethodPost, "/api/v1/shifts", owner, map[string]any{
		"strategy":             "per_slot",
		"auctionWindowMinutes": 1,
	})
	expectCode(t, rr, http.StatusCreated)
}

func TestCommandRequiresController(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(liveSlot("0x1"))
	sub := h.bus.Subscribe(events.EventCommandIssued)
	defer h.bus.Unsubscribe(events.EventCommandIssued, sub)

	path := "/api/v1/owners/" + owner.String() + "/commands"

	rr, body := h.do(t, http.MethodPost, path, other, map[string]any{"text": "!skip"})
	expectCode(t, rr, http.StatusForbidden)
	expectString(t, body, "error", "not_controller")

	rr, body = h.do(t, http.MethodPost, path, bidder, map[string]any{"text": "  "})
	expectCode(t, rr, http.StatusBadRequest)
	expectString(t, body, "error", "text_required")

	rr, _ = h.do(t, http.MethodPost, path, bidder, map[string]any{"text": "!skip"})
	expectCode(t, rr, http.StatusAccepted)

	select {
	case payload := <-sub:
		if payload["text"] != "!skip" || payload["controller"] != bidder.String() {
			t.Fatalf("command payload = %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("command.issued not published")
	}

	h.clock.Store(t0 + 30_000)
	rr, _ = h.do(t, http.MethodPost, path, bidder, map[string]any{"text": "!skip"})
	expectCode(t, rr, http.StatusForbidden)
}

func TestCommandDeniedOnAmbiguousState(t *testing.T) {
	h := newHarness(t)
	h.ledger.Put(liveSlot("0x1"))
	h.ledger.Put(liveSlot("0x2"))

	rr, body := h.do(t, http.MethodPost, "/api/v1/owners/"+owner.String()+"/commands", bidder, map[string]any{"text": "hi"})
	expectCode(t, rr, http.StatusConflict)
	expectString(t, body, "error", "ambiguous_state")
}

func TestMonitorLifecycle(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/owners/" + owner.String() + "/monitor"

	rr, body := h.do(t, http.MethodPost, path, other, nil)
	expectCode(t, rr, http.StatusForbidden)
	expectString(t, body, "error", "owner_only")

	rr, body = h.do(t, http.MethodPost, path, owner, nil)
	expectCode(t, rr, http.StatusCreated)
	expectString(t, body, "owner", owner.String())

	rr, body = h.do(t, http.MethodGet, "/api/v1/monitors", owner, nil)
	expectCode(t, rr, http.StatusOK)
	array(t, body, "monitors", 1)

	rr, _ = h.do(t, http.MethodDelete, path, owner, nil)
	expectCode(t, rr, http.StatusNoContent)

	rr, body = h.do(t, http.MethodDelete, path, owner, nil)
	expectCode(t, rr, http.StatusNotFound)
	expectString(t, body, "error", "not_watching")
}

func TestOwnerActivity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, entry := range []*models.AuditLog{
		{Action: models.AuditActionBidPlaced, Actor: bidder.String(), Owner: owner.String(), SlotID: "0x1", Amount: 15_000},
		{Action: models.AuditActionBidPlaced, Actor: bidder.String(), Owner: other.String(), SlotID: "0x2"},
	} {
		if err := h.auditSvc.Log(ctx, entry); err != nil {
			t.Fatalf("audit log: %v", err)
		}
	}

	rr, body := h.do(t, http.MethodGet, "/api/v1/owners/"+owner.String()+"/activity", "", nil)
	expectCode(t, rr, http.StatusOK)
	expectNumber(t, body, "total", 1)
	entries := array(t, body, "activity", 1)
	expectString(t, entries[0].(map[string]any), "slot_id", "0x1")
}

func TestWebhookRegistration(t *testing.T) {
	h := newHarness(t)
	path := "/api/v1/owners/" + owner.String() + "/webhooks"

	rr, _ := h.do(t, http.MethodPost, path, bidder, map[string]any{"url": "https://example.com/hook"})
	expectCode(t, rr, http.StatusForbidden)

	rr, _ = h.do(t, http.MethodPost, path, owner, map[string]any{"url": "gopher://x"})
	expectCode(t, rr, http.StatusBadRequest)

	rr, _ = h.do(t, http.MethodPost, path, owner, map[string]any{"url": "https://example.com/hook", "events": "bid.placed,nope"})
	expectCode(t, rr, http.StatusBadRequest)

	rr, body := h.do(t, http.MethodPost, path, owner, map[string]any{"url": "https://example.com/hook", "events": "bid.placed"})
	expectCode(t, rr, http.StatusCreated)
	if s, _ := body["secret"].(string); s == "" {
		t.Fatal("secret missing from create response")
	}
	hook := object(t, body, "webhook")
	if _, ok := hook["secret"]; ok {
		t.Fatal("webhook object exposes its secret")
	}
	id := hook["id"].(string)

	rr, body = h.do(t, http.MethodGet, path, owner, nil)
	expectCode(t, rr, http.StatusOK)
	array(t, body, "webhooks", 1)

	rr, _ = h.do(t, http.MethodDelete, path+"/"+id, owner, nil)
	expectCode(t, rr, http.StatusNoContent)
	rr, _ = h.do(t, http.MethodDelete, path+"/"+id, owner, nil)
	expectCode(t, rr, http.StatusNotFound)
}
