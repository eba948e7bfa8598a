/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package bidding

import (
	"context"
	"bytes"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/ledger/memory"
)

const t0 = int64(1_700_000_000_000)

var (
	owner  = auction.MustParseAddress("0xa11ce")
	bidder = auction.MustParseAddress("0xb1d")
	rival  = auction.MustParseAddress("0x7a1")
)

type harness struct {
	svc    *Service
	ledger *memory.Ledger
	bus    *events.Bus
	clock  *atomic.Int64
	slotID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := &atomic.Int64{}
	clock.Store(t0)
	l := memory.NewWithClock(clock.Load)

	res, err := l.SubmitCreateSlot(context.Background(), ledger.CreateSlotRequest{
		Owner:             owner,
		StartTime:         t0 + 2000,
		DurationMs:        500,
		MinBid:            100,
		AuctionDurationMs: 1000,
	})
	if err != nil {
		t.Fatalf("create slot: %v", err)
	}

	bus := events.NewBus()
	return &harness{
		svc:    NewService(l, bus, nil, zerolog.Nop()),
		ledger: l,
		bus:    bus,
		clock:  clock,
		slotID: res.CreatedSlotIDs[0],
	}
}

func (h *harness) at(offset int64) {
	h.clock.Store(t0 + offset)
}

func requireRejected(t *testing.T, err error, want auction.Reason) {
	t.Helper()
	reason, ok := auction.IsRejected(err)
	if !ok {
		t.Fatalf("expected rejection, got %v", err)
	}
	if reason != want {
		t.Fatalf("reason = %s, want %s", reason, want)
	}
}

func mustResult(t *testing.T, r Receipt, err error) Receipt {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func TestAuctionLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bids := h.bus.Subscribe(events.EventBidPlaced)

	h.at(10)
	_, err := h.svc.PlaceBid(ctx, h.slotID, bidder, 50)
	requireRejected(t, err, auction.ReasonBelowMinimum)

	r, err := h.svc.PlaceBid(ctx, h.slotID, bidder, 100)
	r = mustResult(t, r, err)
	if r.Slot.CurrentBid != 100 || r.Slot.CurrentBidder != bidder || r.Digest == "" {
		t.Fatalf("first bid result = %+v", r)
	}

	h.at(20)
	_, err = h.svc.PlaceBid(ctx, h.slotID, rival, 100)
	requireRejected(t, err, auction.ReasonNotAboveCurrent)

	h.at(900)
	r, err = h.svc.PlaceBid(ctx, h.slotID, bidder, 150)
	mustResult(t, r, err)

	h.at(1500)
	_, err = h.svc.PlaceBid(ctx, h.slotID, rival, 200)
	requireRejected(t, err, auction.ReasonAuctionClosed)

	r, err = h.svc.Finalize(ctx, h.slotID, rival)
	r = mustResult(t, r, err)
	if !r.Slot.Finalized || r.Slot.CurrentBid != 150 {
		t.Fatalf("finalized slot = %+v", r.Slot)
	}

	_, err = h.svc.Finalize(ctx, h.slotID, rival)
	requireRejected(t, err, auction.ReasonAlreadyFinalized)

	h.at(2100)
	r, err = h.svc.SetInstructions(ctx, h.slotID, bidder, []byte("do X"))
	r = mustResult(t, r, err)
	if !bytes.Equal(r.Slot.Instructions, []byte("do X")) {
		t.Fatalf("instructions = %q", r.Slot.Instructions)
	}

	_, err = h.svc.SetInstructions(ctx, h.slotID, rival, []byte("do Y"))
	requireRejected(t, err, auction.ReasonNotController)

	history, err := h.svc.History(ctx, h.slotID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].Amount != 150 {
		t.Fatalf("history = %+v", history)
	}

	if n := len(bids); n != 2 {
		t.Fatalf("bid.placed events = %d, want 2", n)
	}
}

func TestFinalizeTooEarly(t *testing.T) {
	h := newHarness(t)
	h.at(999)
	_, err := h.svc.Finalize(context.Background(), h.slotID, bidder)
	requireRejected(t, err, auction.ReasonTooEarly)
}

func TestMissingSlot(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.PlaceBid(context.Background(), "0xdead", bidder, 500)
	if !errors.Is(err, auction.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

// racingLedger lets a rival bid land between local validation and submission.
type racingLedger struct {
	*memory.Ledger
	rivalAmount uint64
}

func (r *racingLedger) SubmitBid(ctx context.Context, slotID string, amount uint64, b auction.Address) (ledger.TxResult, error) {
	if _, err := r.Ledger.SubmitBid(ctx, slotID, r.rivalAmount, rival); err != nil {
		return ledger.TxResult{}, err
	}
	return r.Ledger.SubmitBid(ctx, slotID, amount, b)
}

func TestConcurrentOutbidSurfacesLedgerState(t *testing.T) {
	h := newHarness(t)
	h.at(100)
	svc := NewService(&racingLedger{Ledger: h.ledger, rivalAmount: 300}, h.bus, nil, zerolog.Nop())
	failures := h.bus.Subscribe(events.EventTxFailed)

	_, err := svc.PlaceBid(context.Background(), h.slotID, bidder, 200)
	var txErr *auction.TransactionFailedError
	if !errors.As(err, &txErr) || !errors.Is(err, ledger.ErrTxFailed) {
		t.Fatalf("err = %v, want a failed ledger transaction", err)
	}
	if txErr.Op != auction.OpBid || txErr.Latest == nil {
		t.Fatalf("tx error = %+v", txErr)
	}
	if txErr.Latest.CurrentBidder != rival || txErr.Latest.CurrentBid != 300 {
		t.Fatalf("latest = %s/%d, want the rival's 300", txErr.Latest.CurrentBidder, txErr.Latest.CurrentBid)
	}
	if n := len(failures); n != 1 {
		t.Fatalf("tx.failed events = %d, want 1", n)
	}
}

func TestTransportFailureIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.at(100)
	h.ledger.FailNextSubmit(errors.New("relay timeout"))

	_, err := h.svc.PlaceBid(context.Background(), h.slotID, bidder, 100)
	var txErr *auction.TransactionFailedError
	if !errors.As(err, &txErr) || txErr.Latest == nil {
		t.Fatalf("err = %v, want failure with latest state", err)
	}
	if txErr.Latest.HasBid() {
		t.Fatalf("latest = %+v, want no bid", txErr.Latest)
	}

	slot, err := h.ledger.QuerySlot(context.Background(), h.slotID)
	if err != nil {
		t.Fatalf("QuerySlot: %v", err)
	}
	if slot.HasBid() {
		t.Fatal("failed submission was retried behind the caller")
	}
}

func TestOwnerSlots(t *testing.T) {
	h := newHarness(t)
	slots, now, err := h.svc.OwnerSlots(context.Background(), owner)
	if err != nil {
		t.Fatalf("OwnerSlots: %v", err)
	}
	if now != t0 || len(slots) != 1 {
		t.Fatalf("OwnerSlots = %d slots at %d", len(slots), now)
	}
}
