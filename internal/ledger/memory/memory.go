/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package memory is an in-process ledger backend. It applies the same
// acceptance rules as the on-chain time slot module and serialises every
// mutation, so it can stand in for the chain in development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/ledger"
)

// Ledger is a mutex-guarded slot store.
type Ledger struct {
	mu       sync.Mutex
	slots    map[string]auction.Slot
	bids     map[string][]ledger.BidEvent
	seq      uint64
	now      func() int64
	failNext error
}

var _ ledger.Adapter = (*Ledger)(nil)

// New creates an empty ledger driven by the wall clock.
func New() *Ledger {
	return &Ledger{
		slots: make(map[string]auction.Slot),
		bids:  make(map[string][]ledger.BidEvent),
		now:   func() int64 { return time.Now().UnixMilli() },
	}
}

// NewWithClock creates an empty ledger whose time is read from now.
func NewWithClock(now func() int64) *Ledger {
	l := New()
	l.now = now
	return l
}

// FailNextSubmit makes the next submission fail with err without applying it.
func (l *Ledger) FailNextSubmit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Put stores s as-is, replacing any slot with the same ID.
func (l *Ledger) Put(s auction.Slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[s.ID] = s.Clone()
}

// Now returns the ledger clock.
func (l *Ledger) Now(_ context.Context) (int64, error) {
	return l.now(), nil
}

func (l *Ledger) QuerySlot(_ context.Context, slotID string) (auction.Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[slotID]
	if !ok {
		return auction.Slot{}, fmt.Errorf("%w: %s", auction.ErrNotFound, slotID)
	}
	return s.Clone(), nil
}

func (l *Ledger) QuerySlotsByOwner(_ context.Context, owner auction.Address) ([]auction.Slot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []auction.Slot
	for _, s := range l.slots {
		if s.TimeOwner == owner {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime == out[j].StartTime {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

// QueryBidHistory returns the newest limit bids, newest first. A limit of
// zero or less returns all of them.
func (l *Ledger) QueryBidHistory(_ context.Context, slotID string, limit int) ([]ledger.BidEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.slots[slotID]; !ok {
		return nil, fmt.Errorf("%w: %s", auction.ErrNotFound, slotID)
	}
	events := l.bids[slotID]
	out := make([]ledger.BidEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (l *Ledger) SubmitBid(_ context.Context, slotID string, amount uint64, bidder auction.Address) (ledger.TxResult, error) {
	return l.mutate(slotID, func(s auction.Slot, now int64) (auction.Slot, error) {
		next, err := auction.ApplyBid(s, bidder, amount, now)
		if err != nil {
			return s, err
		}
		l.bids[slotID] = append(l.bids[slotID], ledger.BidEvent{
			SlotID:    slotID,
			Bidder:    bidder,
			Amount:    amount,
			Timestamp: now,
		})
		return next, nil
	})
}

func (l *Ledger) SubmitFinalize(_ context.Context, slotID string, _ auction.Address) (ledger.TxResult, error) {
	return l.mutate(slotID, func(s auction.Slot, now int64) (auction.Slot, error) {
		return auction.ApplyFinalize(s, now)
	})
}

func (l *Ledger) SubmitSetInstructions(_ context.Context, slotID string, payload []byte, caller auction.Address) (ledger.TxResult, error) {
	return l.mutate(slotID, func(s auction.Slot, now int64) (auction.Slot, error) {
		return auction.ApplySetInstructions(s, caller, payload, now)
	})
}

func (l *Ledger) SubmitCreateSlot(ctx context.Context, req ledger.CreateSlotRequest) (ledger.TxResult, error) {
	return l.SubmitCreateSlots(ctx, req.Owner, []ledger.CreateSlotRequest{req})
}

func (l *Ledger) SubmitCreateSlots(_ context.Context, owner auction.Address, reqs []ledger.CreateSlotRequest) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return failed(err)
	}
	if len(reqs) == 0 {
		return failed(errors.New("no slots requested"))
	}

	now := l.now()
	created := make([]auction.Slot, 0, len(reqs))
	for i, req := range reqs {
		if req.Owner != owner {
			return failed(fmt.Errorf("slot %d owner %s does not match sender %s", i, req.Owner.Short(), owner.Short()))
		}
		if req.AuctionDurationMs < 0 {
			return failed(fmt.Errorf("slot %d auction duration %d is negative", i, req.AuctionDurationMs))
		}
		s := auction.Slot{
			ID:         l.nextID(),
			StartTime:  req.StartTime,
			DurationMs: req.DurationMs,
			TimeOwner:  owner,
			MinBid:     req.MinBid,
			AuctionEnd: now + req.AuctionDurationMs,
		}
		if err := s.Validate(); err != nil {
			return failed(fmt.Errorf("slot %d: %w", i, err))
		}
		created = append(created, s)
	}

	res := ledger.TxResult{Digest: digest(), Status: ledger.TxSuccess}
	for _, s := range created {
		l.slots[s.ID] = s
		res.CreatedSlotIDs = append(res.CreatedSlotIDs, s.ID)
	}
	return res, nil
}

func (l *Ledger) mutate(slotID string, apply func(auction.Slot, int64) (auction.Slot, error)) (ledger.TxResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.takeFailure(); err != nil {
		return failed(err)
	}
	s, ok := l.slots[slotID]
	if !ok {
		return failed(fmt.Errorf("%w: %s", auction.ErrNotFound, slotID))
	}
	next, err := apply(s, l.now())
	if err != nil {
		return failed(err)
	}
	l.slots[slotID] = next
	return ledger.TxResult{Digest: digest(), Status: ledger.TxSuccess}, nil
}

func (l *Ledger) takeFailure() error {
	err := l.failNext
	l.failNext = nil
	return err
}

func (l *Ledger) nextID() string {
	l.seq++
	return fmt.Sprintf("0x%064x", l.seq)
}

func failed(cause error) (ledger.TxResult, error) {
	res := ledger.TxResult{Digest: digest(), Status: ledger.TxFailure, Error: cause.Error()}
	return res, fmt.Errorf("%w: %w", ledger.ErrTxFailed, cause)
}

func digest() string {
	return uuid.NewString()
}
