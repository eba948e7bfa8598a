/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package ledger defines how the service reaches the ledger that holds time
// slots. Backends live in subpackages.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/slotmarket/internal/auction"
)

// TxStatus is the outcome reported for a submitted transaction.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailure TxStatus = "failure"
)

// ErrTxFailed is wrapped by adapters when the ledger executed a transaction
// but reported a failure status.
var ErrTxFailed = errors.New("ledger transaction failed")

// TxResult describes an executed transaction.
type TxResult struct {
	Digest         string
	Status         TxStatus
	Error          string
	CreatedSlotIDs []string
}

// Err returns a non-nil error when the result reports failure.
func (r TxResult) Err() error {
	if r.Status == TxSuccess {
		return nil
	}
	if r.Error == "" {
		return fmt.Errorf("%w: digest %s", ErrTxFailed, r.Digest)
	}
	return fmt.Errorf("%w: %s", ErrTxFailed, r.Error)
}

// CreateSlotRequest is one slot to create. AuctionDurationMs is relative to
// the ledger clock at execution; AuctionEnd is the planned absolute close and
// is informational.
type CreateSlotRequest struct {
	Owner             auction.Address
	StartTime         int64
	DurationMs        int64
	MinBid            uint64
	AuctionDurationMs int64
	AuctionEnd        int64
}

// BidEvent is an accepted bid as recorded by the ledger.
type BidEvent struct {
	SlotID    string
	Bidder    auction.Address
	Amount    uint64
	Timestamp int64
	Digest    string
}

// Clock reads authoritative ledger time in milliseconds.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

// Reader is the read side of the ledger.
type Reader interface {
	Clock
	QuerySlot(ctx context.Context, slotID string) (auction.Slot, error)
	QuerySlotsByOwner(ctx context.Context, owner auction.Address) ([]auction.Slot, error)
	QueryBidHistory(ctx context.Context, slotID string, limit int) ([]BidEvent, error)
}

// Adapter is the full ledger surface. Submissions return an error for
// transport failures and for transactions the ledger refused; a nil error
// means the transaction executed successfully.
type Adapter interface {
	Reader
	SubmitBid(ctx context.Context, slotID string, amount uint64, bidder auction.Address) (TxResult, error)
	SubmitFinalize(ctx context.Context, slotID string, caller auction.Address) (TxResult, error)
	SubmitSetInstructions(ctx context.Context, slotID string, payload []byte, caller auction.Address) (TxResult, error)
	SubmitCreateSlot(ctx context.Context, req CreateSlotRequest) (TxResult, error)
	// SubmitCreateSlots creates every request in one transaction. Either all
	// slots exist afterwards or none do.
	SubmitCreateSlots(ctx context.Context, owner auction.Address, reqs []CreateSlotRequest) (TxResult, error)
}
