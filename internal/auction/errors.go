/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auction

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a slot does not exist on the ledger.
	ErrNotFound = errors.New("slot not found")

	// ErrAmbiguousState is returned when more than one slot of an owner is
	// live at the same instant. Callers must treat it as "no controller".
	ErrAmbiguousState = errors.New("ambiguous ledger state: multiple live slots")
)

// Reason classifies a rejected operation.
type Reason string

const (
	ReasonAuctionClosed    Reason = "auction_closed"
	ReasonZeroAmount       Reason = "zero_amount"
	ReasonBelowMinimum     Reason = "below_minimum"
	ReasonNotAboveCurrent  Reason = "not_above_current"
	ReasonTooEarly         Reason = "too_early"
	ReasonAlreadyFinalized Reason = "already_finalized"
	ReasonNoWinner         Reason = "no_winner"
	ReasonNotController    Reason = "not_controller"
	ReasonAuctionOpen      Reason = "auction_open"
	ReasonWindowOver       Reason = "window_over"
	ReasonEmptyPayload     Reason = "empty_payload"

	// Shift planning.
	ReasonInvalidPlan       Reason = "invalid_plan"
	ReasonUnevenShift       Reason = "uneven_shift"
	ReasonAuctionAfterStart Reason = "auction_after_start"
	ReasonAuctionInPast     Reason = "auction_in_past"
)

// RejectedError is returned when local validation refuses an operation. The
// operation was never submitted to the ledger.
type RejectedError struct {
	Op     string
	Reason Reason
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s rejected: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s rejected: %s: %s", e.Op, e.Reason, e.Detail)
}

func reject(op string, reason Reason, format string, args ...any) *RejectedError {
	return &RejectedError{Op: op, Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Reject builds a RejectedError for callers outside this package.
func Reject(op string, reason Reason, format string, args ...any) *RejectedError {
	return reject(op, reason, format, args...)
}

// IsRejected reports whether err is a RejectedError and returns its reason.
func IsRejected(err error) (Reason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return "", false
}

// TransactionFailedError is returned when the ledger refused or failed a
// submitted transaction. Latest holds the slot as re-queried after the
// failure, when it could be read.
type TransactionFailedError struct {
	Op     string
	SlotID string
	Digest string
	Cause  error
	Latest *Slot
}

func (e *TransactionFailedError) Error() string {
	if e.SlotID == "" {
		return fmt.Sprintf("%s transaction failed: %v", e.Op, e.Cause)
	}
	return fmt.Sprintf("%s transaction failed for slot %s: %v", e.Op, e.SlotID, e.Cause)
}

func (e *TransactionFailedError) Unwrap() error {
	return e.Cause
}
