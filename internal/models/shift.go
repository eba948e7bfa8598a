/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// BatchKind distinguishes a fresh shift from a top-up.
type BatchKind string

const (
	BatchKindShift BatchKind = "shift"
	BatchKindTopUp BatchKind = "top_up"
)

// BatchStatus is the ledger outcome of a batch submission.
type BatchStatus string

const (
	BatchStatusSubmitted BatchStatus = "submitted"
	BatchStatusFailed    BatchStatus = "failed"
)

// ShiftBatch records one batch of consecutive slots submitted for an owner.
// The ledger stays the source of truth for the slots themselves.
type ShiftBatch struct {
	ID             string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	Owner          string      `gorm:"type:varchar(66);index:idx_shift_owner;not null" json:"owner"`
	Kind           BatchKind   `gorm:"type:varchar(16);not null" json:"kind"`
	Strategy       string      `gorm:"type:varchar(16);not null" json:"strategy"`
	FirstStart     int64       `gorm:"not null" json:"first_start"`
	EndTime        int64       `gorm:"index:idx_shift_end;not null" json:"end_time"`
	SlotDurationMs int64       `gorm:"not null" json:"slot_duration_ms"`
	SlotCount      int         `gorm:"not null" json:"slot_count"`
	MinBid         uint64      `gorm:"not null" json:"min_bid"`
	AuctionEnd     int64       `json:"auction_end"`
	Digest         string      `gorm:"type:varchar(128)" json:"digest,omitempty"`
	Status         BatchStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Error          string      `gorm:"type:text" json:"error,omitempty"`
	SlotIDs        []string    `gorm:"type:text;serializer:json" json:"slot_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ShiftBatch) TableName() string {
	return "shift_batches"
}

// Succeeded reports whether the batch landed on the ledger.
func (b *ShiftBatch) Succeeded() bool {
	return b.Status == BatchStatusSubmitted
}

// Covers reports whether at (ms) falls inside the batch window.
func (b *ShiftBatch) Covers(at int64) bool {
	return at >= b.FirstStart && at < b.EndTime
}
