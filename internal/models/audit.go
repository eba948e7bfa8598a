/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

const (
	AuditActionSlotsCreated      AuditAction = "slots.created"
	AuditActionBidPlaced         AuditAction = "bid.placed"
	AuditActionAuctionFinalized  AuditAction = "auction.finalized"
	AuditActionInstructionsSet   AuditAction = "instructions.set"
	AuditActionCommandIssued     AuditAction = "command.issued"
	AuditActionTxFailed          AuditAction = "tx.failed"
	AuditActionControllerChanged AuditAction = "controller.changed"
)

// AuditLog records ledger activity initiated through this service.
type AuditLog struct {
	ID        string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	Actor     string         `gorm:"type:varchar(66);index:idx_audit_actor" json:"actor,omitempty"`
	Owner     string         `gorm:"type:varchar(66);index:idx_audit_owner" json:"owner,omitempty"`
	SlotID    string         `gorm:"type:varchar(66);index:idx_audit_slot" json:"slot_id,omitempty"`
	Digest    string         `gorm:"type:varchar(128)" json:"digest,omitempty"`
	Amount    uint64         `json:"amount,omitempty"`
	Details   map[string]any `gorm:"type:text;serializer:json" json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
