/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookTarget is an owner-registered endpoint that receives slot events.
type WebhookTarget struct {
	ID     string `gorm:"type:varchar(36);primaryKey" json:"id"`
	Owner  string `gorm:"type:varchar(66);index;not null" json:"owner"`
	URL    string `gorm:"type:varchar(512);not null" json:"url"`
	Events string `gorm:"type:varchar(255)" json:"events"` // comma-separated event types, empty means all
	Secret string `gorm:"type:varchar(255)" json:"-"`
	Active bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// NewWebhookTarget creates an active target with a random signing secret.
func NewWebhookTarget(owner, url, events string) *WebhookTarget {
	return &WebhookTarget{
		ID:     uuid.NewString(),
		Owner:  owner,
		URL:    url,
		Events: events,
		Secret: uuid.NewString(),
		Active: true,
	}
}

// WebhookLog records webhook delivery attempts.
type WebhookLog struct {
	ID         string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	TargetID   string    `gorm:"type:varchar(36);index;not null" json:"target_id"`
	Event      string    `gorm:"type:varchar(64);not null" json:"event"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Duration   int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
