/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/models"
)

// Service handles audit logging by subscribing to events and storing audit entries.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates a new audit service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// Start subscribes to ledger activity events and logs them until ctx ends.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Msg("audit service starting")

	slotCreated := s.bus.Subscribe(events.EventSlotCreated)
	bidPlaced := s.bus.Subscribe(events.EventBidPlaced)
	finalized := s.bus.Subscribe(events.EventAuctionFinalized)
	instructions := s.bus.Subscribe(events.EventInstructionsSet)
	commands := s.bus.Subscribe(events.EventCommandIssued)
	txFailed := s.bus.Subscribe(events.EventTxFailed)
	controller := s.bus.Subscribe(events.EventControllerChanged)

	defer func() {
		s.bus.Unsubscribe(events.EventSlotCreated, slotCreated)
		s.bus.Unsubscribe(events.EventBidPlaced, bidPlaced)
		s.bus.Unsubscribe(events.EventAuctionFinalized, finalized)
		s.bus.Unsubscribe(events.EventInstructionsSet, instructions)
		s.bus.Unsubscribe(events.EventCommandIssued, commands)
		s.bus.Unsubscribe(events.EventTxFailed, txFailed)
		s.bus.Unsubscribe(events.EventControllerChanged, controller)
	}()

	s.logger.Info().Msg("audit service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit service stopping")
			return

		case payload := <-slotCreated:
			s.logAuditEntry(ctx, models.AuditActionSlotsCreated, payload)

		case payload := <-bidPlaced:
			s.logAuditEntry(ctx, models.AuditActionBidPlaced, payload)

		case payload := <-finalized:
			s.logAuditEntry(ctx, models.AuditActionAuctionFinalized, payload)

		case payload := <-instructions:
			s.logAuditEntry(ctx, models.AuditActionInstructionsSet, payload)

		case payload := <-commands:
			s.logAuditEntry(ctx, models.AuditActionCommandIssued, payload)

		case payload := <-txFailed:
			s.logAuditEntry(ctx, models.AuditActionTxFailed, payload)

		case payload := <-controller:
			s.logAuditEntry(ctx, models.AuditActionControllerChanged, payload)
		}
	}
}

// logAuditEntry creates an audit log entry from an event payload.
func (s *Service) logAuditEntry(ctx context.Context, action models.AuditAction, payload events.Payload) {
	// The publishing instance records its own entry.
	if payload == nil || payload.Remote() {
		return
	}
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any),
	}

	// The acting address depends on the event.
	for _, key := range []string{"bidder", "caller", "controller"} {
		if actor, ok := payload[key].(string); ok && actor != "" {
			entry.Actor = actor
			break
		}
	}
	if owner, ok := payload["owner"].(string); ok {
		entry.Owner = owner
	}
	if slotID, ok := payload["slot_id"].(string); ok {
		entry.SlotID = slotID
	}
	if digest, ok := payload["digest"].(string); ok {
		entry.Digest = digest
	}
	entry.Amount = amountOf(payload["amount"])

	for k, v := range payload {
		switch k {
		case "bidder", "caller", "owner", "slot_id", "digest", "amount":
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).
			Str("action", string(action)).
			Msg("failed to log audit entry")
	}
}

// amountOf accepts in-process integers and JSON-decoded numbers.
func amountOf(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int:
		if n > 0 {
			return uint64(n)
		}
	case int64:
		if n > 0 {
			return uint64(n)
		}
	case float64:
		if n > 0 {
			return uint64(n)
		}
	}
	return 0
}

// Log records an audit entry directly (for non-event-bus actions).
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(map[string]any)
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	s.logger.Debug().
		Str("action", string(entry.Action)).
		Str("id", entry.ID).
		Msg("audit entry logged")

	return nil
}

// QueryFilters defines filters for querying audit logs.
type QueryFilters struct {
	Owner     string
	SlotID    string
	Actor     string
	Action    *models.AuditAction
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

// Query retrieves audit logs with filters.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.Owner != "" {
		query = query.Where("owner = ?", filters.Owner)
	}
	if filters.SlotID != "" {
		query = query.Where("slot_id = ?", filters.SlotID)
	}
	if filters.Actor != "" {
		query = query.Where("actor = ?", filters.Actor)
	}
	if filters.Action != nil {
		query = query.Where("action = ?", *filters.Action)
	}
	if filters.StartTime != nil {
		query = query.Where("timestamp >= ?", *filters.StartTime)
	}
	if filters.EndTime != nil {
		query = query.Where("timestamp <= ?", *filters.EndTime)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(100) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	// Most recent first
	if err := query.Order("timestamp DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
