/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package shift

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/models"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// OwnerInvalidator drops cached slot lists for an owner.
type OwnerInvalidator interface {
	InvalidateOwner(ctx context.Context, owner auction.Address) error
}

// Service submits planned batches to the ledger and records them.
type Service struct {
	ledger  ledger.Adapter
	planner *Planner
	db      *gorm.DB
	bus     events.Broker
	cache   OwnerInvalidator
	logger  zerolog.Logger
}

// NewService creates a shift service. cache may be nil.
func NewService(l ledger.Adapter, planner *Planner, db *gorm.DB, bus events.Broker, cache OwnerInvalidator, logger zerolog.Logger) *Service {
	return &Service{
		ledger:  l,
		planner: planner,
		db:      db,
		bus:     bus,
		cache:   cache,
		logger:  logger.With().Str("component", "shift").Logger(),
	}
}

// Planner returns the planner used by the service.
func (s *Service) Planner() *Planner {
	return s.planner
}

// StartShift plans a shift against the ledger clock and submits it as one
// transaction.
func (s *Service) StartShift(ctx context.Context, req ShiftRequest) (*models.ShiftBatch, error) {
	now, err := s.ledger.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger clock: %w", err)
	}
	plan, err := s.planner.CreateShift(req, now)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}
	return s.submit(ctx, models.BatchKindShift, plan)
}

// TopUp re-reads the owner's slots from the ledger, anchors after the latest
// one, and submits the new slots as one transaction.
func (s *Service) TopUp(ctx context.Context, req TopUpRequest) (*models.ShiftBatch, error) {
	now, err := s.ledger.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger clock: %w", err)
	}
	existing, err := s.ledger.QuerySlotsByOwner(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("query owner slots: %w", err)
	}
	plan, err := s.planner.TopUp(req, existing, now)
	if err != nil {
		s.countRejection(err)
		return nil, err
	}
	return s.submit(ctx, models.BatchKindTopUp, plan)
}

func (s *Service) submit(ctx context.Context, kind models.BatchKind, plan Plan) (*models.ShiftBatch, error) {
	batch := &models.ShiftBatch{
		ID:             uuid.NewString(),
		Owner:          plan.Owner.String(),
		Kind:           kind,
		Strategy:       string(plan.Strategy),
		FirstStart:     plan.FirstStart(),
		EndTime:        plan.EndTime(),
		SlotDurationMs: plan.Slots[0].DurationMs,
		SlotCount:      len(plan.Slots),
		MinBid:         plan.Slots[0].MinBid,
		AuctionEnd:     plan.Slots[0].AuctionEnd,
	}

	res, err := s.ledger.SubmitCreateSlots(ctx, plan.Owner, plan.Requests())
	if err != nil {
		batch.Status = models.BatchStatusFailed
		batch.Digest = res.Digest
		batch.Error = err.Error()
		s.record(ctx, batch)

		telemetry.TransactionFailuresTotal.WithLabelValues(auction.OpCreateSlots).Inc()
		s.logger.Warn().Err(err).
			Str("owner", batch.Owner).
			Str("kind", string(kind)).
			Int("slots", batch.SlotCount).
			Msg("slot batch submission failed")
		s.bus.Publish(events.EventTxFailed, events.Payload{
			"op":       auction.OpCreateSlots,
			"owner":    batch.Owner,
			"batch_id": batch.ID,
			"digest":   res.Digest,
			"error":    err.Error(),
		})
		return batch, &auction.TransactionFailedError{Op: auction.OpCreateSlots, Digest: res.Digest, Cause: err}
	}

	batch.Status = models.BatchStatusSubmitted
	batch.Digest = res.Digest
	batch.SlotIDs = res.CreatedSlotIDs
	s.record(ctx, batch)

	if s.cache != nil {
		if err := s.cache.InvalidateOwner(ctx, plan.Owner); err != nil {
			s.logger.Debug().Err(err).Str("owner", batch.Owner).Msg("owner cache invalidation failed")
		}
	}

	telemetry.SlotsCreatedTotal.WithLabelValues(string(kind)).Add(float64(batch.SlotCount))
	s.logger.Info().
		Str("owner", batch.Owner).
		Str("kind", string(kind)).
		Str("digest", batch.Digest).
		Int("slots", batch.SlotCount).
		Int64("first_start", batch.FirstStart).
		Int64("end", batch.EndTime).
		Msg("slot batch created")

	s.bus.Publish(events.EventSlotCreated, events.Payload{
		"owner":       batch.Owner,
		"batch_id":    batch.ID,
		"kind":        string(kind),
		"slot_ids":    batch.SlotIDs,
		"slot_count":  batch.SlotCount,
		"first_start": batch.FirstStart,
		"end_time":    batch.EndTime,
		"min_bid":     batch.MinBid,
		"digest":      batch.Digest,
	})
	return batch, nil
}

// record stores the batch. The ledger outcome stands even if the row cannot
// be written.
func (s *Service) record(ctx context.Context, batch *models.ShiftBatch) {
	if s.db == nil {
		return
	}
	if err := s.db.WithContext(ctx).Create(batch).Error; err != nil {
		s.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to store shift batch")
	}
}

func (s *Service) countRejection(err error) {
	if reason, ok := auction.IsRejected(err); ok {
		telemetry.ValidationRejectionsTotal.WithLabelValues(auction.OpCreateSlots, string(reason)).Inc()
	}
}

// ListBatches returns the owner's batches, newest first.
func (s *Service) ListBatches(ctx context.Context, owner auction.Address, limit int) ([]models.ShiftBatch, error) {
	if s.db == nil {
		return nil, errors.New("shift store not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	var batches []models.ShiftBatch
	err := s.db.WithContext(ctx).
		Where("owner = ?", owner.String()).
		Order("created_at DESC").
		Limit(limit).
		Find(&batches).Error
	return batches, err
}

// ActiveOwners lists owners with a submitted batch whose slots end at or
// after since.
func (s *Service) ActiveOwners(ctx context.Context, since int64) ([]auction.Address, error) {
	if s.db == nil {
		return nil, errors.New("shift store not configured")
	}
	var raw []string
	err := s.db.WithContext(ctx).
		Model(&models.ShiftBatch{}).
		Where("status = ? AND end_time >= ?", models.BatchStatusSubmitted, since).
		Distinct("owner").
		Order("owner").
		Pluck("owner", &raw).Error
	if err != nil {
		return nil, err
	}
	owners := make([]auction.Address, 0, len(raw))
	for _, r := range raw {
		addr, err := auction.ParseAddress(r)
		if err != nil {
			s.logger.Warn().Str("owner", r).Msg("skipping stored batch with invalid owner")
			continue
		}
		owners = append(owners, addr)
	}
	return owners, nil
}
