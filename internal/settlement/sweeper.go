/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package settlement finalizes closed auctions for owners whose shifts were
// created through this service.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/bidding"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

// OwnerSource lists owners worth sweeping. *shift.Service satisfies it.
type OwnerSource interface {
	ActiveOwners(ctx context.Context, since int64) ([]auction.Address, error)
}

// Finalizer settles one slot. *bidding.Service satisfies it.
type Finalizer interface {
	Finalize(ctx context.Context, slotID string, caller auction.Address) (bidding.Receipt, error)
}

// Result summarises one sweep.
type Result struct {
	Owners    int
	Checked   int
	Finalized int
	Failed    int
}

// Sweeper periodically finalizes slots whose auctions have closed.
type Sweeper struct {
	owners    OwnerSource
	ledger    ledger.Reader
	finalizer Finalizer
	interval  time.Duration
	lookback  time.Duration
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper. Owners whose last batch ended more than
// lookback ago are skipped.
func NewSweeper(owners OwnerSource, reader ledger.Reader, finalizer Finalizer, interval, lookback time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &Sweeper{
		owners:    owners,
		ledger:    reader,
		finalizer: finalizer,
		interval:  interval,
		lookback:  lookback,
		logger:    logger.With().Str("component", "settlement").Logger(),
	}
}

// Run sweeps every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("settlement sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep finalizes every closed, unfinalized slot of the active owners once.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result

	now, err := s.ledger.Now(ctx)
	if err != nil {
		telemetry.SettlementRunsTotal.WithLabelValues("error").Inc()
		return res, err
	}
	owners, err := s.owners.ActiveOwners(ctx, now-s.lookback.Milliseconds())
	if err != nil {
		telemetry.SettlementRunsTotal.WithLabelValues("error").Inc()
		return res, err
	}
	res.Owners = len(owners)

	for _, owner := range owners {
		slots, err := s.ledger.QuerySlotsByOwner(ctx, owner)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner", owner.String()).Msg("could not list owner slots")
			res.Failed++
			continue
		}
		for _, slot := range slots {
			if slot.Finalized || now < slot.AuctionEnd {
				continue
			}
			res.Checked++
			if _, err := s.finalizer.Finalize(ctx, slot.ID, ""); err != nil {
				// Someone else settled it between our read and submission.
				if reason, ok := auction.IsRejected(err); ok && reason == auction.ReasonAlreadyFinalized {
					continue
				}
				var txErr *auction.TransactionFailedError
				if errors.As(err, &txErr) && txErr.Latest != nil && txErr.Latest.Finalized {
					continue
				}
				res.Failed++
				s.logger.Warn().Err(err).Str("slot_id", slot.ID).Msg("finalize failed")
				continue
			}
			res.Finalized++
			telemetry.SettlementFinalizedTotal.Inc()
		}
	}

	outcome := "ok"
	if res.Failed > 0 {
		outcome = "partial"
	}
	telemetry.SettlementRunsTotal.WithLabelValues(outcome).Inc()
	if res.Finalized > 0 || res.Failed > 0 {
		s.logger.Info().
			Int("owners", res.Owners).
			Int("finalized", res.Finalized).
			Int("failed", res.Failed).
			Msg("settlement sweep complete")
	}
	return res, nil
}
