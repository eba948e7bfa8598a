/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/config"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/ledger/memory"
	"github.com/friendsincode/slotmarket/internal/ledger/sui"
)

// OpenLedger connects the configured ledger backend. The returned func
// releases it.
func OpenLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (ledger.Adapter, func(), error) {
	switch cfg.LedgerBackend {
	case config.LedgerMemory:
		logger.Warn().Msg("using in-memory ledger; state is lost on restart")
		return memory.New(), func() {}, nil
	case config.LedgerSui:
		client, err := sui.Dial(ctx, sui.Config{
			RPCURL:         cfg.SuiRPCURL,
			RelayURL:       cfg.RelayURL,
			PackageID:      cfg.SuiPackageID,
			ClockObjectID:  cfg.SuiClockObjectID,
			SlotDurationMs: cfg.ContractSlotDuration.Milliseconds(),
			PageLimit:      cfg.SuiEventPageSize,
			MaxPages:       cfg.SuiEventMaxPages,
			Timeout:        cfg.LedgerTimeout,
			GasBudget:      cfg.GasBudget,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect ledger: %w", err)
		}
		return client, client.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend: %s", cfg.LedgerBackend)
	}
}
