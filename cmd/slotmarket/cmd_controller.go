/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/gate"
	"github.com/friendsincode/slotmarket/internal/server"
)

var (
	controllerOwner string
	controllerAt    int64
)

var controllerCmd = &cobra.Command{
	Use:   "controller",
	Short: "Show who controls an owner's stream right now",
	Long: `Resolve the active slot and controller for a stream owner directly
against the configured ledger.

Examples:
  slotmarket controller --owner 0xa11ce
  slotmarket controller --owner 0xa11ce --at 1760720400000
`,
	RunE: runController,
}

func init() {
	controllerCmd.Flags().StringVar(&controllerOwner, "owner", "", "Stream owner address")
	controllerCmd.Flags().Int64Var(&controllerAt, "at", 0, "Instant in ledger milliseconds (defaults to ledger time)")
	_ = controllerCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(controllerCmd)
}

func runController(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	owner, err := auction.ParseAddress(controllerOwner)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.LedgerTimeout)
	defer cancel()

	l, closeLedger, err := server.OpenLedger(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	now := controllerAt
	if now == 0 {
		if now, err = l.Now(ctx); err != nil {
			return fmt.Errorf("read ledger clock: %w", err)
		}
	}

	decision, err := gate.New(l, nil, logger).ActiveSlot(ctx, owner, now)
	out := cmd.OutOrStdout()
	switch {
	case errors.Is(err, auction.ErrAmbiguousState):
		fmt.Fprintf(out, "%s: multiple live slots at %s, nobody has control\n", owner.Short(), formatMillis(now))
		return nil
	case err != nil:
		return err
	case !decision.HasActiveSlot:
		fmt.Fprintf(out, "%s: no live slot at %s\n", owner.Short(), formatMillis(now))
	case !decision.HasController():
		fmt.Fprintf(out, "%s: slot %s is live with no winning bid\n", owner.Short(), decision.Slot.ID)
	default:
		fmt.Fprintf(out, "%s: controlled by %s until %s (slot %s)\n",
			owner.Short(), decision.Controller, formatMillis(decision.Slot.EndTime()), decision.Slot.ID)
		if decision.Slot.HasInstructions() {
			fmt.Fprintf(out, "instructions: %s\n", decision.Slot.Instructions)
		}
	}
	return nil
}
