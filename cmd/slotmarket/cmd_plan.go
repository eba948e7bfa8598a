/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/currency"
	"github.com/friendsincode/slotmarket/internal/shift"
)

var (
	planOwner    string
	planStart    string
	planMinutes  int
	planSlotSecs int
	planWindow   int
	planMinBid   string
	planStrategy string
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview how a shift would be split into slots",
	Long: `Preview the slots a shift would create without submitting anything.

Defaults come from the same configuration the server uses. Times are
computed against the local clock.

Examples:
  slotmarket plan --owner 0xa11ce
  slotmarket plan --owner 0xa11ce --minutes 60 --slot-seconds 300 --strategy per_slot
  slotmarket plan --owner 0xa11ce --start 2026-10-17T18:00:00Z --min-bid 2.50
`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVar(&planOwner, "owner", "", "Stream owner address")
	planCmd.Flags().StringVar(&planStart, "start", "", "First slot start (RFC3339); defaults to now plus the auction window")
	planCmd.Flags().IntVar(&planMinutes, "minutes", 0, "Shift length in minutes")
	planCmd.Flags().IntVar(&planSlotSecs, "slot-seconds", 0, "Slot length in seconds")
	planCmd.Flags().IntVar(&planWindow, "window-minutes", -1, "Auction window in minutes")
	planCmd.Flags().StringVar(&planMinBid, "min-bid", "", "Minimum bid in display units")
	planCmd.Flags().StringVar(&planStrategy, "strategy", "", "Auction strategy: uniform or per_slot")
	_ = planCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	owner, err := auction.ParseAddress(planOwner)
	if err != nil {
		return err
	}

	req := shift.ShiftRequest{
		Owner:         owner,
		ShiftDuration: cfg.ShiftDuration,
		SlotDuration:  cfg.SlotDuration,
		MinBid:        cfg.MinBidUnits,
		AuctionWindow: cfg.AuctionWindow,
		Strategy:      shift.Strategy(cfg.AuctionStrategy),
	}
	if planMinutes > 0 {
		req.ShiftDuration = time.Duration(planMinutes) * time.Minute
	}
	if planSlotSecs > 0 {
		req.SlotDuration = time.Duration(planSlotSecs) * time.Second
	}
	if planWindow >= 0 {
		req.AuctionWindow = time.Duration(planWindow) * time.Minute
	}
	if planMinBid != "" {
		if req.MinBid, err = currency.ParseDisplay(planMinBid); err != nil {
			return err
		}
	}
	if planStrategy != "" {
		if req.Strategy, err = shift.ParseStrategy(planStrategy); err != nil {
			return err
		}
	}

	planner := shift.NewPlanner(cfg.MaxSlotsPerBatch, cfg.ClockMargin)
	now := time.Now().UnixMilli()
	req.StartFrom = planner.EarliestStart(now, req.AuctionWindow, req.SlotDuration, req.Strategy)
	if planStart != "" {
		start, err := time.Parse(time.RFC3339, planStart)
		if err != nil {
			return fmt.Errorf("parse --start: %w", err)
		}
		req.StartFrom = start.UnixMilli()
	}

	plan, err := planner.CreateShift(req, now)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "owner %s, %d slots, strategy %s\n\n", owner.Short(), len(plan.Slots), plan.Strategy)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSTART\tEND\tBIDDING CLOSES\tMIN BID")
	for i, s := range plan.Slots {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			i+1,
			formatMillis(s.StartTime),
			formatMillis(s.StartTime+s.DurationMs),
			formatMillis(s.AuctionEnd),
			currency.FormatDisplay(s.MinBid),
		)
	}
	return tw.Flush()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
