/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/auth"
)

var (
	tokenAddress string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a wallet address",
	Long: `Issue a signed API token for a wallet address.

The token is signed with SLOTMARKET_JWT_SIGNING_KEY and carries the address
as the caller for bids, shifts and commands.

Examples:
  slotmarket token --address 0xa11ce
  slotmarket token --address 0xa11ce --ttl 1h
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenAddress, "address", "", "Wallet address the token speaks for")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (defaults to SLOTMARKET_JWT_TTL_MINUTES)")
	_ = tokenCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	addr, err := auction.ParseAddress(tokenAddress)
	if err != nil {
		return err
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = cfg.JWTTTL
	}
	token, err := auth.Issue([]byte(cfg.JWTSigningKey), auth.Claims{Address: addr}, ttl)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
