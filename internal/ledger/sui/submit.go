/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.opentelemetry.io/otel/attribute"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/ledger"
	"github.com/friendsincode/slotmarket/internal/telemetry"
)

const relayMethod = "relay_executeMoveCalls"

// Argument kinds understood by the relay when it builds the programmable
// transaction.
const (
	argPure     = "pure_u64"
	argBytes    = "pure_bytes"
	argObject   = "object"
	argGasSplit = "gas_split"
)

// MoveArg is one argument of a move call.
type MoveArg struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

// MoveCall is one call in a programmable transaction.
type MoveCall struct {
	Target    string    `json:"target"`
	Arguments []MoveArg `json:"arguments"`
}

type executeRequest struct {
	Sender    string     `json:"sender"`
	Calls     []MoveCall `json:"calls"`
	GasBudget string     `json:"gasBudget,omitempty"`
}

type executeResponse struct {
	Digest  string `json:"digest"`
	Effects struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
	ObjectChanges []struct {
		Type       string `json:"type"`
		ObjectType string `json:"objectType"`
		ObjectID   string `json:"objectId"`
	} `json:"objectChanges"`
}

func pureU64(v uint64) MoveArg  { return MoveArg{Kind: argPure, Value: strconv.FormatUint(v, 10)} }
func object(id string) MoveArg  { return MoveArg{Kind: argObject, Value: id} }
func gasSplit(v uint64) MoveArg { return MoveArg{Kind: argGasSplit, Value: strconv.FormatUint(v, 10)} }

func (c *Client) clock() MoveArg { return object(c.cfg.ClockObjectID) }

func (c *Client) SubmitBid(ctx context.Context, slotID string, amount uint64, bidder auction.Address) (ledger.TxResult, error) {
	return c.execute(ctx, bidder, MoveCall{
		Target:    c.target("place_bid"),
		Arguments: []MoveArg{object(slotID), gasSplit(amount), c.clock()},
	})
}

func (c *Client) SubmitFinalize(ctx context.Context, slotID string, caller auction.Address) (ledger.TxResult, error) {
	return c.execute(ctx, caller, MoveCall{
		Target:    c.target("end_auction"),
		Arguments: []MoveArg{object(slotID), c.clock()},
	})
}

func (c *Client) SubmitSetInstructions(ctx context.Context, slotID string, payload []byte, caller auction.Address) (ledger.TxResult, error) {
	return c.execute(ctx, caller, MoveCall{
		Target: c.target("set_instructions"),
		Arguments: []MoveArg{
			object(slotID),
			{Kind: argBytes, Value: hexutil.Encode(payload)},
			c.clock(),
		},
	})
}

func (c *Client) SubmitCreateSlot(ctx context.Context, req ledger.CreateSlotRequest) (ledger.TxResult, error) {
	return c.SubmitCreateSlots(ctx, req.Owner, []ledger.CreateSlotRequest{req})
}

// SubmitCreateSlots sends every create_time_slot call in one programmable
// transaction, so the batch lands or fails as a whole.
func (c *Client) SubmitCreateSlots(ctx context.Context, owner auction.Address, reqs []ledger.CreateSlotRequest) (ledger.TxResult, error) {
	if len(reqs) == 0 {
		return ledger.TxResult{}, errors.New("no slots requested")
	}
	calls := make([]MoveCall, 0, len(reqs))
	for i, req := range reqs {
		if req.Owner != owner {
			return ledger.TxResult{}, fmt.Errorf("slot %d owner %s does not match sender %s", i, req.Owner.Short(), owner.Short())
		}
		if c.cfg.SlotDurationMs > 0 && req.DurationMs != c.cfg.SlotDurationMs {
			return ledger.TxResult{}, fmt.Errorf("%w: %dms, contract uses %dms", ErrUnsupportedDuration, req.DurationMs, c.cfg.SlotDurationMs)
		}
		if req.AuctionDurationMs < 0 {
			return ledger.TxResult{}, fmt.Errorf("slot %d auction duration %d is negative", i, req.AuctionDurationMs)
		}
		if req.StartTime < 0 {
			return ledger.TxResult{}, fmt.Errorf("slot %d start time %d is negative", i, req.StartTime)
		}
		calls = append(calls, MoveCall{
			Target: c.target("create_time_slot"),
			Arguments: []MoveArg{
				pureU64(uint64(req.StartTime)),
				pureU64(req.MinBid),
				pureU64(uint64(req.AuctionDurationMs)),
				c.clock(),
			},
		})
	}
	res, err := c.execute(ctx, owner, calls...)
	if err != nil {
		return res, err
	}
	if len(res.CreatedSlotIDs) != len(reqs) {
		c.logger.Warn().
			Str("digest", res.Digest).
			Int("requested", len(reqs)).
			Int("created", len(res.CreatedSlotIDs)).
			Msg("created slot count mismatch")
	}
	return res, nil
}

func (c *Client) execute(ctx context.Context, sender auction.Address, calls ...MoveCall) (res ledger.TxResult, err error) {
	if c.relay == nil {
		return ledger.TxResult{}, ErrRelayNotConfigured
	}
	req := executeRequest{Sender: sender.String(), Calls: calls}
	if c.cfg.GasBudget > 0 {
		req.GasBudget = strconv.FormatUint(c.cfg.GasBudget, 10)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, tracerName, relayMethod, attribute.String("target", calls[0].Target))
	start := time.Now()
	defer func() {
		telemetry.ObserveLedgerCall(relayMethod, start, err)
		telemetry.EndSpan(span, err)
	}()

	var resp executeResponse
	if err := c.relay.CallContext(ctx, &resp, relayMethod, req); err != nil {
		return ledger.TxResult{}, fmt.Errorf("%s: %w", relayMethod, err)
	}

	res = ledger.TxResult{Digest: resp.Digest, Status: ledger.TxStatus(resp.Effects.Status.Status), Error: resp.Effects.Status.Error}
	slotType := "::" + moduleName + "::TimeSlot"
	for _, ch := range resp.ObjectChanges {
		if ch.Type == "created" && strings.HasSuffix(ch.ObjectType, slotType) {
			res.CreatedSlotIDs = append(res.CreatedSlotIDs, ch.ObjectID)
		}
	}

	log := c.logger.Info()
	if res.Status != ledger.TxSuccess {
		log = c.logger.Warn()
	}
	log.Str("digest", res.Digest).
		Str("sender", sender.Short()).
		Str("target", calls[0].Target).
		Int("calls", len(calls)).
		Str("status", string(res.Status)).
		Msg("transaction executed")

	return res, res.Err()
}
