/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sui

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/friendsincode/slotmarket/internal/auction"
)

var objectOptions = map[string]bool{
	"showContent": true,
	"showType":    true,
}

// u64 decodes Move u64 values, which the node renders as decimal strings.
type u64 uint64

func (v *u64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*v = 0
		return nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("decode u64 %s: %w", b, err)
	}
	*v = u64(n)
	return nil
}

// millis converts a u64 timestamp or duration to int64 milliseconds.
func (v u64) millis(field string) (int64, error) {
	if uint64(v) > math.MaxInt64 {
		return 0, fmt.Errorf("%s %d exceeds the int64 millisecond range", field, uint64(v))
	}
	return int64(v), nil
}

type objectResponse struct {
	Data *struct {
		ObjectID string `json:"objectId"`
		Type     string `json:"type"`
		Content  *struct {
			DataType string          `json:"dataType"`
			Type     string          `json:"type"`
			Fields   json.RawMessage `json:"fields"`
		} `json:"content"`
	} `json:"data"`
	Error *struct {
		Code     string `json:"code"`
		ObjectID string `json:"object_id"`
	} `json:"error"`
}

func (r objectResponse) decodeFields(out any) error {
	if r.Data == nil || r.Data.Content == nil || r.Data.Content.DataType != "moveObject" {
		return errors.New("object has no move content")
	}
	return json.Unmarshal(r.Data.Content.Fields, out)
}

func (r objectResponse) slot(slotID string) (auction.Slot, error) {
	if r.Error != nil || r.Data == nil {
		return auction.Slot{}, fmt.Errorf("%w: %s", auction.ErrNotFound, slotID)
	}
	var f slotFields
	if err := r.decodeFields(&f); err != nil {
		return auction.Slot{}, fmt.Errorf("decode slot %s: %w", slotID, err)
	}
	id := r.Data.ObjectID
	if id == "" {
		id = slotID
	}
	return f.toSlot(id)
}

type clockFields struct {
	TimestampMs u64 `json:"timestamp_ms"`
}

// slotFields mirrors the TimeSlot Move struct.
type slotFields struct {
	StartTime     u64             `json:"start_time"`
	DurationMs    u64             `json:"duration_ms"`
	TimeOwner     string          `json:"time_owner"`
	CurrentBidder json.RawMessage `json:"current_bidder"`
	CurrentBid    u64             `json:"current_bid"`
	MinBid        u64             `json:"min_bid"`
	AuctionEnd    u64             `json:"auction_end"`
	Instructions  json.RawMessage `json:"instructions"`
	Finalized     bool            `json:"finalized"`
	Claimed       bool            `json:"claimed"`
}

func (f slotFields) toSlot(id string) (auction.Slot, error) {
	owner, err := auction.ParseAddress(f.TimeOwner)
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s owner: %w", id, err)
	}
	bidder, err := decodeOptionAddress(f.CurrentBidder)
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s bidder: %w", id, err)
	}
	instructions, err := decodeOptionBytes(f.Instructions)
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s instructions: %w", id, err)
	}
	start, err := f.StartTime.millis("start_time")
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	duration, err := f.DurationMs.millis("duration_ms")
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	auctionEnd, err := f.AuctionEnd.millis("auction_end")
	if err != nil {
		return auction.Slot{}, fmt.Errorf("slot %s: %w", id, err)
	}
	if start > math.MaxInt64-duration {
		return auction.Slot{}, fmt.Errorf("slot %s: end overflows int64 milliseconds", id)
	}
	return auction.Slot{
		ID:            id,
		StartTime:     start,
		DurationMs:    duration,
		TimeOwner:     owner,
		MinBid:        uint64(f.MinBid),
		AuctionEnd:    auctionEnd,
		CurrentBidder: bidder,
		CurrentBid:    uint64(f.CurrentBid),
		Instructions:  instructions,
		Finalized:     f.Finalized,
		Claimed:       f.Claimed,
	}, nil
}

// decodeOptionAddress accepts an Option<address> rendered as a bare string,
// null, or {"vec": [...]}.
func decodeOptionAddress(raw json.RawMessage) (auction.Address, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", nil
		}
		return auction.ParseAddress(s)
	}
	var opt struct {
		Vec []string `json:"vec"`
	}
	if err := json.Unmarshal(raw, &opt); err != nil {
		return "", err
	}
	if len(opt.Vec) == 0 || opt.Vec[0] == "" {
		return "", nil
	}
	return auction.ParseAddress(opt.Vec[0])
}

// decodeOptionBytes accepts an Option<vector<u8>> rendered as
// {"vec": [[104, 105]]}, a bare byte array, or null.
func decodeOptionBytes(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var opt struct {
		Vec [][]int `json:"vec"`
	}
	if err := json.Unmarshal(raw, &opt); err == nil {
		if len(opt.Vec) == 0 {
			return nil, nil
		}
		return intsToBytes(opt.Vec[0])
	}
	var bare []int
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, err
	}
	return intsToBytes(bare)
}

func intsToBytes(in []int) ([]byte, error) {
	out := make([]byte, len(in))
	for i, v := range in {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

type eventID struct {
	TxDigest string `json:"txDigest"`
	EventSeq string `json:"eventSeq"`
}

type eventEnvelope struct {
	ID          eventID         `json:"id"`
	Type        string          `json:"type"`
	ParsedJSON  json.RawMessage `json:"parsedJson"`
	TimestampMs u64             `json:"timestampMs"`
}

func (e eventEnvelope) decode(out any) error {
	if err := json.Unmarshal(e.ParsedJSON, out); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return nil
}

type eventPage struct {
	Data        []eventEnvelope `json:"data"`
	NextCursor  *eventID        `json:"nextCursor"`
	HasNextPage bool            `json:"hasNextPage"`
}

type slotCreatedEvent struct {
	SlotID    string `json:"slot_id"`
	TimeOwner string `json:"time_owner"`
}

type bidPlacedEvent struct {
	SlotID    string `json:"slot_id"`
	Bidder    string `json:"bidder"`
	Amount    u64    `json:"amount"`
	Timestamp u64    `json:"timestamp"`
}

func sortByStart(slots []auction.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].StartTime == slots[j].StartTime {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].StartTime < slots[j].StartTime
	})
}
