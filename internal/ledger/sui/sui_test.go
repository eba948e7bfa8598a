/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sui

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotmarket/internal/auction"
	"github.com/friendsincode/slotmarket/internal/ledger"
)

const pkg = "0x00000000000000000000000000000000000000000000000000000000000000aa"

var (
	owner = auction.MustParseAddress("0xa11ce")
	alice = auction.MustParseAddress("0xa1")
)

type rpcHandler func(params []json.RawMessage) any

// fakeNode is a minimal JSON-RPC 2.0 server.
type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string][][]json.RawMessage
}

func newFakeNode(t *testing.T) (*fakeNode, *httptest.Server) {
	f := &fakeNode{handlers: map[string]rpcHandler{}, calls: map[string][][]json.RawMessage{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		h, ok := f.handlers[req.Method]
		f.calls[req.Method] = append(f.calls[req.Method], req.Params)
		f.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if !ok {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		} else {
			resp["result"] = h(req.Params)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeNode) on(method string, h rpcHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = h
}

func (f *fakeNode) callsTo(method string) [][]json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func dial(t *testing.T, nodeURL, relayURL string, slotMs int64) *Client {
	t.Helper()
	c, err := Dial(context.Background(), Config{
		RPCURL:         nodeURL,
		RelayURL:       relayURL,
		PackageID:      pkg,
		SlotDurationMs: slotMs,
		PageLimit:      2,
		Timeout:        2 * time.Second,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func slotObject(id string, start int64, bidder any, bid string) map[string]any {
	return map[string]any{
		"data": map[string]any{
			"objectId": id,
			"content": map[string]any{
				"dataType": "moveObject",
				"type":     pkg + "::time_slot::TimeSlot",
				"fields": map[string]any{
					"start_time":     itoa(start),
					"duration_ms":    "60000",
					"time_owner":     owner.String(),
					"current_bidder": bidder,
					"current_bid":    bid,
					"min_bid":        "100",
					"auction_end":    itoa(start - 1000),
					"instructions":   map[string]any{"vec": [][]int{{104, 105}}},
					"finalized":      false,
					"claimed":        false,
				},
			},
		},
	}
}

func setField(obj map[string]any, key string, value any) map[string]any {
	obj["data"].(map[string]any)["content"].(map[string]any)["fields"].(map[string]any)[key] = value
	return obj
}

func decodeSent(t *testing.T, raw json.RawMessage) executeRequest {
	t.Helper()
	var sent executeRequest
	if err := json.Unmarshal(raw, &sent); err != nil {
		t.Fatalf("decode relay request: %v", err)
	}
	return sent
}

func itoa(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func TestNowReadsClockObject(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("sui_getObject", func(params []json.RawMessage) any {
		return map[string]any{"data": map[string]any{
			"objectId": "0x6",
			"content":  map[string]any{"dataType": "moveObject", "fields": map[string]any{"timestamp_ms": "1700000000123"}},
		}}
	})
	c := dial(t, srv.URL, "", 0)

	now, err := c.Now(context.Background())
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if now != 1700000000123 {
		t.Fatalf("now = %d", now)
	}

	calls := node.callsTo("sui_getObject")
	if len(calls) != 1 {
		t.Fatalf("sui_getObject calls = %d, want 1", len(calls))
	}
	var id string
	if err := json.Unmarshal(calls[0][0], &id); err != nil || id != "0x6" {
		t.Fatalf("clock object id = %s", calls[0][0])
	}
}

func TestNowRejectsClockBeyondInt64(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("sui_getObject", func(params []json.RawMessage) any {
		return map[string]any{"data": map[string]any{
			"objectId": "0x6",
			"content":  map[string]any{"dataType": "moveObject", "fields": map[string]any{"timestamp_ms": "9223372036854775808"}},
		}}
	})
	c := dial(t, srv.URL, "", 0)

	if now, err := c.Now(context.Background()); err == nil {
		t.Fatalf("Now = %d, want range error", now)
	}
}

func TestQuerySlot(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("sui_getObject", func(params []json.RawMessage) any {
		var id string
		_ = json.Unmarshal(params[0], &id)
		if id == "0xmissing" {
			return map[string]any{"error": map[string]any{"code": "notExists", "object_id": id}}
		}
		return slotObject(id, 5000, alice.String(), "250")
	})
	c := dial(t, srv.URL, "", 0)

	s, err := c.QuerySlot(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("QuerySlot: %v", err)
	}
	if s.StartTime != 5000 || s.AuctionEnd != 4000 {
		t.Fatalf("slot times = %d/%d", s.StartTime, s.AuctionEnd)
	}
	if s.CurrentBidder != alice || s.CurrentBid != 250 {
		t.Fatalf("bid = %s/%d", s.CurrentBidder, s.CurrentBid)
	}
	if string(s.Instructions) != "hi" {
		t.Fatalf("instructions = %q", s.Instructions)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if _, err := c.QuerySlot(context.Background(), "0xmissing"); !errors.Is(err, auction.ErrNotFound) {
		t.Fatalf("missing slot err = %v, want ErrNotFound", err)
	}
}

func TestQuerySlotEmptyBidder(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("sui_getObject", func(params []json.RawMessage) any {
		return slotObject("0x01", 5000, "", "0")
	})
	c := dial(t, srv.URL, "", 0)

	s, err := c.QuerySlot(context.Background(), "0x01")
	if err != nil {
		t.Fatalf("QuerySlot: %v", err)
	}
	if !s.CurrentBidder.IsZero() || s.HasBid() {
		t.Fatalf("slot = %+v, want no bid", s)
	}
}

func TestQuerySlotRejectsValuesBeyondInt64(t *testing.T) {
	tests := []struct {
		field string
		value string
	}{
		{"start_time", "9223372036854775808"},
		{"duration_ms", "18446744073709551615"},
		{"auction_end", "9223372036854775808"},
		// Fits int64 alone, but start plus duration does not.
		{"start_time", "9223372036854775000"},
	}
	for _, tc := range tests {
		t.Run(tc.field+"="+tc.value, func(t *testing.T) {
			node, srv := newFakeNode(t)
			node.on("sui_getObject", func(params []json.RawMessage) any {
				return setField(slotObject("0x01", 5000, "", "0"), tc.field, tc.value)
			})
			c := dial(t, srv.URL, "", 0)

			s, err := c.QuerySlot(context.Background(), "0x01")
			if err == nil {
				t.Fatalf("QuerySlot = %+v, want range error", s)
			}
			if !strings.Contains(err.Error(), "0x01") {
				t.Fatalf("error %q does not name the slot", err)
			}
		})
	}
}

func TestQuerySlotsByOwnerPaginates(t *testing.T) {
	node, srv := newFakeNode(t)
	other := auction.MustParseAddress("0xbeef")
	node.on("suix_queryEvents", func(params []json.RawMessage) any {
		if string(params[1]) == "null" {
			return map[string]any{
				"data": []any{
					map[string]any{"id": map[string]any{"txDigest": "d1", "eventSeq": "0"}, "parsedJson": map[string]any{"slot_id": "0x03", "time_owner": owner.String()}},
					map[string]any{"id": map[string]any{"txDigest": "d1", "eventSeq": "1"}, "parsedJson": map[string]any{"slot_id": "0x09", "time_owner": other.String()}},
				},
				"nextCursor":  map[string]any{"txDigest": "d1", "eventSeq": "1"},
				"hasNextPage": true,
			}
		}
		return map[string]any{
			"data": []any{
				map[string]any{"id": map[string]any{"txDigest": "d0", "eventSeq": "0"}, "parsedJson": map[string]any{"slot_id": "0x02", "time_owner": owner.String()}},
			},
			"nextCursor":  nil,
			"hasNextPage": false,
		}
	})
	node.on("sui_multiGetObjects", func(params []json.RawMessage) any {
		var ids []string
		_ = json.Unmarshal(params[0], &ids)
		out := make([]any, 0, len(ids))
		for _, id := range ids {
			start := int64(9000)
			if id == "0x02" {
				start = 8000
			}
			out = append(out, slotObject(id, start, nil, "0"))
		}
		return out
	})
	c := dial(t, srv.URL, "", 0)

	slots, err := c.QuerySlotsByOwner(context.Background(), owner)
	if err != nil {
		t.Fatalf("QuerySlotsByOwner: %v", err)
	}
	if len(slots) != 2 || slots[0].ID != "0x02" || slots[1].ID != "0x03" {
		t.Fatalf("slots = %+v, want 0x02 then 0x03", slots)
	}
	queries := node.callsTo("suix_queryEvents")
	if len(queries) != 2 {
		t.Fatalf("suix_queryEvents calls = %d, want 2", len(queries))
	}

	var query map[string]string
	if err := json.Unmarshal(queries[0][0], &query); err != nil {
		t.Fatalf("decode query: %v", err)
	}
	if query["MoveEventType"] != pkg+"::time_slot::SlotCreated" {
		t.Fatalf("event filter = %v", query)
	}
}

func TestQueryBidHistoryFiltersAndLimits(t *testing.T) {
	node, srv := newFakeNode(t)
	node.on("suix_queryEvents", func(params []json.RawMessage) any {
		return map[string]any{
			"data": []any{
				map[string]any{"id": map[string]any{"txDigest": "a"}, "parsedJson": map[string]any{"slot_id": "0x01", "bidder": alice.String(), "amount": "300", "timestamp": "20"}},
				map[string]any{"id": map[string]any{"txDigest": "b"}, "parsedJson": map[string]any{"slot_id": "0x02", "bidder": alice.String(), "amount": "999", "timestamp": "15"}},
				map[string]any{"id": map[string]any{"txDigest": "c"}, "parsedJson": map[string]any{"slot_id": "0x01", "bidder": alice.String(), "amount": "200", "timestamp": "10"}},
			},
			"hasNextPage": false,
		}
	})
	c := dial(t, srv.URL, "", 0)

	bids, err := c.QueryBidHistory(context.Background(), "0x01", 1)
	if err != nil {
		t.Fatalf("QueryBidHistory: %v", err)
	}
	want := []ledger.BidEvent{{SlotID: "0x01", Bidder: alice, Amount: 300, Timestamp: 20, Digest: "a"}}
	if !reflect.DeepEqual(bids, want) {
		t.Fatalf("bids = %+v, want %+v", bids, want)
	}

	bids, err = c.QueryBidHistory(context.Background(), "0x01", 0)
	if err != nil || len(bids) != 2 {
		t.Fatalf("unlimited history = %d bids, %v; want 2", len(bids), err)
	}
}

func TestSubmitCreateSlotsBatch(t *testing.T) {
	_, nodeSrv := newFakeNode(t)
	relay, relaySrv := newFakeNode(t)
	relay.on(relayMethod, func(params []json.RawMessage) any {
		return map[string]any{
			"digest":  "9xDigest",
			"effects": map[string]any{"status": map[string]any{"status": "success"}},
			"objectChanges": []any{
				map[string]any{"type": "mutated", "objectType": "0x2::coin::Coin<0x2::sui::SUI>", "objectId": "0xcoin"},
				map[string]any{"type": "created", "objectType": pkg + "::time_slot::TimeSlot", "objectId": "0x0a"},
				map[string]any{"type": "created", "objectType": pkg + "::time_slot::TimeSlot", "objectId": "0x0b"},
			},
		}
	})
	c := dial(t, nodeSrv.URL, relaySrv.URL, 60_000)

	reqs := []ledger.CreateSlotRequest{
		{Owner: owner, StartTime: 100_000, DurationMs: 60_000, MinBid: 10, AuctionDurationMs: 50_000},
		{Owner: owner, StartTime: 160_000, DurationMs: 60_000, MinBid: 10, AuctionDurationMs: 50_000},
	}
	res, err := c.SubmitCreateSlots(context.Background(), owner, reqs)
	if err != nil {
		t.Fatalf("SubmitCreateSlots: %v", err)
	}
	if res.Digest != "9xDigest" || !reflect.DeepEqual(res.CreatedSlotIDs, []string{"0x0a", "0x0b"}) {
		t.Fatalf("result = %+v", res)
	}

	calls := relay.callsTo(relayMethod)
	if len(calls) != 1 {
		t.Fatalf("relay calls = %d, want 1", len(calls))
	}
	sent := decodeSent(t, calls[0][0])
	if sent.Sender != owner.String() || len(sent.Calls) != 2 {
		t.Fatalf("sent = %+v", sent)
	}
	if sent.Calls[0].Target != pkg+"::time_slot::create_time_slot" {
		t.Fatalf("target = %s", sent.Calls[0].Target)
	}
	wantArgs := []MoveArg{
		{Kind: argPure, Value: "160000"},
		{Kind: argPure, Value: "10"},
		{Kind: argPure, Value: "50000"},
		{Kind: argObject, Value: "0x6"},
	}
	if !reflect.DeepEqual(sent.Calls[1].Arguments, wantArgs) {
		t.Fatalf("args = %+v, want %+v", sent.Calls[1].Arguments, wantArgs)
	}
}

func TestSubmitReportsFailureStatus(t *testing.T) {
	_, nodeSrv := newFakeNode(t)
	relay, relaySrv := newFakeNode(t)
	relay.on(relayMethod, func(params []json.RawMessage) any {
		return map[string]any{
			"digest":  "failed",
			"effects": map[string]any{"status": map[string]any{"status": "failure", "error": "MoveAbort(place_bid, 2)"}},
		}
	})
	c := dial(t, nodeSrv.URL, relaySrv.URL, 0)

	res, err := c.SubmitBid(context.Background(), "0x01", 500, alice)
	if !errors.Is(err, ledger.ErrTxFailed) || !strings.Contains(err.Error(), "MoveAbort") {
		t.Fatalf("err = %v, want ErrTxFailed with abort", err)
	}
	if res.Status != ledger.TxFailure {
		t.Fatalf("status = %s", res.Status)
	}

	sent := decodeSent(t, relay.callsTo(relayMethod)[0][0])
	if sent.Calls[0].Target != pkg+"::time_slot::place_bid" {
		t.Fatalf("target = %s", sent.Calls[0].Target)
	}
	if got := sent.Calls[0].Arguments[1]; got != (MoveArg{Kind: argGasSplit, Value: "500"}) {
		t.Fatalf("payment arg = %+v", got)
	}
}

func TestSubmitGuards(t *testing.T) {
	_, nodeSrv := newFakeNode(t)
	c := dial(t, nodeSrv.URL, "", 60_000)

	if _, err := c.SubmitFinalize(context.Background(), "0x01", alice); !errors.Is(err, ErrRelayNotConfigured) {
		t.Fatalf("finalize err = %v, want ErrRelayNotConfigured", err)
	}
	if _, err := c.SubmitCreateSlot(context.Background(), ledger.CreateSlotRequest{Owner: owner, StartTime: 1, DurationMs: 30_000}); !errors.Is(err, ErrUnsupportedDuration) {
		t.Fatalf("create err = %v, want ErrUnsupportedDuration", err)
	}
	if _, err := c.SubmitCreateSlot(context.Background(), ledger.CreateSlotRequest{Owner: owner, StartTime: -1, DurationMs: 60_000}); err == nil || !strings.Contains(err.Error(), "negative") {
		t.Fatalf("negative start err = %v", err)
	}
}

func TestSetInstructionsEncodesHex(t *testing.T) {
	_, nodeSrv := newFakeNode(t)
	relay, relaySrv := newFakeNode(t)
	relay.on(relayMethod, func(params []json.RawMessage) any {
		return map[string]any{"digest": "ok", "effects": map[string]any{"status": map[string]any{"status": "success"}}}
	})
	c := dial(t, nodeSrv.URL, relaySrv.URL, 0)

	if _, err := c.SubmitSetInstructions(context.Background(), "0x01", []byte("hi"), alice); err != nil {
		t.Fatalf("SubmitSetInstructions: %v", err)
	}

	sent := decodeSent(t, relay.callsTo(relayMethod)[0][0])
	if got := sent.Calls[0].Arguments[1]; got != (MoveArg{Kind: argBytes, Value: "0x6869"}) {
		t.Fatalf("instructions arg = %+v", got)
	}
}
