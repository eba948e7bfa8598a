/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/slotmarket/internal/db"
	"github.com/friendsincode/slotmarket/internal/events"
	"github.com/friendsincode/slotmarket/internal/models"
)

func newAuditTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return database
}

func TestLogAuditEntryExtractsLedgerFields(t *testing.T) {
	database := newAuditTestDB(t)
	svc := NewService(database, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	svc.logAuditEntry(ctx, models.AuditActionBidPlaced, events.Payload{
		"slot_id": "0x01",
		"owner":   "0xaa",
		"bidder":  "0xbb",
		"amount":  uint64(150),
		"digest":  "D1",
		"at":      int64(42),
	})
	svc.logAuditEntry(ctx, models.AuditActionAuctionFinalized, events.Payload{
		"slot_id": "0x01",
		"owner":   "0xaa",
		"caller":  "0xcc",
		"amount":  float64(150),
	})
	svc.logAuditEntry(ctx, models.AuditActionSlotsCreated, events.Payload{
		"owner":      "0xdd",
		"slot_count": 4,
	})
	svc.logAuditEntry(ctx, models.AuditActionBidPlaced, events.Payload{
		"slot_id":        "0x01",
		"owner":          "0xaa",
		events.OriginKey: "node-b",
	})

	logs, total, err := svc.Query(ctx, QueryFilters{SlotID: "0x01"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 || len(logs) != 2 {
		t.Fatalf("slot entries = %d (total %d), want 2", len(logs), total)
	}

	action := models.AuditActionBidPlaced
	logs, _, err = svc.Query(ctx, QueryFilters{Action: &action})
	if err != nil {
		t.Fatalf("query by action: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("bid entries = %d, want 1", len(logs))
	}
	bid := logs[0]
	if bid.Actor != "0xbb" || bid.Owner != "0xaa" || bid.Amount != 150 || bid.Digest != "D1" {
		t.Fatalf("unexpected bid entry: %+v", bid)
	}
	if _, ok := bid.Details["at"]; !ok {
		t.Fatalf("expected remaining payload fields in details, got %v", bid.Details)
	}
	if _, ok := bid.Details["bidder"]; ok {
		t.Fatal("extracted fields should not be duplicated in details")
	}

	logs, _, err = svc.Query(ctx, QueryFilters{Actor: "0xcc"})
	if err != nil {
		t.Fatalf("query by actor: %v", err)
	}
	if len(logs) != 1 || logs[0].Amount != 150 {
		t.Fatalf("finalize entry = %+v", logs)
	}
}

func TestQueryPaginationAndOrder(t *testing.T) {
	database := newAuditTestDB(t)
	svc := NewService(database, events.NewBus(), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := svc.Log(ctx, &models.AuditLog{
			Action:    models.AuditActionCommandIssued,
			Owner:     "0xaa",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("log: %v", err)
		}
	}

	logs, total, err := svc.Query(ctx, QueryFilters{Owner: "0xaa", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 5 {
		t.Fatalf("total = %d, want 5", total)
	}
	if len(logs) != 2 {
		t.Fatalf("page len = %d, want 2", len(logs))
	}
	if !logs[0].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("first page entry at %v, want newest-but-one", logs[0].Timestamp)
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	svc := NewService(newAuditTestDB(t), events.NewBus(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("audit service did not stop")
	}
}
