/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestApplyDefaults(t *testing.T) {
	cfg := ElectionConfig{}
	if err := cfg.applyDefaults(); err != nil {
		t.Fatalf("apply defaults: %v", err)
	}
	if cfg.ElectionKey != defaultElectionKey {
		t.Fatalf("election key = %q", cfg.ElectionKey)
	}
	if cfg.InstanceID == "" {
		t.Fatal("expected generated instance id")
	}
}

func TestApplyDefaultsRejectsSlowRenewal(t *testing.T) {
	cfg := ElectionConfig{LeaseDuration: time.Second, RenewalInterval: 2 * time.Second}
	if err := cfg.applyDefaults(); err == nil {
		t.Fatal("expected error when renewal outlasts lease")
	}
}

func TestNewElectionFailsWithoutRedis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RedisAddr = "127.0.0.1:1"
	if _, err := NewElection(cfg, zerolog.Nop()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestUpdateLeadershipStatusKeepsNewestTransition(t *testing.T) {
	e := &Election{instanceID: "test", leaderCh: make(chan bool, 1)}

	e.updateLeadershipStatus(true)
	e.updateLeadershipStatus(false)
	e.updateLeadershipStatus(false)

	if e.IsLeader() {
		t.Fatal("expected follower")
	}
	select {
	case v := <-e.LeaderCh():
		if v {
			t.Fatal("expected newest transition to be false")
		}
	default:
		t.Fatal("expected a buffered transition")
	}
}
