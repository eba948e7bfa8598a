/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestProductionLogsJSONAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("production", &buf)

	logger.Debug().Msg("hidden")
	logger.Info().Str("slot_id", "0x1").Msg("shown")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "shown" || entry["slot_id"] != "0x1" || entry["service"] != "slotmarket" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestDevelopmentLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithWriter("development", &buf)
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("level = %v, want debug", logger.GetLevel())
	}
	logger.Debug().Msg("visible")
	if !bytes.Contains(buf.Bytes(), []byte("visible")) {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}
