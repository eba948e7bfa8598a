/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import "time"

// ObserveLedgerCall records the latency and outcome of one ledger call.
func ObserveLedgerCall(method string, start time.Time, err error) {
	LedgerCallDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LedgerCallsTotal.WithLabelValues(method, outcome).Inc()
}
