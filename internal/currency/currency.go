/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package currency converts between ledger units and the display unit shown
// to users. It is the only place the scale factor is applied.
package currency

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// UnitsPerDisplay is the number of smallest ledger units in one display unit.
	UnitsPerDisplay = 10_000

	// DisplayPlaces is the number of fractional digits a display amount carries.
	DisplayPlaces = 4
)

var (
	ErrNegative    = errors.New("amount is negative")
	ErrSubUnit     = errors.New("amount is finer than one ledger unit")
	ErrOutOfRange  = errors.New("amount out of range")
	ErrUnparseable = errors.New("amount is not a decimal number")

	scale    = decimal.NewFromInt(UnitsPerDisplay)
	maxUnits = decimal.NewFromUint64(math.MaxUint64)
)

// ToDisplay converts ledger units to the display unit.
func ToDisplay(units uint64) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-DisplayPlaces)
}

// FromDisplay converts a display amount to ledger units. It never rounds:
// amounts with more precision than one ledger unit are rejected.
func FromDisplay(d decimal.Decimal) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegative, d.String())
	}
	units := d.Mul(scale)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrSubUnit, d.String())
	}
	if units.GreaterThan(maxUnits) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfRange, d.String())
	}
	return units.BigInt().Uint64(), nil
}

// ParseDisplay parses a display amount such as "1.25" or "$0.0001".
func ParseDisplay(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "$")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparseable, s)
	}
	return FromDisplay(d)
}

// FormatDisplay renders units as a fixed four-place display string.
func FormatDisplay(units uint64) string {
	return ToDisplay(units).StringFixed(DisplayPlaces)
}
