/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auction

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// addressHexLen is the number of hex digits in a full ledger address.
const addressHexLen = 64

// ErrInvalidAddress is returned when an address cannot be parsed.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a normalised ledger account or object address: "0x" followed by
// 64 lowercase hex digits. The empty Address means "none".
type Address string

// ParseAddress normalises raw into an Address. Short forms such as "0x6" are
// left-padded with zeros and upper case digits are accepted.
func ParseAddress(raw string) (Address, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasPrefix(s, "0x") {
		return "", fmt.Errorf("%w: %q missing 0x prefix", ErrInvalidAddress, raw)
	}
	body := s[2:]
	if len(body) == 0 || len(body) > addressHexLen {
		return "", fmt.Errorf("%w: %q has %d hex digits", ErrInvalidAddress, raw, len(body))
	}
	padded := strings.Repeat("0", addressHexLen-len(body)) + body
	b, err := hexutil.Decode("0x" + padded)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidAddress, raw, err)
	}
	return Address(hexutil.Encode(b)), nil
}

// MustParseAddress is ParseAddress that panics on error. Intended for tests
// and constants.
func MustParseAddress(raw string) Address {
	a, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}

// String returns the address text.
func (a Address) String() string {
	return string(a)
}

// Short returns an abbreviated form for logs, e.g. "0x1234…abcd".
func (a Address) Short() string {
	if len(a) < 12 {
		return string(a)
	}
	return string(a[:6]) + "…" + string(a[len(a)-4:])
}
