/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"context"

	"github.com/friendsincode/slotmarket/internal/auction"
)

type contextKey string

const claimsContextKey contextKey = "slotmarketClaims"

// WithClaims attaches JWT claims to the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext retrieves JWT claims from context if present.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok && claims != nil
}

// CallerFromContext returns the authenticated address, or "".
func CallerFromContext(ctx context.Context) auction.Address {
	if claims, ok := ClaimsFromContext(ctx); ok {
		return claims.Address
	}
	return ""
}
