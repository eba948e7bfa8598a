/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/friendsincode/slotmarket/internal/auction"
)

// ErrMissingAddress is returned for tokens without a usable address.
var ErrMissingAddress = errors.New("token carries no address")

// Claims identify a wallet session, optionally bound to an owner's room.
type Claims struct {
	Address auction.Address `json:"addr"`
	Room    string          `json:"room,omitempty"`
	jwt.RegisteredClaims
}

// Issue creates a signed session token for claims.Address.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	addr, err := auction.ParseAddress(string(claims.Address))
	if err != nil || addr.IsZero() {
		return "", ErrMissingAddress
	}
	claims.Address = addr

	now := time.Now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(now),
		Subject:   addr.String(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Parse validates a token string. Only HS256 is accepted.
func Parse(secret []byte, token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	addr, err := auction.ParseAddress(string(claims.Address))
	if err != nil || addr.IsZero() {
		return nil, ErrMissingAddress
	}
	claims.Address = addr
	return claims, nil
}
