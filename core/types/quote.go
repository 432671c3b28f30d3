// Copyright 2025 The pyrelay Authors
// This file is part of the pyrelay library.
//
// The pyrelay library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The pyrelay library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the pyrelay library. If not, see <http://www.gnu.org/licenses/>.

// Package types holds the relay's shared data model: quotes, burn
// proofs, transaction records, audit entries and the public stats
// views. The JSON form of each type is both the HTTP wire shape and
// the hot-store serialization.
package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
)

// QuoteType selects the fee pipeline variant.
type QuoteType string

const (
	// QuoteStandard is the plain gasless relay flow.
	QuoteStandard QuoteType = "standard"
	// QuoteIgnition additionally forwards a fixed native amount to a
	// configured destination after the user's payment confirms.
	QuoteIgnition QuoteType = "ignition"
)

// TokenMeta describes an accepted payment token at quote time.
type TokenMeta struct {
	Mint       common.Pubkey `json:"mint"`
	Symbol     string        `json:"symbol"`
	Decimals   uint8         `json:"decimals"`
	Tier       string        `json:"tier"`
	Score      int           `json:"score"`
	Multiplier float64       `json:"multiplier"`
}

// HolderTier is the snapshot of the ecosystem-token discount applied
// to a quote. Share is the holder's fraction of circulating supply.
type HolderTier struct {
	Tier          string  `json:"tier"`
	Share         float64 `json:"share"`
	Discount      float64 `json:"discount"`
	IsAtBreakEven bool    `json:"isAtBreakEven"`
}

// Quote is a priced offer to relay one transaction. It is created by
// the quote service, lives in the hot store until ExpiresAt and is
// consumed exactly once by the submit service.
type Quote struct {
	ID           string        `json:"id"`
	Type         QuoteType     `json:"type"`
	UserAccount  common.Pubkey `json:"userPubkey"`
	PaymentToken common.Pubkey `json:"paymentToken"`
	FeePayer     common.Pubkey `json:"feePayer"`

	// FeeAmount is what the user pays, in the payment token's smallest
	// unit. FeeNative is the native-coin equivalent committed as a
	// reservation against the fee payer.
	FeeAmount    math.Amount `json:"feeAmount"`
	FeeNative    math.Amount `json:"feeNative"`
	FeeFormatted string      `json:"feeFormatted"`

	TokenMeta   TokenMeta  `json:"paymentTokenMeta"`
	HolderTier  HolderTier `json:"holderTier"`
	DualBurnPct float64    `json:"dualBurnPct,omitempty"`

	// Ignition-only fields.
	IgnitionDestination *common.Pubkey `json:"ignitionDestination,omitempty"`
	IgnitionAmount      math.Amount    `json:"ignitionAmountNative,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the quote can no longer be submitted.
func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// TTL returns the remaining lifetime, zero when already expired.
func (q *Quote) TTL(now time.Time) time.Duration {
	if d := q.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// FormatTokenAmount renders amount in the token's display units, e.g.
// 5000 with 6 decimals as "0.005000 X".
func FormatTokenAmount(amount uint64, decimals uint8, symbol string) string {
	s := strconv.FormatUint(amount, 10)
	if d := int(decimals); d > 0 {
		if len(s) <= d {
			s = strings.Repeat("0", d-len(s)+1) + s
		}
		s = s[:len(s)-d] + "." + s[len(s)-d:]
	}
	if symbol == "" {
		return s
	}
	return s + " " + symbol
}
