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

package types

import (
	"time"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
)

// Transaction is the durable record of one relayed transaction, keyed
// by the quote that priced it.
type Transaction struct {
	QuoteID       string           `json:"quoteId"`
	Signature     common.Signature `json:"signature"`
	UserAccount   common.Pubkey    `json:"userPubkey"`
	PaymentToken  common.Pubkey    `json:"paymentToken"`
	FeePayer      common.Pubkey    `json:"feePayer"`
	FeeAmount     math.Amount      `json:"feeAmount"`
	FeeNative     math.Amount      `json:"feeNative"`
	BurnPortion   math.Amount      `json:"burnPortion"`
	TreasuryShare math.Amount      `json:"treasuryShare"`
	CorrelationID string           `json:"correlationId,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// DailyAggregate accumulates per-UTC-day statistics in the cold store.
type DailyAggregate struct {
	Day           string      `json:"day"`
	Burns         uint64      `json:"burns"`
	Transactions  uint64      `json:"transactions"`
	UniqueWallets uint64      `json:"uniqueWallets"`
	FeesNative    math.Amount `json:"feesNative"`
	TreasuryEnd   math.Amount `json:"treasuryEnd"`
}

// StatsSnapshot is the public counters view served by /v1/stats.
type StatsSnapshot struct {
	BurnTotal   math.Amount `json:"burnTotal"`
	TxCount     uint64      `json:"txCount"`
	FeesNative  math.Amount `json:"feesNative"`
	TreasuryEco math.Amount `json:"treasuryEcotoken"`
	LastBurnAt  time.Time   `json:"lastBurnAt,omitempty"`
	GeneratedAt time.Time   `json:"generatedAt"`
}

// LeaderboardEntry is one row of the burn-contribution leaderboard.
type LeaderboardEntry struct {
	Wallet common.Pubkey `json:"wallet"`
	Burned math.Amount   `json:"burned"`
	Rank   int64         `json:"rank"`
}

// WalletStats is the per-wallet public view.
type WalletStats struct {
	Wallet       common.Pubkey `json:"wallet"`
	Burned       math.Amount   `json:"burned"`
	Rank         int64         `json:"rank"`
	Transactions uint64        `json:"transactions"`
}
