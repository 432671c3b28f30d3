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

// BurnKind classifies how ecosystem tokens left circulation.
type BurnKind string

const (
	// BurnDirect burns treasury-held ecosystem tokens as-is.
	BurnDirect BurnKind = "direct"
	// BurnSwap burns ecosystem tokens bought from a collected fee token.
	BurnSwap BurnKind = "swap"
	// BurnEcosystem burns a slice of a non-ecosystem token directly,
	// the dual-burn bonus.
	BurnEcosystem BurnKind = "ecosystem"
	// BurnBatch is a single transaction spanning several burn
	// instructions collected in one worker cycle.
	BurnBatch BurnKind = "batch"
)

// BurnProof is the append-only record of one burn transaction.
type BurnProof struct {
	Signature      common.Signature `json:"signature"`
	Kind           BurnKind         `json:"kind"`
	AmountEcotoken math.Amount      `json:"amountEcotoken"`

	// AmountSource is the quantity of SourceToken destroyed by a
	// direct dual burn, in that token's own units.
	AmountSource     math.Amount    `json:"amountSource,omitempty"`
	AmountNative     math.Amount    `json:"amountNative,omitempty"`
	TreasuryRetained math.Amount    `json:"treasuryRetained,omitempty"`
	SourceToken      *common.Pubkey `json:"sourceToken,omitempty"`
	Instructions     int            `json:"instructions,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
	ExplorerURL      string         `json:"explorerUrl"`
}

// TreasuryHolding is one token account owned by the treasury, as seen
// by the burn worker's scan.
type TreasuryHolding struct {
	Mint     common.Pubkey `json:"mint"`
	Account  common.Pubkey `json:"account"`
	Amount   math.Amount   `json:"amount"`
	Decimals uint8         `json:"decimals"`
	Symbol   string        `json:"symbol,omitempty"`
	USDValue float64       `json:"usdValue"`
}

// TreasuryEvent records a treasury-side action that is not a burn,
// such as a velocity-driven refill swap.
type TreasuryEvent struct {
	Kind      string      `json:"kind"`
	AmountIn  math.Amount `json:"amountIn"`
	AmountOut math.Amount `json:"amountOut"`
	Signature string      `json:"signature,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
