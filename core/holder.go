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

package core

import (
	"context"
	"sync"
	"time"

	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/fees"
	"github.com/pyrelay/pyrelay/params"
)

// SupplyReader is the chain slice holder-tier resolution needs,
// satisfied by *chain.Pool.
type SupplyReader interface {
	GetTokenSupply(ctx context.Context, mint common.Pubkey) (chain.TokenSupply, error)
	GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error)
}

// HolderTiers resolves a wallet's ecosystem-token supply share and the
// fee discount it earns. Supply is cached; balances are read fresh so
// a wallet cannot keep a discount after selling.
type HolderTiers struct {
	reader SupplyReader
	mint   common.Pubkey

	mu        sync.Mutex
	supply    chain.TokenSupply
	supplyAt  time.Time
	supplyTTL time.Duration

	now func() time.Time
}

// NewHolderTiers builds the resolver. A zero mint disables discounts
// entirely.
func NewHolderTiers(reader SupplyReader, mint common.Pubkey) *HolderTiers {
	return &HolderTiers{
		reader:    reader,
		mint:      mint,
		supplyTTL: params.SupplyCacheTTLSeconds * time.Second,
		now:       time.Now,
	}
}

func (h *HolderTiers) circulatingSupply(ctx context.Context) (uint64, error) {
	h.mu.Lock()
	if !h.supplyAt.IsZero() && h.now().Sub(h.supplyAt) < h.supplyTTL {
		amount := h.supply.Amount
		h.mu.Unlock()
		return amount, nil
	}
	h.mu.Unlock()

	supply, err := h.reader.GetTokenSupply(ctx, h.mint)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	h.supply = supply
	h.supplyAt = h.now()
	h.mu.Unlock()
	return supply.Amount, nil
}

// TierFor returns the wallet's holder tier. Chain failures degrade to
// the zero tier rather than blocking the quote.
func (h *HolderTiers) TierFor(ctx context.Context, wallet common.Pubkey) (types.HolderTier, error) {
	none := types.HolderTier{Tier: fees.TierNone}
	if h.mint.IsZero() {
		return none, nil
	}
	supply, err := h.circulatingSupply(ctx)
	if err != nil || supply == 0 {
		return none, err
	}
	balance, err := h.reader.GetTokenBalance(ctx, wallet, h.mint)
	if err != nil {
		return none, err
	}
	share := float64(balance) / float64(supply)
	return types.HolderTier{
		Tier:     fees.TierForShare(share),
		Share:    share,
		Discount: fees.HolderDiscount(share),
	}, nil
}
