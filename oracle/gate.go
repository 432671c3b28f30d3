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

package oracle

import (
	"context"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/log"
)

// TokenGate combines the verifier with a curated mint list into the
// public accepted-token directory. The curated list seeds the
// directory; verdicts decide what actually shows.
type TokenGate struct {
	verifier HolderVerifier
	known    []common.Pubkey
	logger   log.Logger
}

// NewTokenGate builds the gate over a curated mint list, typically the
// ecosystem token plus the diamond set.
func NewTokenGate(verifier HolderVerifier, known []common.Pubkey, logger log.Logger) *TokenGate {
	return &TokenGate{verifier: verifier, known: known, logger: logger}
}

// Accepted returns the directory of currently accepted payment tokens.
// Mints whose verification fails are omitted rather than failing the
// listing.
func (g *TokenGate) Accepted(ctx context.Context) ([]types.TokenMeta, error) {
	out := make([]types.TokenMeta, 0, len(g.known))
	for _, mint := range g.known {
		verdict, err := g.verifier.VerifyToken(ctx, mint)
		if err != nil {
			g.logger.Warn("Token listing skipped unverifiable mint", "mint", mint, "err", err)
			continue
		}
		if !verdict.Accepted {
			continue
		}
		out = append(out, types.TokenMeta{
			Mint:       mint,
			Symbol:     verdict.Symbol,
			Decimals:   verdict.Decimals,
			Tier:       verdict.Tier,
			Score:      verdict.Score,
			Multiplier: verdict.Multiplier,
		})
	}
	return out, nil
}

// Allows reports whether a mint clears the acceptance tier.
func (g *TokenGate) Allows(ctx context.Context, mint common.Pubkey) (bool, *TokenVerdict, error) {
	verdict, err := g.verifier.VerifyToken(ctx, mint)
	if err != nil {
		return false, nil, err
	}
	return verdict.Accepted, verdict, nil
}
