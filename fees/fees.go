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

// Package fees implements the relay's fee arithmetic. Amounts are
// native-coin base units (lamports) held in uint64; ratios and
// multipliers are the only float paths and every result crosses back
// into integers through an explicit ceil or floor.
package fees

import (
	"math"

	"github.com/pyrelay/pyrelay/params"
)

// maxUint64Float is 2^64; float results at or above it cannot be
// brought back into uint64.
const maxUint64Float = float64(math.MaxUint64)

// Calculate returns the native fee for a transaction consuming
// computeUnits at the given base fee, scaled by the relay markup.
// Units beyond the protocol maximum are clamped, a non-positive markup
// falls back to the default, and the result is rounded up. ok is false
// when the result does not fit in uint64.
func Calculate(computeUnits, baseFee uint64, markup float64) (fee uint64, ok bool) {
	if markup <= 0 {
		markup = params.DefaultFeeMarkup
	}
	if computeUnits > params.MaxComputeUnits {
		computeUnits = params.MaxComputeUnits
	}
	priority := float64(computeUnits) * params.PriorityFeePerCU
	total := math.Ceil((float64(baseFee) + priority) * markup)
	if total < 0 || total >= maxUint64Float {
		return 0, false
	}
	return uint64(total), true
}

// ApplyMultiplier scales a fee by the token-score multiplier. Risky
// tokens carry multipliers above one; values below one are raised to
// one so a multiplier can never discount. ok is false on overflow.
func ApplyMultiplier(fee uint64, multiplier float64) (uint64, bool) {
	if multiplier < 1 {
		multiplier = 1
	}
	scaled := math.Ceil(float64(fee) * multiplier)
	if scaled >= maxUint64Float {
		return 0, false
	}
	return uint64(scaled), true
}

// HolderDiscount maps the caller's share of the ecosystem token supply
// to a fee discount on the curve clamp(0, max, (log10(share)+5)/3).
// A share of 1e-5 earns nothing; 1e-2 and above earns the maximum.
func HolderDiscount(share float64) float64 {
	if share <= 0 {
		return 0
	}
	d := (math.Log10(share) + 5) / 3
	if d < 0 {
		return 0
	}
	if d > params.MaxHolderDiscount {
		return params.MaxHolderDiscount
	}
	return d
}

// ApplyDiscount reduces fee by discount but never below floor, the
// break-even fee covering the relay's own network cost. atFloor
// reports whether the clamp fired, so quotes can advertise that the
// full discount was not applied.
func ApplyDiscount(fee uint64, discount float64, floor uint64) (discounted uint64, atFloor bool) {
	if discount < 0 {
		discount = 0
	}
	if discount > params.MaxHolderDiscount {
		discount = params.MaxHolderDiscount
	}
	f := math.Ceil(float64(fee) * (1 - discount))
	if f >= maxUint64Float {
		discounted = fee
	} else if discounted = uint64(f); discounted > fee {
		discounted = fee
	}
	if discounted < floor {
		return floor, true
	}
	return discounted, false
}

// Split divides a collected fee into the burn and treasury portions.
// The burn share is floor(total*burnRatio) and the treasury keeps the
// remainder, so burn+treasury always equals total. The ratio is
// clamped to [0,1].
func Split(total uint64, burnRatio float64) (burn, treasury uint64) {
	if burnRatio < 0 {
		burnRatio = 0
	}
	if burnRatio > 1 {
		burnRatio = 1
	}
	f := math.Floor(float64(total) * burnRatio)
	if f >= maxUint64Float {
		burn = total
	} else if burn = uint64(f); burn > total {
		burn = total
	}
	return burn, total - burn
}

// BreakEven returns the minimum fee whose treasury portion still covers
// networkCost, i.e. ceil(cost/treasuryRatio). Ratios outside (0,1]
// degrade to the cost itself.
func BreakEven(networkCost uint64, treasuryRatio float64) uint64 {
	if treasuryRatio <= 0 || treasuryRatio > 1 {
		return networkCost
	}
	floor := math.Ceil(float64(networkCost) / treasuryRatio)
	if floor >= maxUint64Float {
		return math.MaxUint64
	}
	return uint64(floor)
}

// DualBurn returns the portion of a non-ecosystem token balance burned
// directly in that token. The percentage comes from the holder oracle
// and is capped at 1/phi^2.
func DualBurn(balance uint64, pct float64) uint64 {
	if pct <= 0 {
		return 0
	}
	if pct > params.MaxDualBurnRatio {
		pct = params.MaxDualBurnRatio
	}
	return uint64(math.Floor(float64(balance) * pct))
}

// Holder tier labels, derived from the supply share for display only.
// The discount curve is the source of truth for pricing.
const (
	TierNone    = "none"
	TierBronze  = "bronze"
	TierSilver  = "silver"
	TierGold    = "gold"
	TierDiamond = "diamond"
)

// TierForShare names the holder tier for a supply share.
func TierForShare(share float64) string {
	pct := share * 100
	switch {
	case pct >= 1:
		return TierDiamond
	case pct >= 0.1:
		return TierGold
	case pct >= 0.01:
		return TierSilver
	case pct >= 0.001:
		return TierBronze
	default:
		return TierNone
	}
}
