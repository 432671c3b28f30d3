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

package fees

import (
	"math"
	"testing"

	"github.com/pyrelay/pyrelay/params"
)

func TestCalculate(t *testing.T) {
	tests := []struct {
		units   uint64
		baseFee uint64
		markup  float64
		want    uint64
		ok      bool
	}{
		{200_000, 50_000, 1.0, 50_200, true},
		{2_000_000, 50_000, 1.0, 51_400, true}, // clamped to 1.4M units
		{0, 50_000, 1.5, 75_000, true},
		{0, 50_000, 0, 50_000, true}, // markup falls back to default
		{100_000, 5_000, 2.0, 10_200, true},
		{200_000, math.MaxUint64, 1.0, 0, false},
	}
	for i, test := range tests {
		got, ok := Calculate(test.units, test.baseFee, test.markup)
		if ok != test.ok || got != test.want {
			t.Errorf("test %d: Calculate(%d, %d, %v) = (%d, %v), want (%d, %v)",
				i, test.units, test.baseFee, test.markup, got, ok, test.want, test.ok)
		}
	}
}

func TestApplyMultiplier(t *testing.T) {
	tests := []struct {
		fee        uint64
		multiplier float64
		want       uint64
		ok         bool
	}{
		{50_200, 1.0, 50_200, true},
		{50_200, 1.5, 75_300, true},
		{100, 0.5, 100, true}, // multipliers never discount
		{math.MaxUint64, 1.5, 0, false},
	}
	for i, test := range tests {
		got, ok := ApplyMultiplier(test.fee, test.multiplier)
		if ok != test.ok || got != test.want {
			t.Errorf("test %d: ApplyMultiplier(%d, %v) = (%d, %v), want (%d, %v)",
				i, test.fee, test.multiplier, got, ok, test.want, test.ok)
		}
	}
}

func TestHolderDiscount(t *testing.T) {
	tests := []struct {
		share float64
		want  float64
	}{
		{0, 0},
		{-1, 0},
		{1e-6, 0},
		{1e-5, 0},
		{1e-4, 1.0 / 3},
		{1e-3, 2.0 / 3},
		{1e-2, 0.95},
		{1, 0.95},
	}
	for i, test := range tests {
		got := HolderDiscount(test.share)
		if math.Abs(got-test.want) > 1e-9 {
			t.Errorf("test %d: HolderDiscount(%v) = %v, want %v", i, test.share, got, test.want)
		}
	}
}

func TestApplyDiscount(t *testing.T) {
	tests := []struct {
		fee      uint64
		discount float64
		floor    uint64
		want     uint64
		atFloor  bool
	}{
		{50_200, 0, 21_187, 50_200, false},
		{50_200, 0.95, 21_187, 21_187, true},
		{50_200, 0.5, 0, 25_100, false},
		{1_000, 2.0, 0, 50, false},  // discount clamped to 0.95
		{1_000, -1, 0, 1_000, false},
	}
	for i, test := range tests {
		got, atFloor := ApplyDiscount(test.fee, test.discount, test.floor)
		if got != test.want || atFloor != test.atFloor {
			t.Errorf("test %d: ApplyDiscount(%d, %v, %d) = (%d, %v), want (%d, %v)",
				i, test.fee, test.discount, test.floor, got, atFloor, test.want, test.atFloor)
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		total    uint64
		ratio    float64
		burn     uint64
		treasury uint64
	}{
		{50_200, params.BurnRatio, 38_349, 11_851},
		{0, params.BurnRatio, 0, 0},
		{100, 0, 0, 100},
		{100, 1, 100, 0},
		{100, 1.5, 100, 0},
		{7, 0.5, 3, 4},
	}
	for i, test := range tests {
		burn, treasury := Split(test.total, test.ratio)
		if burn != test.burn || treasury != test.treasury {
			t.Errorf("test %d: Split(%d, %v) = (%d, %d), want (%d, %d)",
				i, test.total, test.ratio, burn, treasury, test.burn, test.treasury)
		}
	}
}

// Conservation must hold for any total and ratio.
func TestSplitConservation(t *testing.T) {
	totals := []uint64{0, 1, 2, 7, 999, 50_200, 1 << 40, math.MaxUint64}
	ratios := []float64{0, 0.1, params.TreasuryRatio, 0.5, params.BurnRatio, 0.99, 1}
	for _, total := range totals {
		for _, ratio := range ratios {
			burn, treasury := Split(total, ratio)
			if burn+treasury != total {
				t.Fatalf("Split(%d, %v): %d + %d != %d", total, ratio, burn, treasury, total)
			}
			if burn > total {
				t.Fatalf("Split(%d, %v): burn %d exceeds total", total, ratio, burn)
			}
		}
	}
}

func TestBreakEven(t *testing.T) {
	tests := []struct {
		cost  uint64
		ratio float64
		want  uint64
	}{
		{5_000, 0.236, 21_187},
		{5_000, params.TreasuryRatio, 21_181},
		{0, params.TreasuryRatio, 0},
		{5_000, 0, 5_000},
		{5_000, 1.5, 5_000},
		{5_000, 1, 5_000},
	}
	for i, test := range tests {
		if got := BreakEven(test.cost, test.ratio); got != test.want {
			t.Errorf("test %d: BreakEven(%d, %v) = %d, want %d", i, test.cost, test.ratio, got, test.want)
		}
	}
}

func TestDualBurn(t *testing.T) {
	tests := []struct {
		balance uint64
		pct     float64
		want    uint64
	}{
		{1_000, 0, 0},
		{1_000, -0.5, 0},
		{1_000, 0.2, 200},
		{1_000, 0.9, 381}, // capped at 1/phi^2
		{0, 0.3, 0},
	}
	for i, test := range tests {
		if got := DualBurn(test.balance, test.pct); got != test.want {
			t.Errorf("test %d: DualBurn(%d, %v) = %d, want %d", i, test.balance, test.pct, got, test.want)
		}
	}
}

func TestTierForShare(t *testing.T) {
	tests := []struct {
		share float64
		want  string
	}{
		{0, TierNone},
		{1e-6, TierNone},
		{2e-5, TierBronze},
		{2e-4, TierSilver},
		{2e-3, TierGold},
		{0.02, TierDiamond},
		{1, TierDiamond},
	}
	for i, test := range tests {
		if got := TierForShare(test.share); got != test.want {
			t.Errorf("test %d: TierForShare(%v) = %s, want %s", i, test.share, got, test.want)
		}
	}
}
