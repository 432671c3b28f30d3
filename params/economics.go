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

// Package params holds the protocol constants and the golden-ratio economics
// that every other package derives its defaults from.
package params

import "math"

// Phi is the golden ratio. The fee split, the treasury retention and the
// dual-burn ceiling are all powers of 1/φ so that the three knobs stay in a
// fixed proportion to each other no matter how the fee volume moves.
var Phi = (1 + math.Sqrt(5)) / 2

var (
	// TreasuryRatio is the fraction of every collected fee retained by the
	// treasury: 1/φ³ ≈ 0.236.
	TreasuryRatio = 1 / (Phi * Phi * Phi)

	// BurnRatio is the fraction of every collected fee destroyed:
	// 1 − 1/φ³ ≈ 0.764.
	BurnRatio = 1 - TreasuryRatio

	// MaxDualBurnRatio caps the ecosystem-burn bonus applied to foreign
	// tokens before they are swapped: 1/φ² ≈ 0.382.
	MaxDualBurnRatio = 1 / (Phi * Phi)
)

// MaxHolderDiscount caps the holder-tier fee discount. Even the largest
// holders pay 5% of the undiscounted fee, which keeps every quote above
// zero before the break-even floor is applied.
const MaxHolderDiscount = 0.95

// Native-coin units.
const (
	LamportsPerSol = 1_000_000_000

	// DefaultBaseFeeLamports is the service base fee before compute-unit
	// pricing, markup and discounts.
	DefaultBaseFeeLamports = 50_000

	// DefaultNetworkFeeLamports is the raw cost of landing one co-signed
	// transaction; it anchors the break-even floor.
	DefaultNetworkFeeLamports = 5_000

	// DefaultFeeMarkup multiplies the computed fee. 1.0 means at-cost.
	DefaultFeeMarkup = 1.0
)

// Compute-unit pricing.
const (
	// MaxComputeUnits is the protocol ceiling for a single transaction;
	// requested estimates are clamped to it.
	MaxComputeUnits = 1_400_000

	// PriorityFeePerCU is the priority component charged per compute unit,
	// in lamports.
	PriorityFeePerCU = 0.001
)

// Quote and replay windows.
const (
	// DefaultQuoteTTLSeconds is how long an issued quote stays redeemable.
	DefaultQuoteTTLSeconds = 60

	// MaxQuoteTTLSeconds bounds operator configuration; quotes that outlive
	// the blockhash window several times over only pin fee-payer capacity.
	MaxQuoteTTLSeconds = 300

	// ReplaySlotTTLSeconds matches the blockhash validity window. Once the
	// blockhash has expired the chain itself rejects the duplicate, so the
	// slot does not need to outlive it.
	ReplaySlotTTLSeconds = 90
)

// Burn worker cadence.
const (
	// BurnIntervalSeconds is the period between burn cycles.
	BurnIntervalSeconds = 60

	// BurnInitialDelaySeconds postpones the first cycle so boot-time RPC
	// traffic settles before the treasury scan starts.
	BurnInitialDelaySeconds = 10

	// BurnLockTTLSeconds must exceed the worst observed cycle, otherwise a
	// second instance can start a cycle mid-flight.
	BurnLockTTLSeconds = 180

	// MaxBurnBatchInstructions is the instruction budget for one batched
	// burn transaction.
	MaxBurnBatchInstructions = 12

	// DefaultDustFloorUSD is the minimum USD value of a treasury token
	// balance worth swapping; anything smaller costs more in DEX fees than
	// it recovers.
	DefaultDustFloorUSD = 1.0
)

// Velocity accounting.
const (
	VelocityWindowMinutes    = 60
	VelocityMinObservedMin   = 6
	VelocityTargetMultiplier = 100 // target buffer = required × 100 ≈ a week of runway

	// DefaultRunwayHours is the signing runway the required buffer must
	// cover between refill swaps.
	DefaultRunwayHours = 2.0

	// DefaultMinBufferLamports is the hard floor under the velocity-derived
	// buffer: 0.05 native coins.
	DefaultMinBufferLamports = 50_000_000
)

// Retry policy for chain submission.
const (
	MaxSubmitRetries      = 3
	SubmitRetryBaseMillis = 500
	SubmitRetryMaxMillis  = 8_000
	SubmitJitterMillis    = 500
)

// Rate limiting defaults (per wallet, per minute).
const (
	DefaultWalletQuoteLimit  = 10
	DefaultWalletSubmitLimit = 5
)

// Hot-store caches and caps.
const (
	JupiterCacheTTLSeconds = 10
	SupplyCacheTTLSeconds  = 300
	BlockhashCacheSeconds  = 2

	AuditLogCap      = 10_000
	BurnProofCap     = 1_000
	TreasuryEventCap = 1_000

	AuditTTLDays = 7
)

// RPC pool behavior.
const (
	LatencyWindowSize       = 50
	DefaultRPCTimeoutSecond = 30
)
