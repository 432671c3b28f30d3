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
	stdmath "math"
	"time"

	"github.com/google/uuid"

	"github.com/pyrelay/pyrelay/audit"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/feepayer"
	"github.com/pyrelay/pyrelay/fees"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/params"
)

// Config carries the economics and identity settings the quote and
// submit services share.
type Config struct {
	// BaseFeeLamports and FeeMarkup feed the fee formula;
	// NetworkFeeLamports is the relay's own per-signature cost, used
	// both as the break-even floor input and the reservation buffer.
	BaseFeeLamports    uint64
	NetworkFeeLamports uint64
	FeeMarkup          float64

	// BurnRatio and TreasuryRatio split every fee; zero values take the
	// φ-derived defaults from params.
	BurnRatio     float64
	TreasuryRatio float64

	QuoteTTL time.Duration

	// NativeMint is the wrapped native-coin mint used to price fees in
	// payment tokens. EcotokenMint drives holder discounts; zero
	// disables them.
	NativeMint   common.Pubkey
	EcotokenMint common.Pubkey

	// TreasuryAccount receives the treasury share of every fee.
	TreasuryAccount common.Pubkey

	// Ignition pipeline: forward IgnitionAmount native to the
	// destination after the user's payment confirms.
	IgnitionEnabled     bool
	IgnitionDestination common.Pubkey
	IgnitionAmount      uint64
}

func (c Config) sanitize() Config {
	if c.BaseFeeLamports == 0 {
		c.BaseFeeLamports = params.DefaultBaseFeeLamports
	}
	if c.NetworkFeeLamports == 0 {
		c.NetworkFeeLamports = params.DefaultNetworkFeeLamports
	}
	if c.FeeMarkup <= 0 {
		c.FeeMarkup = params.DefaultFeeMarkup
	}
	if c.BurnRatio <= 0 || c.BurnRatio > 1 {
		c.BurnRatio = params.BurnRatio
	}
	if c.TreasuryRatio <= 0 || c.TreasuryRatio > 1 {
		c.TreasuryRatio = params.TreasuryRatio
	}
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = params.DefaultQuoteTTLSeconds * time.Second
	}
	if max := params.MaxQuoteTTLSeconds * time.Second; c.QuoteTTL > max {
		c.QuoteTTL = max
	}
	return c
}

// QuoteRequest is one priced-offer request, already decoded and
// syntactically valid.
type QuoteRequest struct {
	UserAccount  common.Pubkey
	PaymentToken common.Pubkey
	ComputeUnits uint64
	Type         types.QuoteType

	CorrelationID string
	IP            string
}

// QuoteResponse is the offer returned to the caller.
type QuoteResponse struct {
	Quote                *types.Quote  `json:"quote"`
	TTLSeconds           int           `json:"ttlSeconds"`
	Treasury             common.Pubkey `json:"treasury"`
	TreasuryTokenAccount string        `json:"treasuryTokenAccount,omitempty"`
}

// QuoteService prices relayed transactions and reserves fee-payer
// capacity for them.
type QuoteService struct {
	cfg      Config
	store    *hotdb.Store
	payers   *feepayer.Pool
	dex      oracle.DexAggregator
	verifier oracle.HolderVerifier
	holders  *HolderTiers
	audit    *audit.Recorder
	logger   log.Logger

	now   func() time.Time
	newID func() string
}

// NewQuoteService wires the quote pipeline.
func NewQuoteService(cfg Config, store *hotdb.Store, payers *feepayer.Pool, dex oracle.DexAggregator,
	verifier oracle.HolderVerifier, holders *HolderTiers, rec *audit.Recorder, logger log.Logger) *QuoteService {
	return &QuoteService{
		cfg:      cfg.sanitize(),
		store:    store,
		payers:   payers,
		dex:      dex,
		verifier: verifier,
		holders:  holders,
		audit:    rec,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// CreateQuote runs the pricing pipeline: verify the payment token,
// compute the discounted fee, price it in the payment token, reserve
// fee-payer capacity and persist the offer. The reservation is taken
// before the quote is stored so a stored quote always has backing
// capacity.
func (s *QuoteService) CreateQuote(ctx context.Context, req *QuoteRequest) (*QuoteResponse, error) {
	if req.UserAccount.IsZero() {
		return nil, ErrValidation("userPubkey is required")
	}
	if req.PaymentToken.IsZero() {
		return nil, ErrValidation("paymentToken is required")
	}
	if req.Type == "" {
		req.Type = types.QuoteStandard
	}
	if req.Type == types.QuoteIgnition {
		if !s.cfg.IgnitionEnabled {
			return nil, ErrIgnitionDisabled()
		}
		if s.cfg.IgnitionDestination.IsZero() || s.cfg.IgnitionAmount == 0 {
			return nil, ErrIgnitionNotConfigured()
		}
	}
	s.audit.Activity(ctx, "quote", req.UserAccount.Base58(), req.IP)

	if s.payers.IsCircuitOpenAll() {
		return nil, ErrCircuitOpen(retryAfterSeconds(s.payers.RetryAfterHint()))
	}

	verdict, err := s.verifier.VerifyToken(ctx, req.PaymentToken)
	if err != nil {
		return nil, ErrVerificationFailed().WithCause(err)
	}
	if !verdict.Accepted {
		s.reject(ctx, req, "tier", verdict.Symbol)
		symbol := verdict.Symbol
		if symbol == "" {
			symbol = req.PaymentToken.Base58()
		}
		return nil, ErrTierRejected(symbol)
	}

	fee, ok := fees.Calculate(req.ComputeUnits, s.cfg.BaseFeeLamports, s.cfg.FeeMarkup)
	if !ok {
		s.reject(ctx, req, "overflow", verdict.Symbol)
		return nil, ErrFeeOverflow()
	}
	if fee, ok = fees.ApplyMultiplier(fee, verdict.Multiplier); !ok {
		s.reject(ctx, req, "overflow", verdict.Symbol)
		return nil, ErrFeeOverflow()
	}

	tier, err := s.holders.TierFor(ctx, req.UserAccount)
	if err != nil {
		// A holder-tier outage must not block quoting; the wallet just
		// pays the undiscounted fee this time.
		s.logger.Debug("Holder tier lookup failed", "wallet", req.UserAccount, "err", err)
		tier = types.HolderTier{Tier: fees.TierNone}
	}
	floor := fees.BreakEven(s.cfg.NetworkFeeLamports, s.cfg.TreasuryRatio)
	feeNative, atFloor := fees.ApplyDiscount(fee, tier.Discount, floor)
	tier.IsAtBreakEven = atFloor

	feeAmount := feeNative
	if req.PaymentToken != s.cfg.NativeMint {
		sq, err := s.dex.Quote(ctx, s.cfg.NativeMint, req.PaymentToken, feeNative)
		if err != nil {
			return nil, ErrServiceUnavailable("fee pricing is temporarily unavailable", 10).WithCause(err)
		}
		if sq.OutAmount == 0 {
			return nil, ErrValidation("fee rounds to zero in the payment token")
		}
		feeAmount = sq.OutAmount
	}

	// The reservation covers the native fee plus the relay's own
	// signature cost; ignition quotes also cover the forwarded amount
	// and its extra signature.
	reserve, ok := math.SafeAdd(feeNative, s.cfg.NetworkFeeLamports)
	if ok && req.Type == types.QuoteIgnition {
		if reserve, ok = math.SafeAdd(reserve, s.cfg.IgnitionAmount); ok {
			reserve, ok = math.SafeAdd(reserve, s.cfg.NetworkFeeLamports)
		}
	}
	if !ok {
		return nil, ErrFeeOverflow()
	}

	id := s.newID()
	payer, reserved := s.payers.Reserve(ctx, id, reserve)
	if !reserved {
		s.reject(ctx, req, "capacity", verdict.Symbol)
		return nil, ErrNoPayerCapacity()
	}

	now := s.now()
	quote := &types.Quote{
		ID:           id,
		Type:         req.Type,
		UserAccount:  req.UserAccount,
		PaymentToken: req.PaymentToken,
		FeePayer:     payer,
		FeeAmount:    math.Amount(feeAmount),
		FeeNative:    math.Amount(feeNative),
		FeeFormatted: types.FormatTokenAmount(feeAmount, verdict.Decimals, verdict.Symbol),
		TokenMeta: types.TokenMeta{
			Mint:       req.PaymentToken,
			Symbol:     verdict.Symbol,
			Decimals:   verdict.Decimals,
			Tier:       verdict.Tier,
			Score:      verdict.Score,
			Multiplier: verdict.Multiplier,
		},
		HolderTier:  tier,
		DualBurnPct: verdict.DualBurnPct,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.QuoteTTL),
	}
	if req.Type == types.QuoteIgnition {
		dest := s.cfg.IgnitionDestination
		quote.IgnitionDestination = &dest
		quote.IgnitionAmount = math.Amount(s.cfg.IgnitionAmount)
	}
	if err := s.store.PutQuote(ctx, quote, s.cfg.QuoteTTL); err != nil {
		s.payers.Release(ctx, id)
		return nil, ErrInternal("could not persist quote").WithCause(err)
	}

	s.audit.Record(ctx, &types.AuditEntry{
		Type:   types.AuditQuoteCreated,
		Wallet: req.UserAccount.Base58(),
		IP:     req.IP,
		Payload: map[string]interface{}{
			"quoteId":   id,
			"type":      string(req.Type),
			"feeNative": feeNative,
			"feeAmount": feeAmount,
			"token":     req.PaymentToken.Base58(),
			"tier":      tier.Tier,
		},
	})
	s.logger.Info("Quote created", "id", id, "wallet", req.UserAccount,
		"token", verdict.Symbol, "feeNative", feeNative, "feeAmount", feeAmount,
		"payer", payer, "corr", req.CorrelationID)

	return &QuoteResponse{
		Quote:                quote,
		TTLSeconds:           int(s.cfg.QuoteTTL / time.Second),
		Treasury:             s.cfg.TreasuryAccount,
		TreasuryTokenAccount: s.treasuryTokenAccount(ctx, req.PaymentToken),
	}, nil
}

// treasuryTokenAccount resolves, and on first use registers, the
// treasury's token account for a payment mint.
func (s *QuoteService) treasuryTokenAccount(ctx context.Context, mint common.Pubkey) string {
	if s.cfg.TreasuryAccount.IsZero() {
		return ""
	}
	if account, err := s.store.TreasuryTokenAccount(ctx, mint.Base58()); err == nil {
		return account
	}
	derived := chain.DeriveTokenAccount(s.cfg.TreasuryAccount, mint).Base58()
	if err := s.store.SetTreasuryTokenAccount(ctx, mint.Base58(), derived); err != nil {
		s.logger.Warn("Treasury token account registration failed", "mint", mint, "err", err)
	}
	return derived
}

func (s *QuoteService) reject(ctx context.Context, req *QuoteRequest, reason, symbol string) {
	s.audit.Record(ctx, &types.AuditEntry{
		Type:     types.AuditQuoteRejected,
		Severity: types.SeverityWarn,
		Wallet:   req.UserAccount.Base58(),
		IP:       req.IP,
		Payload: map[string]interface{}{
			"reason": reason,
			"token":  req.PaymentToken.Base58(),
			"symbol": symbol,
		},
	})
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(stdmath.Ceil(d.Seconds()))
}
