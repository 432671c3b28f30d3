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
	"errors"
	"time"

	"github.com/pyrelay/pyrelay/audit"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/feepayer"
	"github.com/pyrelay/pyrelay/fees"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/params"
	"github.com/pyrelay/pyrelay/velocity"
)

// TxArchiver is the cold-store slice the submit pipeline writes
// through, satisfied by *colddb.Database. Archive failures are
// tolerated; the sync worker backfills from the hot store.
type TxArchiver interface {
	InsertTransaction(ctx context.Context, t *types.Transaction) error
}

// SubmitRequest carries one signed transaction redeeming a quote.
type SubmitRequest struct {
	QuoteID        string
	RawTransaction []byte

	CorrelationID string
	IP            string
}

// SubmitResponse reports the confirmed signature(s).
type SubmitResponse struct {
	QuoteID           string            `json:"quoteId"`
	Signature         common.Signature  `json:"signature"`
	IgnitionSignature *common.Signature `json:"ignitionSignature,omitempty"`
}

// SubmitService validates, co-signs and relays user transactions
// against previously issued quotes.
type SubmitService struct {
	cfg      Config
	store    *hotdb.Store
	payers   *feepayer.Pool
	pool     *chain.Pool
	velocity *velocity.Tracker
	archive  TxArchiver
	audit    *audit.Recorder
	logger   log.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewSubmitService wires the submit pipeline. archive may be nil when
// no cold store is configured.
func NewSubmitService(cfg Config, store *hotdb.Store, payers *feepayer.Pool, pool *chain.Pool,
	vel *velocity.Tracker, archive TxArchiver, rec *audit.Recorder, logger log.Logger) *SubmitService {
	return &SubmitService{
		cfg:      cfg.sanitize(),
		store:    store,
		payers:   payers,
		pool:     pool,
		velocity: vel,
		archive:  archive,
		audit:    rec,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

// Submit redeems a quote: load and expiry-check it, validate the
// transaction structure, claim the anti-replay slot, co-sign with the
// reserved fee payer, send with bounded retries, confirm, then record
// the outcome and release the reservation. The replay slot is released
// only on failures before broadcast; once the transaction may have
// reached the network the slot stays claimed for its full TTL.
func (s *SubmitService) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	if req.QuoteID == "" {
		return nil, ErrValidation("quoteId is required")
	}
	if len(req.RawTransaction) == 0 {
		return nil, ErrValidation("transaction is required")
	}

	quote, err := s.store.GetQuote(ctx, req.QuoteID)
	if errors.Is(err, hotdb.ErrNotFound) {
		return nil, ErrQuoteNotFound(req.QuoteID)
	}
	if err != nil {
		return nil, ErrServiceUnavailable("quote store unavailable", 5).WithCause(err)
	}
	s.audit.Activity(ctx, "submit", quote.UserAccount.Base58(), req.IP)
	if quote.Expired(s.now()) {
		s.payers.Release(ctx, quote.ID)
		if err := s.store.DeleteQuote(ctx, quote.ID); err != nil {
			s.logger.Warn("Expired quote cleanup failed", "id", quote.ID, "err", err)
		}
		return nil, ErrQuoteExpired(quote.ID)
	}

	tx, err := chain.ParseTransaction(req.RawTransaction)
	if err != nil {
		return nil, ErrValidation("transaction does not parse").WithCause(err)
	}
	if details := s.validate(tx, quote); len(details) > 0 {
		return nil, ErrValidation("transaction failed validation").WithDetails(details...)
	}

	fingerprint, err := tx.Fingerprint()
	if err != nil {
		return nil, ErrValidation("transaction does not serialize").WithCause(err)
	}
	claimed, err := s.store.ClaimReplaySlot(ctx, fingerprint, params.ReplaySlotTTLSeconds*time.Second)
	if err != nil {
		return nil, ErrServiceUnavailable("replay protection unavailable", 5).WithCause(err)
	}
	if !claimed {
		s.audit.Record(ctx, &types.AuditEntry{
			Type:     types.AuditReplayBlocked,
			Severity: types.SeverityWarn,
			Wallet:   quote.UserAccount.Base58(),
			IP:       req.IP,
			Payload:  map[string]interface{}{"quoteId": quote.ID, "fingerprint": fingerprint},
		})
		return nil, ErrReplayDetected()
	}

	signer, err := s.payers.GetForSigning(quote.ID, quote.FeePayer)
	if errors.Is(err, feepayer.ErrNotReserved) {
		// The reservation can be gone after a restart; re-reserve the
		// amount the quote path committed before giving up.
		if _, ok := s.payers.Reserve(ctx, quote.ID, s.reservedTotal(quote)); ok {
			signer, err = s.payers.GetForSigning(quote.ID, quote.FeePayer)
		}
	}
	if err != nil {
		s.releaseSlot(ctx, fingerprint)
		return nil, ErrServiceUnavailable("fee payer unavailable", 10).WithCause(err)
	}
	if err := signer.SignTransaction(tx); err != nil {
		s.releaseSlot(ctx, fingerprint)
		return nil, ErrTransaction("co-signing failed").WithCause(err)
	}

	sig, err := s.send(ctx, tx)
	if err != nil {
		s.releaseSlot(ctx, fingerprint)
		s.payers.Release(ctx, quote.ID)
		s.fail(ctx, quote, req.IP, err)
		s.payers.ReportFailure(quote.FeePayer, err)
		return nil, ErrTransaction("transaction was not accepted by the network").WithCause(err)
	}
	if err := s.pool.ConfirmTransaction(ctx, sig); err != nil {
		// Broadcast succeeded, so the slot stays claimed. Report the
		// signature anyway; the caller can poll it.
		s.fail(ctx, quote, req.IP, err)
		return nil, ErrTransaction("transaction was sent but not confirmed").WithCause(err)
	}
	s.payers.ReportSuccess(quote.FeePayer)

	resp := &SubmitResponse{QuoteID: quote.ID, Signature: sig}
	if quote.Type == types.QuoteIgnition && quote.IgnitionDestination != nil {
		ignSig, err := s.sendIgnition(ctx, signer, quote)
		if err != nil {
			// The user's transaction is confirmed; an ignition failure
			// is logged but does not fail the submit.
			s.logger.Error("Ignition transfer failed", "quote", quote.ID, "err", err)
		} else {
			resp.IgnitionSignature = &ignSig
		}
	}

	s.record(ctx, quote, sig, req)
	s.payers.Release(ctx, quote.ID)
	if err := s.store.DeleteQuote(ctx, quote.ID); err != nil {
		s.logger.Warn("Quote cleanup failed", "id", quote.ID, "err", err)
	}
	return resp, nil
}

// reservedTotal mirrors the quote path's reservation arithmetic: the
// native fee plus the relay's signature cost, and for ignition quotes
// the forwarded amount with its extra signature.
func (s *SubmitService) reservedTotal(quote *types.Quote) uint64 {
	total, ok := math.SafeAdd(uint64(quote.FeeNative), s.cfg.NetworkFeeLamports)
	if ok && quote.Type == types.QuoteIgnition {
		if total, ok = math.SafeAdd(total, uint64(quote.IgnitionAmount)); ok {
			total, ok = math.SafeAdd(total, s.cfg.NetworkFeeLamports)
		}
	}
	if !ok {
		// A saturated total cannot be backed; Reserve rejects it.
		return ^uint64(0)
	}
	return total
}

// validate enumerates the structural failures of tx against its quote.
func (s *SubmitService) validate(tx *chain.Transaction, quote *types.Quote) []string {
	var details []string
	payer, err := tx.FeePayer()
	if err != nil {
		return []string{"transaction has no accounts"}
	}
	if payer != quote.FeePayer {
		details = append(details, "fee payer does not match the quote")
	}
	if tx.SignerIndex(quote.UserAccount) < 0 {
		details = append(details, "quoted user is not a signer")
	} else if !tx.VerifySignature(quote.UserAccount) {
		details = append(details, "user signature is missing or invalid")
	}
	if payer == quote.FeePayer && tx.HasSignature(payer) {
		details = append(details, "fee payer slot must be unsigned")
	}
	return details
}

// send broadcasts with bounded exponential backoff; only transient
// submit errors earn another attempt.
func (s *SubmitService) send(ctx context.Context, tx *chain.Transaction) (common.Signature, error) {
	var sig common.Signature
	err := retrySubmit(ctx, s.sleep, chain.IsRetryableSubmit, func() error {
		var sendErr error
		sig, sendErr = s.pool.SendTransaction(ctx, tx)
		return sendErr
	})
	return sig, err
}

func (s *SubmitService) sendIgnition(ctx context.Context, signer *chain.Signer, quote *types.Quote) (common.Signature, error) {
	blockhash, err := s.pool.LatestBlockhash(ctx)
	if err != nil {
		return common.Signature{}, err
	}
	tx, err := chain.NewTransaction(signer.Pubkey(), blockhash,
		chain.TransferInstruction(signer.Pubkey(), *quote.IgnitionDestination, uint64(quote.IgnitionAmount)))
	if err != nil {
		return common.Signature{}, err
	}
	if err := signer.SignTransaction(tx); err != nil {
		return common.Signature{}, err
	}
	sig, err := s.send(ctx, tx)
	if err != nil {
		return common.Signature{}, err
	}
	return sig, s.pool.ConfirmTransaction(ctx, sig)
}

// record persists the outcome everywhere it is consumed: the cold
// archive, the public counters, the leaderboard, the audit log and the
// velocity buckets. None of these may fail the confirmed submit.
func (s *SubmitService) record(ctx context.Context, quote *types.Quote, sig common.Signature, req *SubmitRequest) {
	burn, treasury := fees.Split(uint64(quote.FeeAmount), s.cfg.BurnRatio)
	burnNative, _ := fees.Split(uint64(quote.FeeNative), s.cfg.BurnRatio)

	if s.archive != nil {
		record := &types.Transaction{
			QuoteID:       quote.ID,
			Signature:     sig,
			UserAccount:   quote.UserAccount,
			PaymentToken:  quote.PaymentToken,
			FeePayer:      quote.FeePayer,
			FeeAmount:     quote.FeeAmount,
			FeeNative:     quote.FeeNative,
			BurnPortion:   math.Amount(burn),
			TreasuryShare: math.Amount(treasury),
			CorrelationID: req.CorrelationID,
			Timestamp:     s.now(),
		}
		if err := s.archive.InsertTransaction(ctx, record); err != nil {
			s.logger.Warn("Transaction archive failed", "quote", quote.ID, "err", err)
		}
	}
	if err := s.store.IncrStats(ctx, map[string]int64{
		hotdb.StatTxCount:    1,
		hotdb.StatFeesNative: int64(uint64(quote.FeeNative)),
	}); err != nil {
		s.logger.Warn("Stats update failed", "quote", quote.ID, "err", err)
	}
	// Leaderboard contributions are counted in native units so wallets
	// paying in different tokens stay comparable.
	if err := s.store.IncrLeaderboard(ctx, quote.UserAccount.Base58(), burnNative); err != nil {
		s.logger.Warn("Leaderboard update failed", "quote", quote.ID, "err", err)
	}
	if err := s.velocity.Record(ctx, uint64(quote.FeeNative)); err != nil {
		s.logger.Warn("Velocity update failed", "quote", quote.ID, "err", err)
	}
	s.audit.Record(ctx, &types.AuditEntry{
		Type:   types.AuditTxSubmitted,
		Wallet: quote.UserAccount.Base58(),
		IP:     req.IP,
		Payload: map[string]interface{}{
			"quoteId":   quote.ID,
			"signature": sig.Base58(),
			"feeNative": uint64(quote.FeeNative),
		},
	})
	s.logger.Info("Transaction relayed", "quote", quote.ID, "sig", sig,
		"wallet", quote.UserAccount, "feeNative", uint64(quote.FeeNative),
		"corr", req.CorrelationID)
}

func (s *SubmitService) fail(ctx context.Context, quote *types.Quote, ip string, cause error) {
	s.audit.Record(ctx, &types.AuditEntry{
		Type:     types.AuditTxFailed,
		Severity: types.SeverityError,
		Wallet:   quote.UserAccount.Base58(),
		IP:       ip,
		Payload:  map[string]interface{}{"quoteId": quote.ID, "error": cause.Error()},
	})
}

func (s *SubmitService) releaseSlot(ctx context.Context, fingerprint string) {
	if err := s.store.ReleaseReplaySlot(ctx, fingerprint); err != nil {
		s.logger.Warn("Replay slot release failed", "err", err)
	}
}
