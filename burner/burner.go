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

// Package burner runs the periodic burn/treasury cycle: refill the fee
// payer from ecosystem-token reserves when signing velocity demands
// it, sweep collected fee tokens into the ecosystem token, burn the
// burn share and retain the rest. One cycle runs globally at a time,
// serialized by a distributed lock in the hot store.
package burner

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pyrelay/pyrelay/audit"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/fees"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/params"
	"github.com/pyrelay/pyrelay/velocity"
)

// burnLockName is the hot-store lock serializing cycles across
// instances.
const burnLockName = "burn-cycle"

// BurnArchiver is the cold-store slice the worker records proofs
// through, satisfied by *colddb.Database.
type BurnArchiver interface {
	InsertBurn(ctx context.Context, p *types.BurnProof) error
}

// Config tunes the worker.
type Config struct {
	// BurnRatio splits swap proceeds between the burn and the retained
	// treasury share; zero takes the φ-derived default.
	BurnRatio float64
	// LockTTL must exceed the worst-case cycle duration.
	LockTTL time.Duration
	// DustFloorUSD discards holdings whose swap would cost more than it
	// recovers.
	DustFloorUSD float64
	// RunwayHours and MinBufferLamports feed the velocity-derived
	// refill thresholds.
	RunwayHours       float64
	MinBufferLamports uint64
	// MaxBatch bounds burn instructions per transaction.
	MaxBatch int
	// ScanConcurrency bounds parallel USD pricing of treasury holdings.
	ScanConcurrency int
	// ExplorerURL prefixes burn signatures in proofs.
	ExplorerURL string

	EcotokenMint common.Pubkey
	NativeMint   common.Pubkey
}

func (c Config) sanitize() Config {
	if c.BurnRatio <= 0 || c.BurnRatio > 1 {
		c.BurnRatio = params.BurnRatio
	}
	if c.LockTTL <= 0 {
		c.LockTTL = params.BurnLockTTLSeconds * time.Second
	}
	if c.DustFloorUSD <= 0 {
		c.DustFloorUSD = params.DefaultDustFloorUSD
	}
	if c.RunwayHours <= 0 {
		c.RunwayHours = params.DefaultRunwayHours
	}
	if c.MinBufferLamports == 0 {
		c.MinBufferLamports = params.DefaultMinBufferLamports
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = params.MaxBurnBatchInstructions
	}
	if c.ScanConcurrency <= 0 {
		c.ScanConcurrency = 4
	}
	return c
}

// Worker owns the burn cycle. Scheduling is the node's concern; each
// RunCycle call is one complete pass.
type Worker struct {
	cfg      Config
	store    *hotdb.Store
	archive  BurnArchiver
	pool     *chain.Pool
	treasury *chain.Signer
	payer    common.Pubkey
	dex      oracle.DexAggregator
	verifier oracle.HolderVerifier
	velocity *velocity.Tracker
	audit    *audit.Recorder
	logger   log.Logger

	now func() time.Time
}

// New wires the worker. treasury signs burns and swaps; payer is the
// primary fee payer whose native balance the refill tops up. archive
// may be nil.
func New(cfg Config, store *hotdb.Store, archive BurnArchiver, pool *chain.Pool, treasury *chain.Signer,
	payer common.Pubkey, dex oracle.DexAggregator, verifier oracle.HolderVerifier,
	vel *velocity.Tracker, rec *audit.Recorder, logger log.Logger) *Worker {
	return &Worker{
		cfg:      cfg.sanitize(),
		store:    store,
		archive:  archive,
		pool:     pool,
		treasury: treasury,
		payer:    payer,
		dex:      dex,
		verifier: verifier,
		velocity: vel,
		audit:    rec,
		logger:   logger,
		now:      time.Now,
	}
}

// RunCycle executes one burn/treasury pass. A held lock is not an
// error; the cycle simply yields to whoever owns it.
func (w *Worker) RunCycle(ctx context.Context) error {
	if err := w.refill(ctx); err != nil {
		// Refill failures leave the payer runnable on its current
		// balance; the burn pass is still worth doing.
		w.logger.Warn("Refill pre-check failed", "err", err)
	}

	holdings, err := w.scan(ctx)
	if err != nil {
		return fmt.Errorf("treasury scan: %w", err)
	}
	if len(holdings) == 0 {
		return nil
	}

	held, err := w.store.WithLock(ctx, burnLockName, w.cfg.LockTTL, func(ctx context.Context) error {
		// Double-check inside the lock; another instance may have
		// swept these holdings while we waited.
		holdings, err := w.scan(ctx)
		if err != nil {
			return fmt.Errorf("locked re-scan: %w", err)
		}
		if len(holdings) == 0 {
			return nil
		}
		pending, err := w.process(ctx, holdings)
		if err != nil {
			return err
		}
		return w.execute(ctx, pending)
	})
	if err != nil {
		return err
	}
	if !held {
		w.logger.Debug("Burn lock held elsewhere, skipping cycle")
	}
	return nil
}

// scan lists treasury holdings above the dust floor, priced in USD and
// sorted by descending value.
func (w *Worker) scan(ctx context.Context) ([]*types.TreasuryHolding, error) {
	accounts, err := w.pool.GetTokenAccountsByOwner(ctx, w.treasury.Pubkey())
	if err != nil {
		return nil, err
	}
	holdings := make([]*types.TreasuryHolding, len(accounts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ScanConcurrency)
	for i, acct := range accounts {
		i, acct := i, acct
		if acct.Amount == 0 {
			continue
		}
		g.Go(func() error {
			price, err := w.dex.PriceUSD(gctx, acct.Mint)
			if err != nil {
				// Unpriceable tokens are skipped this cycle, not fatal.
				w.logger.Debug("Token pricing failed", "mint", acct.Mint, "err", err)
				return nil
			}
			usd := price * float64(acct.Amount) / pow10(acct.Decimals)
			if usd < w.cfg.DustFloorUSD {
				return nil
			}
			holdings[i] = &types.TreasuryHolding{
				Mint:     acct.Mint,
				Account:  acct.Account,
				Amount:   math.Amount(acct.Amount),
				Decimals: acct.Decimals,
				USDValue: usd,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	kept := holdings[:0]
	for _, h := range holdings {
		if h != nil {
			kept = append(kept, h)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].USDValue > kept[j].USDValue })
	return kept, nil
}

// pendingBurn is one queued burn instruction with its proof metadata.
type pendingBurn struct {
	instr    chain.Instruction
	kind     types.BurnKind
	amount   uint64
	source   *common.Pubkey
	retained uint64
}

// process classifies holdings into queued burn instructions. Ecosystem
// tokens burn whole; other tokens burn their dual-burn bonus directly
// and swap the remainder into the ecosystem token, splitting the
// proceeds into a swap burn and a retained treasury share.
func (w *Worker) process(ctx context.Context, holdings []*types.TreasuryHolding) ([]*pendingBurn, error) {
	var pending []*pendingBurn
	owner := w.treasury.Pubkey()
	ecoAccount := chain.DeriveTokenAccount(owner, w.cfg.EcotokenMint)

	for _, h := range holdings {
		balance := uint64(h.Amount)
		if h.Mint == w.cfg.EcotokenMint {
			pending = append(pending, &pendingBurn{
				instr:  chain.BurnInstruction(h.Account, h.Mint, owner, balance),
				kind:   types.BurnDirect,
				amount: balance,
			})
			continue
		}

		dualPct := 0.0
		if verdict, err := w.verifier.VerifyToken(ctx, h.Mint); err == nil {
			dualPct = verdict.DualBurnPct
		}
		ecoBurn := fees.DualBurn(balance, dualPct)
		if ecoBurn > 0 {
			mint := h.Mint
			pending = append(pending, &pendingBurn{
				instr:  chain.BurnInstruction(h.Account, h.Mint, owner, ecoBurn),
				kind:   types.BurnEcosystem,
				amount: ecoBurn,
				source: &mint,
			})
		}

		remainder := balance - ecoBurn
		if remainder == 0 {
			continue
		}
		proceeds, err := w.swap(ctx, h.Mint, w.cfg.EcotokenMint, remainder)
		if err != nil {
			w.logger.Warn("Treasury swap failed", "mint", h.Mint, "amount", remainder, "err", err)
			continue
		}
		burnShare, retain := fees.Split(proceeds, w.cfg.BurnRatio)
		if retain > 0 {
			if err := w.store.IncrStats(ctx, map[string]int64{hotdb.StatTreasuryEco: int64(retain)}); err != nil {
				w.logger.Warn("Treasury retention accounting failed", "err", err)
			}
		}
		if burnShare > 0 {
			mint := h.Mint
			pending = append(pending, &pendingBurn{
				instr:    chain.BurnInstruction(ecoAccount, w.cfg.EcotokenMint, owner, burnShare),
				kind:     types.BurnSwap,
				amount:   burnShare,
				source:   &mint,
				retained: retain,
			})
		}
	}
	return pending, nil
}

// swap executes one DEX swap from the treasury and returns the
// confirmed output amount.
func (w *Worker) swap(ctx context.Context, input, output common.Pubkey, amount uint64) (uint64, error) {
	quote, err := w.dex.Quote(ctx, input, output, amount)
	if err != nil {
		return 0, err
	}
	tx, err := w.dex.SwapTransaction(ctx, quote, w.treasury.Pubkey())
	if err != nil {
		return 0, err
	}
	if err := w.treasury.SignTransaction(tx); err != nil {
		return 0, err
	}
	sig, err := w.pool.SendTransaction(ctx, tx)
	if err != nil {
		return 0, err
	}
	if err := w.pool.ConfirmTransaction(ctx, sig); err != nil {
		return 0, err
	}
	return quote.OutAmount, nil
}

// execute submits queued burns in batches of up to MaxBatch
// instructions. Batches never mix denominations, so every proof's
// amounts stay in one unit. A failed batch degrades to per-instruction
// submission so partial progress survives one bad instruction.
func (w *Worker) execute(ctx context.Context, pending []*pendingBurn) error {
	for _, group := range groupByDenomination(pending) {
		for start := 0; start < len(group); start += w.cfg.MaxBatch {
			end := start + w.cfg.MaxBatch
			if end > len(group) {
				end = len(group)
			}
			batch := group[start:end]

			sig, err := w.submitBurns(ctx, batch)
			if err == nil {
				w.recordBatch(ctx, batch, sig)
				continue
			}
			w.logger.Warn("Burn batch failed, retrying individually", "size", len(batch), "err", err)
			for _, p := range batch {
				sig, err := w.submitBurns(ctx, []*pendingBurn{p})
				if err != nil {
					w.burnFailed(ctx, p, err)
					continue
				}
				w.record(ctx, w.proofFor(p, sig, 1))
			}
		}
	}
	return nil
}

// groupByDenomination separates ecosystem-token burns from direct
// source-token burns, the latter grouped per mint.
func groupByDenomination(pending []*pendingBurn) [][]*pendingBurn {
	var eco []*pendingBurn
	bySource := make(map[common.Pubkey][]*pendingBurn)
	var order []common.Pubkey
	for _, p := range pending {
		if p.kind != types.BurnEcosystem {
			eco = append(eco, p)
			continue
		}
		mint := *p.source
		if _, seen := bySource[mint]; !seen {
			order = append(order, mint)
		}
		bySource[mint] = append(bySource[mint], p)
	}
	groups := make([][]*pendingBurn, 0, len(order)+1)
	if len(eco) > 0 {
		groups = append(groups, eco)
	}
	for _, mint := range order {
		groups = append(groups, bySource[mint])
	}
	return groups
}

// submitBurns sends one transaction carrying the given burn
// instructions.
func (w *Worker) submitBurns(ctx context.Context, burns []*pendingBurn) (common.Signature, error) {
	blockhash, err := w.pool.LatestBlockhash(ctx)
	if err != nil {
		return common.Signature{}, err
	}
	instrs := make([]chain.Instruction, len(burns))
	for i, p := range burns {
		instrs[i] = p.instr
	}
	tx, err := chain.NewTransaction(w.treasury.Pubkey(), blockhash, instrs...)
	if err != nil {
		return common.Signature{}, err
	}
	if err := w.treasury.SignTransaction(tx); err != nil {
		return common.Signature{}, err
	}
	sig, err := w.pool.SendTransaction(ctx, tx)
	if err != nil {
		return common.Signature{}, err
	}
	return sig, w.pool.ConfirmTransaction(ctx, sig)
}

// recordBatch persists one proof spanning a whole confirmed batch, or
// the single instruction's own kind when the batch has one entry.
// Batches are denomination-pure, so the sums never mix units.
func (w *Worker) recordBatch(ctx context.Context, batch []*pendingBurn, sig common.Signature) {
	if len(batch) == 1 {
		w.record(ctx, w.proofFor(batch[0], sig, 1))
		return
	}
	var eco, source, retained uint64
	for _, p := range batch {
		if p.kind == types.BurnEcosystem {
			source += p.amount
		} else {
			eco += p.amount
		}
		retained += p.retained
	}
	proof := &types.BurnProof{
		Signature:        sig,
		Kind:             types.BurnBatch,
		AmountEcotoken:   math.Amount(eco),
		AmountSource:     math.Amount(source),
		TreasuryRetained: math.Amount(retained),
		Instructions:     len(batch),
		Timestamp:        w.now(),
		ExplorerURL:      w.cfg.ExplorerURL + sig.Base58(),
	}
	if batch[0].kind == types.BurnEcosystem {
		proof.SourceToken = batch[0].source
	}
	w.record(ctx, proof)
}

func (w *Worker) proofFor(p *pendingBurn, sig common.Signature, instructions int) *types.BurnProof {
	proof := &types.BurnProof{
		Signature:        sig,
		Kind:             p.kind,
		TreasuryRetained: math.Amount(p.retained),
		SourceToken:      p.source,
		Instructions:     instructions,
		Timestamp:        w.now(),
		ExplorerURL:      w.cfg.ExplorerURL + sig.Base58(),
	}
	// Direct dual burns destroy the source token itself; their amount
	// is not in ecosystem units.
	if p.kind == types.BurnEcosystem {
		proof.AmountSource = math.Amount(p.amount)
	} else {
		proof.AmountEcotoken = math.Amount(p.amount)
	}
	return proof
}

// record persists a proof durably first, then into the hot tier, and
// bumps the public counters.
func (w *Worker) record(ctx context.Context, proof *types.BurnProof) {
	if w.archive != nil {
		if err := w.archive.InsertBurn(ctx, proof); err != nil {
			w.logger.Error("Burn proof archive failed", "sig", proof.Signature, "err", err)
		}
	}
	if err := w.store.PushBurnProof(ctx, proof); err != nil {
		w.logger.Warn("Burn proof hot write failed", "sig", proof.Signature, "err", err)
	}
	if err := w.store.IncrStats(ctx, map[string]int64{
		hotdb.StatBurnTotal: int64(uint64(proof.AmountEcotoken)),
		hotdb.StatTxCount:   1,
	}); err != nil {
		w.logger.Warn("Burn stats update failed", "err", err)
	}
	payload := map[string]interface{}{
		"signature": proof.Signature.Base58(),
		"kind":      string(proof.Kind),
		"amount":    uint64(proof.AmountEcotoken),
	}
	if proof.AmountSource > 0 {
		payload["amountSource"] = uint64(proof.AmountSource)
	}
	w.audit.Record(ctx, &types.AuditEntry{Type: types.AuditBurnExecuted, Payload: payload})
	w.logger.Info("Burn recorded", "sig", proof.Signature, "kind", proof.Kind,
		"amount", uint64(proof.AmountEcotoken), "amountSource", uint64(proof.AmountSource),
		"instructions", proof.Instructions)
}

func (w *Worker) burnFailed(ctx context.Context, p *pendingBurn, cause error) {
	w.audit.Record(ctx, &types.AuditEntry{
		Type:     types.AuditBurnFailed,
		Severity: types.SeverityWarn,
		Payload: map[string]interface{}{
			"kind":   string(p.kind),
			"amount": p.amount,
			"error":  cause.Error(),
		},
	})
	w.logger.Warn("Burn instruction failed", "kind", p.kind, "amount", p.amount, "err", cause)
}

func pow10(decimals uint8) float64 {
	v := 1.0
	for i := uint8(0); i < decimals; i++ {
		v *= 10
	}
	return v
}
