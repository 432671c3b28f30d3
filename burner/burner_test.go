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

package burner

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/fees"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/params"
	"github.com/pyrelay/pyrelay/velocity"

	auditpkg "github.com/pyrelay/pyrelay/audit"
)

type fakeChain struct {
	mu sync.Mutex

	balance  uint64
	reserves uint64
	accounts []chain.TokenAccount

	sendErrs   []error
	sent       int
	sigCounter byte
}

func (f *fakeChain) GetBalance(ctx context.Context, account common.Pubkey) (uint64, error) {
	return f.balance, nil
}

func (f *fakeChain) GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]chain.TokenAccount, error) {
	return f.accounts, nil
}

func (f *fakeChain) GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error) {
	return f.reserves, nil
}

func (f *fakeChain) GetTokenSupply(ctx context.Context, mint common.Pubkey) (chain.TokenSupply, error) {
	return chain.TokenSupply{}, nil
}

func (f *fakeChain) GetLatestBlockhash(ctx context.Context) (chain.Hash, error) {
	return chain.Hash{0xaa}, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *chain.Transaction) (common.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return common.Signature{}, err
		}
	}
	f.sigCounter++
	return common.BytesToSignature([]byte{f.sigCounter}), nil
}

func (f *fakeChain) ConfirmTransaction(ctx context.Context, sig common.Signature) error { return nil }

func (f *fakeChain) Health(ctx context.Context) error { return nil }

// fakeDex prices swaps at out = in/divisor and USD at a flat price.
type fakeDex struct {
	divisor  uint64
	priceUSD float64
	treasury common.Pubkey
}

func (d *fakeDex) Quote(ctx context.Context, input, output common.Pubkey, amount uint64) (*oracle.SwapQuote, error) {
	return &oracle.SwapQuote{InputMint: input, OutputMint: output, InAmount: amount, OutAmount: amount / d.divisor}, nil
}

func (d *fakeDex) SwapTransaction(ctx context.Context, quote *oracle.SwapQuote, user common.Pubkey) (*chain.Transaction, error) {
	return chain.NewTransaction(user, chain.Hash{0xaa}, chain.TransferInstruction(user, d.treasury, 1))
}

func (d *fakeDex) PriceUSD(ctx context.Context, mint common.Pubkey) (float64, error) {
	return d.priceUSD, nil
}

type fakeVerifier struct{ pct float64 }

func (v *fakeVerifier) VerifyToken(ctx context.Context, mint common.Pubkey) (*oracle.TokenVerdict, error) {
	return &oracle.TokenVerdict{Mint: mint, Accepted: true, DualBurnPct: v.pct}, nil
}

type burnerbed struct {
	store    *hotdb.Store
	chain    *fakeChain
	dex      *fakeDex
	verifier *fakeVerifier
	worker   *Worker
	eco      common.Pubkey
	native   common.Pubkey
	treasury *chain.Signer
	payer    common.Pubkey
}

func newBurnerbed(t *testing.T, cfg Config) *burnerbed {
	t.Helper()
	tb := &burnerbed{
		store:    hotdb.NewStore(memorydb.New(), hotdb.NewKeys("test")),
		chain:    &fakeChain{balance: 100_000_000},
		eco:      common.BytesToPubkey([]byte{0x40}),
		native:   common.BytesToPubkey([]byte{0x41}),
		treasury: chain.NewSigner(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{7}, ed25519.SeedSize))),
		payer:    common.BytesToPubkey([]byte{0x42}),
	}
	tb.dex = &fakeDex{divisor: 2, priceUSD: 5, treasury: tb.treasury.Pubkey()}
	tb.verifier = &fakeVerifier{}

	pool, err := chain.NewPool([]chain.EndpointConfig{{Name: "fake"}},
		func(string) chain.Client { return tb.chain }, log.Root())
	require.NoError(t, err)

	cfg.EcotokenMint = tb.eco
	cfg.NativeMint = tb.native
	if cfg.MinBufferLamports == 0 {
		cfg.MinBufferLamports = 1_000
	}
	rec := auditpkg.NewRecorder(tb.store, auditpkg.Config{}, log.Root())
	tb.worker = New(cfg, tb.store, nil, pool, tb.treasury, tb.payer,
		tb.dex, tb.verifier, velocity.New(tb.store), rec, log.Root())
	return tb
}

func ecoAccount(n byte) common.Pubkey { return common.BytesToPubkey([]byte{0x50, n}) }

func TestCycleBurnsEcosystemHoldingsInOneBatch(t *testing.T) {
	tb := newBurnerbed(t, Config{})
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: tb.eco, Amount: 1_000_000, Decimals: 6},
		{Account: ecoAccount(2), Mint: tb.eco, Amount: 500_000, Decimals: 6},
	}

	require.NoError(t, tb.worker.RunCycle(context.Background()))

	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, types.BurnBatch, proofs[0].Kind)
	require.Equal(t, uint64(1_500_000), uint64(proofs[0].AmountEcotoken))
	require.Equal(t, 2, proofs[0].Instructions)

	stats, err := tb.store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1500000", stats[hotdb.StatBurnTotal])
}

func TestCycleSkipsDustHoldings(t *testing.T) {
	tb := newBurnerbed(t, Config{DustFloorUSD: 10})
	// 0.5 tokens at $5 = $2.50, under the $10 floor.
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: tb.eco, Amount: 500_000, Decimals: 6},
	}

	require.NoError(t, tb.worker.RunCycle(context.Background()))
	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, proofs)
}

func TestCycleDualBurnAndSwapSplit(t *testing.T) {
	tb := newBurnerbed(t, Config{})
	tb.verifier.pct = 0.2
	other := common.BytesToPubkey([]byte{0x60})
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: other, Amount: 1_000_000, Decimals: 6},
	}

	require.NoError(t, tb.worker.RunCycle(context.Background()))

	// The dual burn destroys the source token directly; the swapped
	// remainder burns in ecosystem units. Two proofs, one per unit.
	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, proofs, 2)
	byKind := map[types.BurnKind]*types.BurnProof{}
	for _, p := range proofs {
		byKind[p.Kind] = p
	}

	// 20% dual burn, remainder swapped at half rate, then split.
	ecoBurn := fees.DualBurn(1_000_000, 0.2)
	proceeds := (1_000_000 - ecoBurn) / 2
	burnShare, retain := fees.Split(proceeds, params.BurnRatio)

	dual := byKind[types.BurnEcosystem]
	require.NotNil(t, dual)
	require.Equal(t, ecoBurn, uint64(dual.AmountSource))
	require.Zero(t, uint64(dual.AmountEcotoken))
	require.NotNil(t, dual.SourceToken)
	require.Equal(t, other, *dual.SourceToken)

	swap := byKind[types.BurnSwap]
	require.NotNil(t, swap)
	require.Equal(t, burnShare, uint64(swap.AmountEcotoken))
	require.Equal(t, retain, uint64(swap.TreasuryRetained))

	// Only ecosystem units feed the public burn counter.
	stats, err := tb.store.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, strconv.FormatUint(burnShare, 10), stats[hotdb.StatBurnTotal])
	require.NotEqual(t, "0", stats[hotdb.StatTreasuryEco])
}

func TestConfiguredBurnRatioSplitsSwapProceeds(t *testing.T) {
	tb := newBurnerbed(t, Config{BurnRatio: 0.5})
	other := common.BytesToPubkey([]byte{0x61})
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: other, Amount: 1_000_000, Decimals: 6},
	}

	require.NoError(t, tb.worker.RunCycle(context.Background()))

	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	require.Equal(t, types.BurnSwap, proofs[0].Kind)
	// No dual-burn bonus; the full holding swaps at half rate, then the
	// configured even split applies.
	require.Equal(t, uint64(250_000), uint64(proofs[0].AmountEcotoken))
	require.Equal(t, uint64(250_000), uint64(proofs[0].TreasuryRetained))
}

func TestBatchFailureFallsBackToIndividualBurns(t *testing.T) {
	tb := newBurnerbed(t, Config{})
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: tb.eco, Amount: 100, Decimals: 0},
		{Account: ecoAccount(2), Mint: tb.eco, Amount: 200, Decimals: 0},
		{Account: ecoAccount(3), Mint: tb.eco, Amount: 300, Decimals: 0},
	}
	// The batch fails, then the middle individual burn fails for good.
	tb.chain.sendErrs = []error{
		errors.New("BlockhashNotFound"),
		nil,
		errors.New("invalid account data"),
		nil,
	}

	require.NoError(t, tb.worker.RunCycle(context.Background()))

	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, proofs, 2, "only the two surviving burns leave proofs")
	var total uint64
	for _, p := range proofs {
		require.Equal(t, types.BurnDirect, p.Kind)
		total += uint64(p.AmountEcotoken)
	}
	require.Equal(t, uint64(400), total, "100 + 300; the failed 200 is absent")

	entries, err := tb.store.AuditTail(context.Background(), 50)
	require.NoError(t, err)
	var failed int
	for _, e := range entries {
		if e.Type == types.AuditBurnFailed {
			failed++
		}
	}
	require.Equal(t, 1, failed)
}

func TestCycleYieldsWhenLockHeld(t *testing.T) {
	tb := newBurnerbed(t, Config{})
	tb.chain.accounts = []chain.TokenAccount{
		{Account: ecoAccount(1), Mint: tb.eco, Amount: 1_000_000, Decimals: 6},
	}
	_, ok, err := tb.store.AcquireLock(context.Background(), burnLockName, tb.worker.cfg.LockTTL)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, tb.worker.RunCycle(context.Background()))
	proofs, err := tb.store.BurnProofs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, proofs)
}

func TestRefillSwapsReservesWhenBufferLow(t *testing.T) {
	tb := newBurnerbed(t, Config{MinBufferLamports: 50_000})
	tb.chain.balance = 10_000 // below required
	tb.chain.reserves = 1_000 // short reserves swap entirely

	require.NoError(t, tb.worker.RunCycle(context.Background()))

	events, err := tb.store.TreasuryEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "refill", events[0].Kind)
	require.Equal(t, uint64(1_000), uint64(events[0].AmountIn))
	require.Equal(t, uint64(500), uint64(events[0].AmountOut))
}

func TestRefillSkippedWhenBufferHealthy(t *testing.T) {
	tb := newBurnerbed(t, Config{MinBufferLamports: 50_000})
	tb.chain.balance = 60_000
	tb.chain.reserves = 1_000_000

	require.NoError(t, tb.worker.RunCycle(context.Background()))
	events, err := tb.store.TreasuryEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
