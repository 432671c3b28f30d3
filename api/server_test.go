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

package api

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/audit"
	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/core"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/feepayer"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/oracle"
	"github.com/pyrelay/pyrelay/velocity"
)

type fakeChain struct {
	balance uint64
	sig     byte
}

func (f *fakeChain) GetBalance(ctx context.Context, account common.Pubkey) (uint64, error) {
	return f.balance, nil
}

func (f *fakeChain) GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]chain.TokenAccount, error) {
	return nil, nil
}

func (f *fakeChain) GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error) {
	return 0, nil
}

func (f *fakeChain) GetTokenSupply(ctx context.Context, mint common.Pubkey) (chain.TokenSupply, error) {
	return chain.TokenSupply{}, nil
}

func (f *fakeChain) GetLatestBlockhash(ctx context.Context) (chain.Hash, error) {
	return chain.Hash{0xaa}, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *chain.Transaction) (common.Signature, error) {
	f.sig++
	return common.BytesToSignature([]byte{f.sig}), nil
}

func (f *fakeChain) ConfirmTransaction(ctx context.Context, sig common.Signature) error { return nil }

func (f *fakeChain) Health(ctx context.Context) error { return nil }

type stubVerifier struct{ verdict oracle.TokenVerdict }

func (s *stubVerifier) VerifyToken(ctx context.Context, mint common.Pubkey) (*oracle.TokenVerdict, error) {
	v := s.verdict
	v.Mint = mint
	return &v, nil
}

type stubDex struct{ divisor uint64 }

func (s *stubDex) Quote(ctx context.Context, input, output common.Pubkey, amount uint64) (*oracle.SwapQuote, error) {
	return &oracle.SwapQuote{InputMint: input, OutputMint: output, InAmount: amount, OutAmount: amount / s.divisor}, nil
}

func (s *stubDex) SwapTransaction(ctx context.Context, quote *oracle.SwapQuote, user common.Pubkey) (*chain.Transaction, error) {
	return nil, nil
}

func (s *stubDex) PriceUSD(ctx context.Context, mint common.Pubkey) (float64, error) { return 1, nil }

type apibed struct {
	server   *Server
	kv       hotdb.KV
	store    *hotdb.Store
	user     *chain.Signer
	token    common.Pubkey
	treasury common.Pubkey
}

func signerFromSeed(seed byte) *chain.Signer {
	return chain.NewSigner(ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, ed25519.SeedSize)))
}

func newAPIBed(t *testing.T, cfg Config) *apibed {
	t.Helper()
	ctx := context.Background()

	kv := memorydb.New()
	bed := &apibed{
		kv:       kv,
		store:    hotdb.NewStore(kv, hotdb.NewKeys("test")),
		user:     signerFromSeed(1),
		token:    common.BytesToPubkey([]byte{0x10}),
		treasury: common.BytesToPubkey([]byte{0x12}),
	}
	fc := &fakeChain{balance: 1_000_000_000}
	pool, err := chain.NewPool([]chain.EndpointConfig{{Name: "fake", URL: "fake"}},
		func(string) chain.Client { return fc }, log.Root())
	require.NoError(t, err)

	payer := signerFromSeed(2)
	payers, err := feepayer.New([]*chain.Signer{payer}, feepayer.Config{}, pool, bed.store, log.Root())
	require.NoError(t, err)
	require.NoError(t, payers.RefreshBalances(ctx))

	verifier := &stubVerifier{verdict: oracle.TokenVerdict{
		Accepted: true, Tier: "gold", Symbol: "TKN", Decimals: 6, Score: 95, Multiplier: 1.0,
	}}
	dex := &stubDex{divisor: 10}
	rec := audit.NewRecorder(bed.store, audit.Config{}, log.Root())
	coreCfg := core.Config{NativeMint: common.BytesToPubkey([]byte{0x11}), TreasuryAccount: bed.treasury}
	holders := core.NewHolderTiers(pool, common.Pubkey{})
	quotes := core.NewQuoteService(coreCfg, bed.store, payers, dex, verifier, holders, rec, log.Root())
	submits := core.NewSubmitService(coreCfg, bed.store, payers, pool, velocity.New(bed.store), nil, rec, log.Root())

	gate := oracle.NewTokenGate(verifier, []common.Pubkey{bed.token}, log.Root())
	bed.server = NewServer(cfg, Deps{
		Quotes:  quotes,
		Submits: submits,
		Store:   bed.store,
		Gate:    gate,
		Health: func(context.Context) HealthStatus {
			return HealthStatus{Status: "ok", Checks: map[string]string{"hot_store": "ok"}}
		},
	}, log.Root())
	return bed
}

func (b *apibed) do(t *testing.T, method, path string, body interface{}, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.RemoteAddr = "10.0.0.1:4000"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	b.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestQuoteAndSubmitOverHTTP(t *testing.T) {
	bed := newAPIBed(t, Config{})

	w := bed.do(t, http.MethodPost, "/v1/quote", map[string]interface{}{
		"userPubkey":            bed.user.Pubkey().Base58(),
		"paymentToken":          bed.token.Base58(),
		"estimatedComputeUnits": 200_000,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotEmpty(t, w.Header().Get(correlationHeader))

	var qr core.QuoteResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &qr))
	require.NotEmpty(t, qr.Quote.ID)
	require.Equal(t, uint64(50_200), uint64(qr.Quote.FeeNative))

	tx, err := chain.NewTransaction(qr.Quote.FeePayer, chain.Hash{0xbb},
		chain.TransferInstruction(bed.user.Pubkey(), bed.treasury, 100))
	require.NoError(t, err)
	require.NoError(t, bed.user.SignTransaction(tx))
	raw, err := tx.Serialize()
	require.NoError(t, err)

	w = bed.do(t, http.MethodPost, "/v1/submit", map[string]interface{}{
		"quoteId":           qr.Quote.ID,
		"signedTransaction": base64.StdEncoding.EncodeToString(raw),
		"userPubkey":        bed.user.Pubkey().Base58(),
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var sr core.SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sr))
	require.Equal(t, qr.Quote.ID, sr.QuoteID)
	require.False(t, sr.Signature.IsZero())
}

func TestQuoteRejectsUnknownFields(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodPost, "/v1/quote", map[string]interface{}{
		"userPubkey": bed.user.Pubkey().Base58(),
		"bogus":      true,
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, core.CodeValidation, decodeErr(t, w).Code)
}

func TestSubmitRejectsBadBase64(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodPost, "/v1/submit", map[string]interface{}{
		"quoteId":           "q-1",
		"signedTransaction": "not-base64!!",
		"userPubkey":        bed.user.Pubkey().Base58(),
	}, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, core.CodeValidation, decodeErr(t, w).Code)
}

func TestWalletQuoteLimit(t *testing.T) {
	bed := newAPIBed(t, Config{WalletQuoteLimit: 1})
	body := map[string]interface{}{
		"userPubkey":   bed.user.Pubkey().Base58(),
		"paymentToken": bed.token.Base58(),
	}
	w := bed.do(t, http.MethodPost, "/v1/quote", body, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = bed.do(t, http.MethodPost, "/v1/quote", body, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	e := decodeErr(t, w)
	require.Equal(t, core.CodeRateLimit, e.Code)
	require.Equal(t, 60, e.RetryAfter)
}

func TestIPRateLimit(t *testing.T) {
	bed := newAPIBed(t, Config{IPRatePerSecond: 0.001, IPRateBurst: 1})
	w := bed.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = bed.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestCorrelationIDEchoed(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/version", nil, map[string]string{correlationHeader: "abc-123"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "abc-123", w.Header().Get(correlationHeader))
}

func TestStatsAndWalletViews(t *testing.T) {
	bed := newAPIBed(t, Config{})
	ctx := context.Background()
	require.NoError(t, bed.store.IncrStats(ctx, map[string]int64{
		hotdb.StatBurnTotal: 5_000, hotdb.StatTxCount: 3,
	}))
	require.NoError(t, bed.store.IncrLeaderboard(ctx, bed.user.Pubkey().Base58(), 5_000))

	w := bed.do(t, http.MethodGet, "/v1/stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap types.StatsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	require.Equal(t, uint64(5_000), uint64(snap.BurnTotal))
	require.Equal(t, uint64(3), snap.TxCount)

	w = bed.do(t, http.MethodGet, "/v1/stats/wallet/"+bed.user.Pubkey().Base58(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ws types.WalletStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ws))
	require.Equal(t, int64(1), ws.Rank)
	require.Equal(t, uint64(5_000), uint64(ws.Burned))

	// Unknown wallet yields the zero view, not an error.
	w = bed.do(t, http.MethodGet, "/v1/stats/wallet/"+bed.treasury.Base58(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ws))
	require.Zero(t, ws.Rank)
}

func TestTokensDirectory(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/v1/tokens", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Tokens []types.TokenMeta `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Tokens, 1)
	require.Equal(t, "TKN", body.Tokens[0].Symbol)
}

func TestUnknownBurnSignature404(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/v1/stats/burns/doesnotexist", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", decodeErr(t, w).Code)
}

func TestAdminAuth(t *testing.T) {
	bed := newAPIBed(t, Config{AdminKey: "sekrit"})

	w := bed.do(t, http.MethodGet, "/admin/treasury", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, core.CodeInvalidAPIKey, decodeErr(t, w).Code)

	// Keys in the query string are refused even when correct.
	w = bed.do(t, http.MethodGet, "/admin/treasury?key=sekrit", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = bed.do(t, http.MethodGet, "/admin/treasury", nil, map[string]string{"x-admin-key": "sekrit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAdminNotConfigured(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/admin/treasury", nil, map[string]string{"x-admin-key": "anything"})
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, core.CodeAdminNotConfigured, decodeErr(t, w).Code)
}

func TestAdminMigrateKeys(t *testing.T) {
	bed := newAPIBed(t, Config{AdminKey: "sekrit"})
	ctx := context.Background()

	// Plant a counter under a legacy prefix, then migrate it over.
	legacy := hotdb.NewStore(bed.kv, hotdb.NewKeys("legacy"))
	require.NoError(t, legacy.IncrStats(ctx, map[string]int64{hotdb.StatTxCount: 9}))

	w := bed.do(t, http.MethodPost, "/admin/migrate-keys",
		map[string]string{"legacyPrefix": "legacy"},
		map[string]string{"x-admin-key": "sekrit"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Positive(t, resp["migrated"])

	stats, err := bed.store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "9", stats[hotdb.StatTxCount])
}

func TestHealthEndpoint(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), `"status":"ok"`))
}

func TestVersionEndpoint(t *testing.T) {
	bed := newAPIBed(t, Config{})
	w := bed.do(t, http.MethodGet, "/version", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "version")
}

func TestGracefulStopIdles(t *testing.T) {
	bed := newAPIBed(t, Config{ShutdownGrace: time.Second})
	require.NoError(t, bed.server.Stop())
}
