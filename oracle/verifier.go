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
	"fmt"
	"io"
	"net/http"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/tidwall/gjson"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/params"
)

// TokenVerdict is the verification oracle's judgement of one payment
// token.
type TokenVerdict struct {
	Mint       common.Pubkey
	Accepted   bool
	Tier       string
	Symbol     string
	Decimals   uint8
	Score      int
	Multiplier float64
	// DualBurnPct is the ecosystem-burn bonus for this token, applied
	// by the burn worker. Bounded by params.MaxDualBurnRatio.
	DualBurnPct float64
}

// HolderVerifier resolves token acceptance and scoring.
type HolderVerifier interface {
	VerifyToken(ctx context.Context, mint common.Pubkey) (*TokenVerdict, error)
}

// Scorer converts a raw verification score into the fee multiplier.
// The current implementation is the K-score path; the interface is the
// seam for a future unified score.
type Scorer interface {
	Multiplier(score int) float64
}

// KScorer maps K-scores to multipliers: full-score tokens pay at par,
// risky ones up to double.
type KScorer struct{}

func (KScorer) Multiplier(score int) float64 {
	switch {
	case score >= 90:
		return 1.0
	case score >= 70:
		return 1.1
	case score >= 50:
		return 1.25
	case score >= 30:
		return 1.5
	default:
		return 2.0
	}
}

// minAcceptScore is the tier threshold below which tokens are refused.
const minAcceptScore = 30

// HTTPVerifier calls the external holder-verification service, with a
// local cache and a diamond set of tokens accepted without any network
// call.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
	scorer  Scorer
	diamond mapset.Set[common.Pubkey]
	cache   *lru.LRU[common.Pubkey, *TokenVerdict]
	logger  log.Logger
}

var _ HolderVerifier = (*HTTPVerifier)(nil)

// NewHTTPVerifier builds the verifier. diamond lists well-known mints
// accepted locally at full score.
func NewHTTPVerifier(baseURL string, diamond []common.Pubkey, scorer Scorer, logger log.Logger) *HTTPVerifier {
	if scorer == nil {
		scorer = KScorer{}
	}
	set := mapset.NewSet[common.Pubkey]()
	for _, mint := range diamond {
		set.Add(mint)
	}
	return &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
		scorer:  scorer,
		diamond: set,
		cache:   lru.NewLRU[common.Pubkey, *TokenVerdict](1024, nil, params.SupplyCacheTTLSeconds*time.Second),
		logger:  logger,
	}
}

// VerifyToken returns the verdict for a mint. Diamond-set members skip
// the network; other verdicts are cached for the supply-cache window.
func (v *HTTPVerifier) VerifyToken(ctx context.Context, mint common.Pubkey) (*TokenVerdict, error) {
	if v.diamond.Contains(mint) {
		return &TokenVerdict{
			Mint:       mint,
			Accepted:   true,
			Tier:       "diamond",
			Score:      100,
			Multiplier: 1.0,
		}, nil
	}
	if verdict, ok := v.cache.Get(mint); ok {
		return verdict, nil
	}
	if v.baseURL == "" {
		return nil, fmt.Errorf("oracle: verifier not configured and %s is not in the diamond set", mint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/token/"+mint.Base58(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle: verify %s: %w", mint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle: verify %s: http %s", mint, resp.Status)
	}
	parsed := gjson.ParseBytes(body)
	score := int(parsed.Get("kScore").Int())
	verdict := &TokenVerdict{
		Mint:        mint,
		Tier:        parsed.Get("tier").String(),
		Symbol:      parsed.Get("symbol").String(),
		Decimals:    uint8(parsed.Get("decimals").Uint()),
		Score:       score,
		Accepted:    score >= minAcceptScore,
		Multiplier:  v.scorer.Multiplier(score),
		DualBurnPct: clampDualBurn(parsed.Get("dualBurnPct").Float()),
	}
	v.cache.Add(mint, verdict)
	return verdict, nil
}

func clampDualBurn(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > params.MaxDualBurnRatio {
		return params.MaxDualBurnRatio
	}
	return pct
}
