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

// Package oracle holds the relay's outward-looking collaborators: the
// DEX aggregator used for price discovery and swaps, and the
// holder-verification service gating payment tokens. Core packages
// depend only on the interfaces defined here.
package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/circuit"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
)

// ErrDexUnavailable is returned while the aggregator's circuit breaker
// is open; cached quotes keep serving where the bucket window allows.
var ErrDexUnavailable = errors.New("oracle: dex aggregator unavailable")

// SwapQuote is one DEX aggregator price for an exact-in swap. Raw
// carries the aggregator's response verbatim for the follow-up swap
// transaction request.
type SwapQuote struct {
	InputMint  common.Pubkey
	OutputMint common.Pubkey
	InAmount   uint64
	OutAmount  uint64
	Raw        json.RawMessage
}

// DexAggregator is the price-discovery and swap-construction surface.
type DexAggregator interface {
	// Quote prices an exact-in swap.
	Quote(ctx context.Context, input, output common.Pubkey, amount uint64) (*SwapQuote, error)
	// SwapTransaction builds the unsigned swap transaction for a
	// previously obtained quote, paid and signed by user.
	SwapTransaction(ctx context.Context, quote *SwapQuote, user common.Pubkey) (*chain.Transaction, error)
	// PriceUSD returns a token's unit price in USD.
	PriceUSD(ctx context.Context, mint common.Pubkey) (float64, error)
}

// JupiterClient talks to the Jupiter aggregator HTTP API, with the
// hot-store bucket cache in front of Quote and a circuit breaker on
// every upstream call.
type JupiterClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuit.Breaker
	store   *hotdb.Store
	logger  log.Logger
}

var _ DexAggregator = (*JupiterClient)(nil)

// DefaultJupiterURL is the public aggregator endpoint.
const DefaultJupiterURL = "https://quote-api.jup.ag/v6"

// NewJupiterClient builds the aggregator client. store may be nil to
// disable quote caching.
func NewJupiterClient(baseURL, apiKey string, store *hotdb.Store, logger log.Logger) *JupiterClient {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	return &JupiterClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		breaker: circuit.New(circuit.Settings{}),
		store:   store,
		logger:  logger,
	}
}

// do executes one aggregator request through the breaker.
func (j *JupiterClient) do(req *http.Request) ([]byte, error) {
	if !j.breaker.Allow() {
		return nil, ErrDexUnavailable
	}
	if j.apiKey != "" {
		req.Header.Set("x-api-key", j.apiKey)
	}
	resp, err := j.client.Do(req)
	if err != nil {
		j.breaker.Failure(err)
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		j.breaker.Failure(err)
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("jupiter: http %s: %s", resp.Status, truncate(body))
		j.breaker.Failure(err)
		return nil, err
	}
	j.breaker.Success()
	return body, nil
}

func (j *JupiterClient) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return j.do(req)
}

// Quote prices amount of input in output units. Cache hits are
// rescaled proportionally inside the store, so only one upstream call
// per (pair, magnitude bucket) happens every cache window.
func (j *JupiterClient) Quote(ctx context.Context, input, output common.Pubkey, amount uint64) (*SwapQuote, error) {
	if j.store != nil {
		if out, ok := j.store.LookupSwap(ctx, input.Base58(), output.Base58(), amount); ok {
			return &SwapQuote{
				InputMint:  input,
				OutputMint: output,
				InAmount:   amount,
				OutAmount:  out,
			}, nil
		}
	}
	q := url.Values{}
	q.Set("inputMint", input.Base58())
	q.Set("outputMint", output.Base58())
	q.Set("amount", strconv.FormatUint(amount, 10))
	q.Set("slippageBps", "100")
	body, err := j.get(ctx, j.baseURL+"/quote?"+q.Encode())
	if err != nil {
		return nil, err
	}
	parsed := gjson.ParseBytes(body)
	if errMsg := parsed.Get("error"); errMsg.Exists() {
		return nil, fmt.Errorf("jupiter: %s", errMsg.String())
	}
	quote := &SwapQuote{
		InputMint:  input,
		OutputMint: output,
		InAmount:   parsed.Get("inAmount").Uint(),
		OutAmount:  parsed.Get("outAmount").Uint(),
		Raw:        json.RawMessage(body),
	}
	if quote.OutAmount == 0 {
		return nil, fmt.Errorf("jupiter: no route for %s -> %s", input, output)
	}
	if j.store != nil {
		if err := j.store.StoreSwap(ctx, input.Base58(), output.Base58(), quote.InAmount, quote.OutAmount); err != nil {
			j.logger.Debug("Swap cache write failed", "err", err)
		}
	}
	return quote, nil
}

// SwapTransaction asks the aggregator to build the swap transaction
// for a quote. Cache-served quotes carry no route and must be
// re-quoted first.
func (j *JupiterClient) SwapTransaction(ctx context.Context, quote *SwapQuote, user common.Pubkey) (*chain.Transaction, error) {
	if len(quote.Raw) == 0 {
		fresh, err := j.freshQuote(ctx, quote)
		if err != nil {
			return nil, err
		}
		quote = fresh
	}
	payload, err := json.Marshal(map[string]interface{}{
		"quoteResponse":             json.RawMessage(quote.Raw),
		"userPublicKey":             user.Base58(),
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	body, err := j.do(req)
	if err != nil {
		return nil, err
	}
	encoded := gjson.GetBytes(body, "swapTransaction").String()
	if encoded == "" {
		return nil, fmt.Errorf("jupiter swap: response carries no transaction")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: decode transaction: %w", err)
	}
	return chain.ParseTransaction(raw)
}

// freshQuote re-quotes bypassing the cache to obtain a routable Raw.
func (j *JupiterClient) freshQuote(ctx context.Context, quote *SwapQuote) (*SwapQuote, error) {
	q := url.Values{}
	q.Set("inputMint", quote.InputMint.Base58())
	q.Set("outputMint", quote.OutputMint.Base58())
	q.Set("amount", strconv.FormatUint(quote.InAmount, 10))
	q.Set("slippageBps", "100")
	body, err := j.get(ctx, j.baseURL+"/quote?"+q.Encode())
	if err != nil {
		return nil, err
	}
	out := gjson.GetBytes(body, "outAmount").Uint()
	if out == 0 {
		return nil, fmt.Errorf("jupiter: no route for %s -> %s", quote.InputMint, quote.OutputMint)
	}
	return &SwapQuote{
		InputMint:  quote.InputMint,
		OutputMint: quote.OutputMint,
		InAmount:   quote.InAmount,
		OutAmount:  out,
		Raw:        json.RawMessage(body),
	}, nil
}

// PriceUSD reads the aggregator's price feed for one mint.
func (j *JupiterClient) PriceUSD(ctx context.Context, mint common.Pubkey) (float64, error) {
	body, err := j.get(ctx, "https://price.jup.ag/v6/price?ids="+mint.Base58())
	if err != nil {
		return 0, err
	}
	price := gjson.GetBytes(body, "data."+mint.Base58()+".price")
	if !price.Exists() {
		return 0, fmt.Errorf("jupiter price: no price for %s", mint)
	}
	return price.Float(), nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
