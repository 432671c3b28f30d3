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

package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/params"
)

// HTTPClient is a JSON-RPC 2.0 client for one chain endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client for url with the default bounded
// timeout.
func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url: url,
		client: &http.Client{
			Timeout: params.DefaultRPCTimeoutSecond * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// call performs one JSON-RPC round trip and returns the result field.
func (c *HTTPClient) call(ctx context.Context, method string, rpcParams ...interface{}) (gjson.Result, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: rpcParams})
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s: read response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, &HTTPStatusError{Method: method, StatusCode: resp.StatusCode, Status: resp.Status}
	}
	parsed := gjson.ParseBytes(raw)
	if rpcErr := parsed.Get("error"); rpcErr.Exists() {
		return gjson.Result{}, &RPCError{
			Method:  method,
			Code:    int(rpcErr.Get("code").Int()),
			Message: rpcErr.Get("message").String(),
		}
	}
	return parsed.Get("result"), nil
}

func (c *HTTPClient) GetBalance(ctx context.Context, account common.Pubkey) (uint64, error) {
	res, err := c.call(ctx, "getBalance", account.Base58(), commitment())
	if err != nil {
		return 0, err
	}
	return res.Get("value").Uint(), nil
}

func (c *HTTPClient) GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]TokenAccount, error) {
	res, err := c.call(ctx, "getTokenAccountsByOwner", owner.Base58(),
		map[string]string{"programId": TokenProgramID.Base58()},
		map[string]string{"encoding": "jsonParsed", "commitment": "confirmed"})
	if err != nil {
		return nil, err
	}
	var accounts []TokenAccount
	res.Get("value").ForEach(func(_, entry gjson.Result) bool {
		acct, err := common.Base58ToPubkey(entry.Get("pubkey").String())
		if err != nil {
			return true
		}
		info := entry.Get("account.data.parsed.info")
		mint, err := common.Base58ToPubkey(info.Get("mint").String())
		if err != nil {
			return true
		}
		accounts = append(accounts, TokenAccount{
			Account:  acct,
			Mint:     mint,
			Amount:   info.Get("tokenAmount.amount").Uint(),
			Decimals: uint8(info.Get("tokenAmount.decimals").Uint()),
		})
		return true
	})
	return accounts, nil
}

func (c *HTTPClient) GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error) {
	accounts, err := c.GetTokenAccountsByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, a := range accounts {
		if a.Mint == mint {
			total += a.Amount
		}
	}
	return total, nil
}

func (c *HTTPClient) GetTokenSupply(ctx context.Context, mint common.Pubkey) (TokenSupply, error) {
	res, err := c.call(ctx, "getTokenSupply", mint.Base58(), commitment())
	if err != nil {
		return TokenSupply{}, err
	}
	return TokenSupply{
		Amount:   res.Get("value.amount").Uint(),
		Decimals: uint8(res.Get("value.decimals").Uint()),
	}, nil
}

func (c *HTTPClient) GetLatestBlockhash(ctx context.Context) (Hash, error) {
	res, err := c.call(ctx, "getLatestBlockhash", commitment())
	if err != nil {
		return Hash{}, err
	}
	return Base58ToHash(res.Get("value.blockhash").String())
}

func (c *HTTPClient) SendTransaction(ctx context.Context, tx *Transaction) (common.Signature, error) {
	raw, err := tx.Serialize()
	if err != nil {
		return common.Signature{}, err
	}
	res, err := c.call(ctx, "sendTransaction",
		base64.StdEncoding.EncodeToString(raw),
		map[string]interface{}{"encoding": "base64", "preflightCommitment": "confirmed"})
	if err != nil {
		return common.Signature{}, err
	}
	return common.Base58ToSignature(res.String())
}

// confirmPollInterval paces signature status polling.
const confirmPollInterval = 500 * time.Millisecond

func (c *HTTPClient) ConfirmTransaction(ctx context.Context, sig common.Signature) error {
	tick := time.NewTicker(confirmPollInterval)
	defer tick.Stop()
	for {
		res, err := c.call(ctx, "getSignatureStatuses", []string{sig.Base58()})
		if err == nil {
			status := res.Get("value.0")
			if status.Exists() && status.Type != gjson.Null {
				if txErr := status.Get("err"); txErr.Exists() && txErr.Type != gjson.Null {
					return fmt.Errorf("transaction %s failed: %s", sig, txErr.Raw)
				}
				switch status.Get("confirmationStatus").String() {
				case "confirmed", "finalized":
					return nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-tick.C:
		}
	}
}

func (c *HTTPClient) Health(ctx context.Context) error {
	res, err := c.call(ctx, "getHealth")
	if err != nil {
		return err
	}
	if res.String() != "ok" {
		return fmt.Errorf("endpoint unhealthy: %s", res.String())
	}
	return nil
}

func commitment() map[string]string {
	return map[string]string{"commitment": "confirmed"}
}
