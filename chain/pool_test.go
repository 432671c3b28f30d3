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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/log"
)

// fakeClient scripts one endpoint's behavior.
type fakeClient struct {
	url      string
	balance  uint64
	failWith error
	calls    int
}

func (f *fakeClient) GetBalance(ctx context.Context, account common.Pubkey) (uint64, error) {
	f.calls++
	if f.failWith != nil {
		return 0, f.failWith
	}
	return f.balance, nil
}

func (f *fakeClient) GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]TokenAccount, error) {
	return nil, nil
}

func (f *fakeClient) GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) GetTokenSupply(ctx context.Context, mint common.Pubkey) (TokenSupply, error) {
	return TokenSupply{}, nil
}

func (f *fakeClient) GetLatestBlockhash(ctx context.Context) (Hash, error) {
	f.calls++
	if f.failWith != nil {
		return Hash{}, f.failWith
	}
	return testBlockhash(), nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *Transaction) (common.Signature, error) {
	f.calls++
	if f.failWith != nil {
		return common.Signature{}, f.failWith
	}
	return common.BytesToSignature([]byte{9}), nil
}

func (f *fakeClient) ConfirmTransaction(ctx context.Context, sig common.Signature) error {
	return nil
}

func (f *fakeClient) Health(ctx context.Context) error { return f.failWith }

func testPool(t *testing.T, fakes map[string]*fakeClient, configs ...EndpointConfig) *Pool {
	t.Helper()
	p, err := NewPool(configs, func(url string) Client { return fakes[url] }, log.Root())
	require.NoError(t, err)
	return p
}

func TestFailoverSkipsToSecondary(t *testing.T) {
	fakes := map[string]*fakeClient{
		"primary":   {url: "primary", failWith: errors.New("dial tcp: connection refused")},
		"secondary": {url: "secondary", balance: 777},
	}
	p := testPool(t, fakes,
		EndpointConfig{Name: "primary", URL: "primary", Priority: 0},
		EndpointConfig{Name: "secondary", URL: "secondary", Priority: 1},
	)

	balance, err := p.GetBalance(context.Background(), common.Pubkey{})
	require.NoError(t, err)
	require.Equal(t, uint64(777), balance)
	require.Equal(t, 1, fakes["primary"].calls)
	require.Equal(t, 1, fakes["secondary"].calls)
}

func TestFailoverSkipsOpenCircuit(t *testing.T) {
	fakes := map[string]*fakeClient{
		"primary":   {url: "primary", failWith: errors.New("dial tcp: connection refused")},
		"secondary": {url: "secondary", balance: 1},
	}
	p := testPool(t, fakes,
		EndpointConfig{Name: "primary", URL: "primary", Priority: 0},
		EndpointConfig{Name: "secondary", URL: "secondary", Priority: 1},
	)

	// Trip the primary's breaker (threshold 5).
	for i := 0; i < 6; i++ {
		_, err := p.GetBalance(context.Background(), common.Pubkey{})
		require.NoError(t, err)
	}
	// After 5 qualifying failures the primary stops being attempted.
	require.Equal(t, 5, fakes["primary"].calls)
	require.Equal(t, 6, fakes["secondary"].calls)
}

func TestAllCircuitsOpenTriesPrimary(t *testing.T) {
	fakes := map[string]*fakeClient{
		"only": {url: "only", failWith: errors.New("dial tcp: connection refused")},
	}
	p := testPool(t, fakes, EndpointConfig{Name: "only", URL: "only", Priority: 0})

	for i := 0; i < 5; i++ {
		_, err := p.GetBalance(context.Background(), common.Pubkey{})
		require.Error(t, err)
	}
	require.False(t, p.Healthy())

	// Circuit is open, but the pool still probes the primary.
	before := fakes["only"].calls
	_, err := p.GetBalance(context.Background(), common.Pubkey{})
	require.Error(t, err)
	require.Equal(t, before+1, fakes["only"].calls)
}

func TestBlockhashCache(t *testing.T) {
	fake := &fakeClient{url: "a"}
	p := testPool(t, map[string]*fakeClient{"a": fake},
		EndpointConfig{Name: "a", URL: "a", Priority: 0})

	_, err := p.LatestBlockhash(context.Background())
	require.NoError(t, err)
	_, err = p.LatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fake.calls, "second read should hit the cache")

	p.InvalidateBlockhash()
	_, err = p.LatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fake.calls)
}

func TestSendInvalidatesBlockhashOnNotFound(t *testing.T) {
	fake := &fakeClient{url: "a"}
	p := testPool(t, map[string]*fakeClient{"a": fake},
		EndpointConfig{Name: "a", URL: "a", Priority: 0})

	_, err := p.LatestBlockhash(context.Background())
	require.NoError(t, err)

	fake.failWith = &RPCError{Method: "sendTransaction", Code: -32002, Message: "BlockhashNotFound"}
	_, err = p.SendTransaction(context.Background(), &Transaction{})
	require.Error(t, err)

	fake.failWith = nil
	_, err = p.LatestBlockhash(context.Background())
	require.NoError(t, err)
	// getLatestBlockhash + sendTransaction + refreshed getLatestBlockhash
	require.Equal(t, 3, fake.calls)
}

func TestErrorClassification(t *testing.T) {
	require.True(t, IsRetryableSubmit(errors.New("Transaction simulation failed: Blockhash not found")))
	require.True(t, IsRetryableSubmit(&HTTPStatusError{StatusCode: 429, Status: "429 Too Many Requests"}))
	require.True(t, IsRetryableSubmit(errors.New("read: connection reset by peer")))
	require.False(t, IsRetryableSubmit(errors.New("Transaction signature verification failure")))
	require.False(t, IsRetryableSubmit(nil))

	require.True(t, IsBlockhashNotFound(&RPCError{Message: "BlockhashNotFound"}))
	require.False(t, IsBlockhashNotFound(errors.New("insufficient funds")))

	require.True(t, QualifiesForBreaker(context.DeadlineExceeded))
	require.True(t, QualifiesForBreaker(&HTTPStatusError{StatusCode: 503, Status: "503"}))
	require.False(t, QualifiesForBreaker(&HTTPStatusError{StatusCode: 400, Status: "400"}))
	require.False(t, QualifiesForBreaker(errors.New("custom program error: 0x1")))
}
