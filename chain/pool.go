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
	"sort"
	"sync"
	"time"

	"github.com/pyrelay/pyrelay/circuit"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/params"
)

// ErrNoEndpoints is returned when the pool was built without any
// usable endpoint.
var ErrNoEndpoints = errors.New("chain: no endpoints configured")

// EndpointConfig describes one RPC endpoint before construction.
type EndpointConfig struct {
	Name     string
	URL      string
	Priority int
}

// latencyWindow tracks a sliding window of call durations.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func (w *latencyWindow) add(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.samples == nil {
		w.samples = make([]time.Duration, params.LatencyWindowSize)
	}
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
}

func (w *latencyWindow) average() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += w.samples[i]
	}
	return sum / time.Duration(n)
}

// Endpoint is one pool member.
type Endpoint struct {
	Name     string
	Priority int

	client  Client
	breaker *circuit.Breaker
	latency latencyWindow
}

// EndpointStatus is the health view of one endpoint.
type EndpointStatus struct {
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	Breaker    circuit.Status `json:"breaker"`
	AvgLatency string         `json:"avgLatency"`
}

// Pool fans chain calls out over priority-ordered endpoints with
// per-endpoint circuit breakers and transparent failover.
type Pool struct {
	endpoints []*Endpoint
	logger    log.Logger

	bhMu       sync.Mutex
	blockhash  Hash
	bhFetched  time.Time
	bhCacheFor time.Duration

	now func() time.Time
}

// NewPool builds a pool from endpoint configs, ordered by ascending
// priority. Construction of each client goes through newClient, which
// tests may substitute.
func NewPool(configs []EndpointConfig, newClient func(url string) Client, logger log.Logger) (*Pool, error) {
	if len(configs) == 0 {
		return nil, ErrNoEndpoints
	}
	if newClient == nil {
		newClient = func(url string) Client { return NewHTTPClient(url) }
	}
	p := &Pool{
		logger:     logger,
		bhCacheFor: params.BlockhashCacheSeconds * time.Second,
		now:        time.Now,
	}
	for _, cfg := range configs {
		p.endpoints = append(p.endpoints, &Endpoint{
			Name:     cfg.Name,
			Priority: cfg.Priority,
			client:   newClient(cfg.URL),
			breaker: circuit.New(circuit.Settings{
				FailureThreshold: 5,
				ResetTimeout:     30 * time.Second,
				IsFailure:        QualifiesForBreaker,
			}),
		})
	}
	sort.SliceStable(p.endpoints, func(i, j int) bool {
		return p.endpoints[i].Priority < p.endpoints[j].Priority
	})
	return p, nil
}

// ExecuteWithFailover runs op against endpoints in priority order,
// skipping open circuits. When every circuit is open the primary is
// tried anyway, so a full outage still probes recovery.
func (p *Pool) ExecuteWithFailover(ctx context.Context, opName string, op func(context.Context, Client) error) error {
	var lastErr error
	attempted := false
	for _, ep := range p.endpoints {
		if !ep.breaker.Allow() {
			continue
		}
		attempted = true
		if err := p.try(ctx, ep, opName, op); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return lastErr
			}
			continue
		}
		return nil
	}
	if !attempted {
		primary := p.endpoints[0]
		p.logger.Warn("All endpoint circuits open, trying primary anyway", "op", opName)
		if err := p.try(ctx, primary, opName, op); err != nil {
			return err
		}
		return nil
	}
	return lastErr
}

func (p *Pool) try(ctx context.Context, ep *Endpoint, opName string, op func(context.Context, Client) error) error {
	start := p.now()
	err := op(ctx, ep.client)
	ep.latency.add(p.now().Sub(start))
	if err != nil {
		if ep.breaker.Failure(err) {
			p.logger.Warn("Endpoint circuit opened", "endpoint", ep.Name, "op", opName, "err", err)
		}
		return err
	}
	ep.breaker.Success()
	return nil
}

// Status returns per-endpoint health for the health surface.
func (p *Pool) Status() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointStatus{
			Name:       ep.Name,
			Priority:   ep.Priority,
			Breaker:    ep.breaker.Snapshot(),
			AvgLatency: ep.latency.average().String(),
		})
	}
	return out
}

// Healthy reports whether at least one endpoint circuit admits calls.
func (p *Pool) Healthy() bool {
	for _, ep := range p.endpoints {
		if ep.breaker.State() != circuit.Open {
			return true
		}
	}
	return false
}

// Convenience wrappers over ExecuteWithFailover.

func (p *Pool) GetBalance(ctx context.Context, account common.Pubkey) (uint64, error) {
	var balance uint64
	err := p.ExecuteWithFailover(ctx, "getBalance", func(ctx context.Context, c Client) error {
		var err error
		balance, err = c.GetBalance(ctx, account)
		return err
	})
	return balance, err
}

func (p *Pool) GetTokenAccountsByOwner(ctx context.Context, owner common.Pubkey) ([]TokenAccount, error) {
	var accounts []TokenAccount
	err := p.ExecuteWithFailover(ctx, "getTokenAccountsByOwner", func(ctx context.Context, c Client) error {
		var err error
		accounts, err = c.GetTokenAccountsByOwner(ctx, owner)
		return err
	})
	return accounts, err
}

func (p *Pool) GetTokenBalance(ctx context.Context, owner, mint common.Pubkey) (uint64, error) {
	var balance uint64
	err := p.ExecuteWithFailover(ctx, "getTokenBalance", func(ctx context.Context, c Client) error {
		var err error
		balance, err = c.GetTokenBalance(ctx, owner, mint)
		return err
	})
	return balance, err
}

func (p *Pool) GetTokenSupply(ctx context.Context, mint common.Pubkey) (TokenSupply, error) {
	var supply TokenSupply
	err := p.ExecuteWithFailover(ctx, "getTokenSupply", func(ctx context.Context, c Client) error {
		var err error
		supply, err = c.GetTokenSupply(ctx, mint)
		return err
	})
	return supply, err
}

// LatestBlockhash returns a recent blockhash, served from a short
// cache so quote/submit bursts share one upstream read.
func (p *Pool) LatestBlockhash(ctx context.Context) (Hash, error) {
	p.bhMu.Lock()
	if !p.blockhash.IsZero() && p.now().Sub(p.bhFetched) < p.bhCacheFor {
		h := p.blockhash
		p.bhMu.Unlock()
		return h, nil
	}
	p.bhMu.Unlock()

	var h Hash
	err := p.ExecuteWithFailover(ctx, "getLatestBlockhash", func(ctx context.Context, c Client) error {
		var err error
		h, err = c.GetLatestBlockhash(ctx)
		return err
	})
	if err != nil {
		return Hash{}, err
	}
	p.bhMu.Lock()
	p.blockhash = h
	p.bhFetched = p.now()
	p.bhMu.Unlock()
	return h, nil
}

// InvalidateBlockhash drops the cache after a submit that came back
// with a blockhash-not-found rejection.
func (p *Pool) InvalidateBlockhash() {
	p.bhMu.Lock()
	p.blockhash = Hash{}
	p.bhMu.Unlock()
}

func (p *Pool) SendTransaction(ctx context.Context, tx *Transaction) (common.Signature, error) {
	var sig common.Signature
	err := p.ExecuteWithFailover(ctx, "sendTransaction", func(ctx context.Context, c Client) error {
		var err error
		sig, err = c.SendTransaction(ctx, tx)
		return err
	})
	if IsBlockhashNotFound(err) {
		p.InvalidateBlockhash()
	}
	return sig, err
}

func (p *Pool) ConfirmTransaction(ctx context.Context, sig common.Signature) error {
	return p.ExecuteWithFailover(ctx, "confirmTransaction", func(ctx context.Context, c Client) error {
		return c.ConfirmTransaction(ctx, sig)
	})
}
