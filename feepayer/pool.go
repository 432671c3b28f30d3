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

// Package feepayer manages the pool of co-signing accounts: balance
// reservations keyed by quote id, per-account circuit breakers and the
// selection policy the quote service draws from.
package feepayer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pyrelay/pyrelay/chain"
	"github.com/pyrelay/pyrelay/circuit"
	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
)

var (
	// ErrUnknownPayer is returned when a pubkey does not belong to the
	// pool.
	ErrUnknownPayer = errors.New("feepayer: unknown account")
	// ErrNotReserved guards GetForSigning being called without a prior
	// successful Reserve.
	ErrNotReserved = errors.New("feepayer: quote has no reservation")
)

// Config tunes the pool.
type Config struct {
	// MinHealthyBalance is the unreserved balance floor below which an
	// account stops being selected.
	MinHealthyBalance uint64
	// MaxBalanceAge bounds how stale a balance observation may be
	// before the account is treated as unhealthy.
	MaxBalanceAge time.Duration
	// ReservationTTL bounds the hot-store mirror of each reservation;
	// dangling capacity records expire with it.
	ReservationTTL time.Duration
	// FailureThreshold and ResetTimeout configure each account's
	// circuit breaker.
	FailureThreshold int
	ResetTimeout     time.Duration
	// RefreshConcurrency bounds parallel balance reads.
	RefreshConcurrency int
}

// DefaultConfig is used for unset Config fields.
var DefaultConfig = Config{
	MinHealthyBalance:  10_000_000, // 0.01 native coins
	MaxBalanceAge:      5 * time.Minute,
	ReservationTTL:     2 * time.Minute,
	FailureThreshold:   4,
	ResetTimeout:       30 * time.Second,
	RefreshConcurrency: 4,
}

func (c Config) sanitize() Config {
	if c.MinHealthyBalance == 0 {
		c.MinHealthyBalance = DefaultConfig.MinHealthyBalance
	}
	if c.MaxBalanceAge <= 0 {
		c.MaxBalanceAge = DefaultConfig.MaxBalanceAge
	}
	if c.ReservationTTL <= 0 {
		c.ReservationTTL = DefaultConfig.ReservationTTL
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultConfig.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultConfig.ResetTimeout
	}
	if c.RefreshConcurrency <= 0 {
		c.RefreshConcurrency = DefaultConfig.RefreshConcurrency
	}
	return c
}

// account is one signing key's mutable state. Guarded by Pool.mu.
type account struct {
	signer   *chain.Signer
	priority int

	reserved      uint64
	lastBalance   uint64
	lastBalanceAt time.Time

	breaker *circuit.Breaker
}

func (a *account) unreserved() uint64 {
	if a.lastBalance < a.reserved {
		return 0
	}
	return a.lastBalance - a.reserved
}

// Status is one account's health view.
type Status struct {
	Pubkey       common.Pubkey  `json:"pubkey"`
	Priority     int            `json:"priority"`
	Balance      uint64         `json:"balance"`
	Reserved     uint64         `json:"reserved"`
	Unreserved   uint64         `json:"unreserved"`
	BalanceAge   string         `json:"balanceAge"`
	Healthy      bool           `json:"healthy"`
	Breaker      circuit.Status `json:"breaker"`
	Reservations int            `json:"reservations"`
}

// BalanceReader is the chain dependency, satisfied by *chain.Pool.
type BalanceReader interface {
	GetBalance(ctx context.Context, account common.Pubkey) (uint64, error)
}

// Pool owns the fee-payer accounts. All state is process-local except
// the reservation mirror, which lives in the hot store so instances
// can observe each other's commitments.
type Pool struct {
	cfg    Config
	chain  BalanceReader
	store  *hotdb.Store
	logger log.Logger

	mu           sync.Mutex
	accounts     []*account
	byKey        map[common.Pubkey]*account
	reservations map[string]*reservation // quote id -> holder

	now func() time.Time
}

type reservation struct {
	acct   *account
	amount uint64
}

// New builds the pool from decoded signers, in priority order of the
// slice.
func New(signers []*chain.Signer, cfg Config, reader BalanceReader, store *hotdb.Store, logger log.Logger) (*Pool, error) {
	if len(signers) == 0 {
		return nil, errors.New("feepayer: no signing accounts configured")
	}
	cfg = cfg.sanitize()
	p := &Pool{
		cfg:          cfg,
		chain:        reader,
		store:        store,
		logger:       logger,
		byKey:        make(map[common.Pubkey]*account, len(signers)),
		reservations: make(map[string]*reservation),
		now:          time.Now,
	}
	for i, s := range signers {
		a := &account{
			signer:   s,
			priority: i,
			breaker: circuit.New(circuit.Settings{
				FailureThreshold: cfg.FailureThreshold,
				ResetTimeout:     cfg.ResetTimeout,
				IsFailure:        chain.QualifiesForBreaker,
			}),
		}
		p.accounts = append(p.accounts, a)
		p.byKey[s.Pubkey()] = a
	}
	return p, nil
}

// healthy reports selectability. Caller holds p.mu.
func (p *Pool) healthy(a *account) bool {
	if a.breaker.State() == circuit.Open {
		return false
	}
	if a.lastBalanceAt.IsZero() || p.now().Sub(a.lastBalanceAt) > p.cfg.MaxBalanceAge {
		return false
	}
	return a.unreserved() >= p.cfg.MinHealthyBalance
}

// Reserve commits amount of native-coin capacity against the best
// healthy account and returns its pubkey. Re-calling with the same
// quote id returns the original holder without double counting. ok is
// false when no account qualifies.
func (p *Pool) Reserve(ctx context.Context, quoteID string, amount uint64) (common.Pubkey, bool) {
	p.mu.Lock()
	if r, exists := p.reservations[quoteID]; exists {
		key := r.acct.signer.Pubkey()
		p.mu.Unlock()
		return key, true
	}

	candidates := make([]*account, 0, len(p.accounts))
	for _, a := range p.accounts {
		if p.healthy(a) && a.unreserved() >= amount {
			candidates = append(candidates, a)
		}
	}
	if len(candidates) == 0 {
		p.mu.Unlock()
		return common.Pubkey{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].unreserved() > candidates[j].unreserved()
	})
	chosen := candidates[0]
	chosen.reserved += amount
	p.reservations[quoteID] = &reservation{acct: chosen, amount: amount}
	key := chosen.signer.Pubkey()
	p.mu.Unlock()

	if p.store != nil {
		err := p.store.PutReservation(ctx, quoteID, hotdb.ReservationRecord{
			Payer:        key.Base58(),
			AmountNative: amount,
		}, p.cfg.ReservationTTL)
		if err != nil {
			p.logger.Warn("Reservation mirror write failed", "quote", quoteID, "err", err)
		}
	}
	return key, true
}

// Release returns a reservation's capacity. Unknown quote ids are a
// no-op, so double release is safe.
func (p *Pool) Release(ctx context.Context, quoteID string) {
	p.mu.Lock()
	r, exists := p.reservations[quoteID]
	if exists {
		delete(p.reservations, quoteID)
		if r.acct.reserved >= r.amount {
			r.acct.reserved -= r.amount
		} else {
			r.acct.reserved = 0
		}
	}
	p.mu.Unlock()

	if exists && p.store != nil {
		if err := p.store.DeleteReservation(ctx, quoteID); err != nil {
			p.logger.Warn("Reservation mirror delete failed", "quote", quoteID, "err", err)
		}
	}
}

// GetForSigning returns the signer for a reserved quote. It fails when
// the quote holds no reservation or the reservation belongs to a
// different account, both of which indicate a caller bug.
func (p *Pool) GetForSigning(quoteID string, pubkey common.Pubkey) (*chain.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, exists := p.reservations[quoteID]
	if !exists {
		return nil, ErrNotReserved
	}
	if r.acct.signer.Pubkey() != pubkey {
		return nil, ErrUnknownPayer
	}
	return r.acct.signer, nil
}

// Signer returns the signer for a pubkey regardless of reservations,
// used by the burn worker for treasury transactions.
func (p *Pool) Signer(pubkey common.Pubkey) (*chain.Signer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.byKey[pubkey]
	if !ok {
		return nil, ErrUnknownPayer
	}
	return a.signer, nil
}

// Primary returns the highest-priority account's pubkey.
func (p *Pool) Primary() common.Pubkey {
	return p.accounts[0].signer.Pubkey()
}

// ReportFailure feeds an account's breaker with a classified failure.
func (p *Pool) ReportFailure(pubkey common.Pubkey, err error) {
	p.mu.Lock()
	a, ok := p.byKey[pubkey]
	p.mu.Unlock()
	if !ok {
		return
	}
	if a.breaker.Failure(err) {
		p.logger.Warn("Fee payer circuit opened", "payer", pubkey, "err", err)
	}
}

// ReportSuccess clears an account's consecutive failure count.
func (p *Pool) ReportSuccess(pubkey common.Pubkey) {
	p.mu.Lock()
	a, ok := p.byKey[pubkey]
	p.mu.Unlock()
	if ok {
		a.breaker.Success()
	}
}

// RefreshBalances reads every account's balance with bounded
// concurrency and stamps the observation time.
func (p *Pool) RefreshBalances(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.RefreshConcurrency)
	for _, a := range p.accounts {
		a := a
		g.Go(func() error {
			balance, err := p.chain.GetBalance(gctx, a.signer.Pubkey())
			if err != nil {
				p.logger.Warn("Balance refresh failed", "payer", a.signer.Pubkey(), "err", err)
				return nil // one failed account must not stop the rest
			}
			p.mu.Lock()
			a.lastBalance = balance
			a.lastBalanceAt = p.now()
			p.mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// IsCircuitOpenAll reports whether every account's breaker is open,
// the condition that turns quotes away with a 503.
func (p *Pool) IsCircuitOpenAll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if a.breaker.State() != circuit.Open {
			return false
		}
	}
	return true
}

// RetryAfterHint returns the shortest time until some breaker admits a
// trial call again.
func (p *Pool) RetryAfterHint() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	var min time.Duration
	for _, a := range p.accounts {
		d := a.breaker.RetryAfter()
		if min == 0 || (d > 0 && d < min) {
			min = d
		}
	}
	return min
}

// HasHealthy reports whether at least one account is selectable.
func (p *Pool) HasHealthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, a := range p.accounts {
		if p.healthy(a) {
			return true
		}
	}
	return false
}

// Statuses returns the per-account health view.
func (p *Pool) Statuses() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := make(map[common.Pubkey]int)
	for _, r := range p.reservations {
		counts[r.acct.signer.Pubkey()]++
	}
	out := make([]Status, 0, len(p.accounts))
	for _, a := range p.accounts {
		age := ""
		if !a.lastBalanceAt.IsZero() {
			age = p.now().Sub(a.lastBalanceAt).Truncate(time.Second).String()
		}
		out = append(out, Status{
			Pubkey:       a.signer.Pubkey(),
			Priority:     a.priority,
			Balance:      a.lastBalance,
			Reserved:     a.reserved,
			Unreserved:   a.unreserved(),
			BalanceAge:   age,
			Healthy:      p.healthy(a),
			Breaker:      a.breaker.Snapshot(),
			Reservations: counts[a.signer.Pubkey()],
		})
	}
	return out
}

// ReleaseAll drops every reservation, used during shutdown drain.
func (p *Pool) ReleaseAll(ctx context.Context) {
	p.mu.Lock()
	ids := make([]string, 0, len(p.reservations))
	for id := range p.reservations {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.Release(ctx, id)
	}
}
