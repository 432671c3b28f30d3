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

package hotdb

import (
	"context"
	"encoding/json"
	"fmt"
	stdmath "math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pyrelay/pyrelay/common"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/params"
)

// Statistics hash fields.
const (
	StatBurnTotal   = "burn_total"
	StatTxCount     = "tx_count"
	StatFeesNative  = "fees_native"
	StatTreasuryEco = "treasury_eco"
)

// Store layers the relay's domain operations over a KV backend. All
// serialization and key construction happens here; callers never see
// raw keys.
type Store struct {
	kv   KV
	keys Keys
}

// NewStore wraps a backend with the given key namespace.
func NewStore(kv KV, keys Keys) *Store {
	return &Store{kv: kv, keys: keys}
}

// Keys exposes the key builder, mainly for the sync worker.
func (s *Store) Keys() Keys { return s.keys }

// Ping reports backend reachability.
func (s *Store) Ping(ctx context.Context) error { return s.kv.Ping(ctx) }

// Close releases the backend.
func (s *Store) Close() error { return s.kv.Close() }

// Quotes

func (s *Store) PutQuote(ctx context.Context, q *types.Quote, ttl time.Duration) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quote: %w", err)
	}
	return s.kv.Set(ctx, s.keys.Quote(q.ID), string(raw), ttl)
}

func (s *Store) GetQuote(ctx context.Context, id string) (*types.Quote, error) {
	raw, err := s.kv.Get(ctx, s.keys.Quote(id))
	if err != nil {
		return nil, err
	}
	q := new(types.Quote)
	if err := json.Unmarshal([]byte(raw), q); err != nil {
		return nil, fmt.Errorf("decode quote %s: %w", id, err)
	}
	return q, nil
}

func (s *Store) DeleteQuote(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, s.keys.Quote(id))
}

// Anti-replay slots

// ClaimReplaySlot atomically claims the fingerprint for the blockhash
// validity window and reports whether this caller won the claim.
func (s *Store) ClaimReplaySlot(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error) {
	return s.kv.SetNX(ctx, s.keys.ReplaySlot(fingerprint), "1", ttl)
}

// ReleaseReplaySlot frees a claimed slot so the caller may retry.
// Only failure paths that never reached the chain should call it.
func (s *Store) ReleaseReplaySlot(ctx context.Context, fingerprint string) error {
	return s.kv.Delete(ctx, s.keys.ReplaySlot(fingerprint))
}

// Rolling counters

// IncrCounter bumps the (kind, subject) window counter, re-applying
// the window TTL, and returns the running count.
func (s *Store) IncrCounter(ctx context.Context, kind, subject string, window time.Duration) (int64, error) {
	return s.kv.IncrBy(ctx, s.keys.Counter(kind, subject), 1, window)
}

// Distributed locks

// AcquireLock claims a named lock and returns the release token.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = s.kv.SetNX(ctx, s.keys.Lock(name), token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

// ReleaseLock frees the lock iff token still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, token string) (bool, error) {
	return s.kv.CompareAndDelete(ctx, s.keys.Lock(name), token)
}

// WithLock runs fn while holding the named lock. held is false when
// another holder owns the lock; fn's error is returned as-is.
func (s *Store) WithLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) (held bool, err error) {
	token, ok, err := s.AcquireLock(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// Release on a fresh context so shutdown cancellation cannot
		// leave the lock dangling until TTL.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.ReleaseLock(rctx, name, token)
	}()
	return true, fn(ctx)
}

// Leaderboard

// IncrLeaderboard adds burned ecosystem units to a wallet's total.
func (s *Store) IncrLeaderboard(ctx context.Context, wallet string, units uint64) error {
	_, err := s.kv.ZIncrBy(ctx, s.keys.Leaderboard(), wallet, float64(units))
	return err
}

// LeaderboardRank returns a wallet's 1-based rank and score.
func (s *Store) LeaderboardRank(ctx context.Context, wallet string) (rank int64, burned uint64, err error) {
	rank, err = s.kv.ZRevRank(ctx, s.keys.Leaderboard(), wallet)
	if err != nil {
		return 0, 0, err
	}
	score, err := s.kv.ZScore(ctx, s.keys.Leaderboard(), wallet)
	if err != nil {
		return 0, 0, err
	}
	return rank + 1, uint64(score), nil
}

// LeaderboardTop returns the top n wallets by burned units.
func (s *Store) LeaderboardTop(ctx context.Context, n int64) ([]types.LeaderboardEntry, error) {
	members, err := s.kv.ZRevRangeWithScores(ctx, s.keys.Leaderboard(), 0, n-1)
	if err != nil {
		return nil, err
	}
	entries := make([]types.LeaderboardEntry, 0, len(members))
	for i, m := range members {
		wallet, err := common.Base58ToPubkey(m.Member)
		if err != nil {
			continue
		}
		burned := uint64(0)
		if m.Score > 0 {
			burned = uint64(m.Score)
		}
		entries = append(entries, types.LeaderboardEntry{
			Wallet: wallet,
			Burned: math.Amount(burned),
			Rank:   int64(i) + 1,
		})
	}
	return entries, nil
}

// LeaderboardAll returns every member, used by the sync worker's
// fallback fold-in.
func (s *Store) LeaderboardAll(ctx context.Context) ([]ScoredMember, error) {
	return s.kv.ZRevRangeWithScores(ctx, s.keys.Leaderboard(), 0, -1)
}

// Streams

func (s *Store) PushBurnProof(ctx context.Context, p *types.BurnProof) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode burn proof: %w", err)
	}
	return s.kv.LPushTrim(ctx, s.keys.BurnProofs(), string(raw), params.BurnProofCap, 0)
}

func (s *Store) BurnProofs(ctx context.Context, limit int64) ([]*types.BurnProof, error) {
	raws, err := s.kv.LRange(ctx, s.keys.BurnProofs(), 0, limit-1)
	if err != nil {
		return nil, err
	}
	proofs := make([]*types.BurnProof, 0, len(raws))
	for _, raw := range raws {
		p := new(types.BurnProof)
		if err := json.Unmarshal([]byte(raw), p); err != nil {
			continue
		}
		proofs = append(proofs, p)
	}
	return proofs, nil
}

func (s *Store) PushTreasuryEvent(ctx context.Context, ev *types.TreasuryEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode treasury event: %w", err)
	}
	return s.kv.LPushTrim(ctx, s.keys.TreasuryEvents(), string(raw), params.TreasuryEventCap, 0)
}

func (s *Store) TreasuryEvents(ctx context.Context, limit int64) ([]*types.TreasuryEvent, error) {
	raws, err := s.kv.LRange(ctx, s.keys.TreasuryEvents(), 0, limit-1)
	if err != nil {
		return nil, err
	}
	events := make([]*types.TreasuryEvent, 0, len(raws))
	for _, raw := range raws {
		ev := new(types.TreasuryEvent)
		if err := json.Unmarshal([]byte(raw), ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (s *Store) PushAudit(ctx context.Context, e *types.AuditEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	ttl := time.Duration(params.AuditTTLDays) * 24 * time.Hour
	return s.kv.LPushTrim(ctx, s.keys.AuditLog(), string(raw), params.AuditLogCap, ttl)
}

func (s *Store) AuditTail(ctx context.Context, limit int64) ([]*types.AuditEntry, error) {
	raws, err := s.kv.LRange(ctx, s.keys.AuditLog(), 0, limit-1)
	if err != nil {
		return nil, err
	}
	entries := make([]*types.AuditEntry, 0, len(raws))
	for _, raw := range raws {
		e := new(types.AuditEntry)
		if err := json.Unmarshal([]byte(raw), e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Statistics

// IncrStats applies additive deltas to the statistics hash. Each field
// is atomic on its own; cross-field readers tolerate slight skew.
func (s *Store) IncrStats(ctx context.Context, deltas map[string]int64) error {
	for field, delta := range deltas {
		if delta == 0 {
			continue
		}
		if _, err := s.kv.HIncrBy(ctx, s.keys.Stats(), field, delta); err != nil {
			return err
		}
	}
	return nil
}

// SetStat overwrites a gauge-style field such as the treasury balance.
func (s *Store) SetStat(ctx context.Context, field string, value uint64) error {
	return s.kv.HSet(ctx, s.keys.Stats(), map[string]string{
		field: strconv.FormatUint(value, 10),
	})
}

// Stats returns the raw statistics hash.
func (s *Store) Stats(ctx context.Context) (map[string]string, error) {
	return s.kv.HGetAll(ctx, s.keys.Stats())
}

// StatsSnapshot renders the public counters view.
func (s *Store) StatsSnapshot(ctx context.Context, now time.Time) (*types.StatsSnapshot, error) {
	raw, err := s.Stats(ctx)
	if err != nil {
		return nil, err
	}
	snap := &types.StatsSnapshot{GeneratedAt: now}
	snap.BurnTotal = math.Amount(parseField(raw, StatBurnTotal))
	snap.TxCount = parseField(raw, StatTxCount)
	snap.FeesNative = math.Amount(parseField(raw, StatFeesNative))
	snap.TreasuryEco = math.Amount(parseField(raw, StatTreasuryEco))
	return snap, nil
}

// Velocity buckets

// VelocityBucket is one minute of signing activity.
type VelocityBucket struct {
	Minute int64
	Count  uint64
	Cost   uint64
}

// RecordVelocity adds one transaction of the given native cost to the
// current minute bucket.
func (s *Store) RecordVelocity(ctx context.Context, now time.Time, costNative uint64) error {
	if costNative > stdmath.MaxInt64 {
		return fmt.Errorf("velocity cost %d out of range", costNative)
	}
	minute := now.Unix() / 60
	ttl := time.Duration(params.VelocityWindowMinutes+5) * time.Minute
	if _, err := s.kv.IncrBy(ctx, s.keys.VelocityCount(minute), 1, ttl); err != nil {
		return err
	}
	_, err := s.kv.IncrBy(ctx, s.keys.VelocityCost(minute), int64(costNative), ttl)
	return err
}

// VelocityWindow bulk-reads the trailing window of minute buckets,
// oldest first. Missing buckets are returned with zero values so the
// caller can distinguish observed idle minutes from a short history.
func (s *Store) VelocityWindow(ctx context.Context, now time.Time, minutes int) ([]VelocityBucket, error) {
	current := now.Unix() / 60
	keys := make([]string, 0, minutes*2)
	for i := minutes - 1; i >= 0; i-- {
		m := current - int64(i)
		keys = append(keys, s.keys.VelocityCount(m), s.keys.VelocityCost(m))
	}
	values, err := s.kv.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	if len(values) != len(keys) {
		return nil, fmt.Errorf("bulk read returned %d values for %d keys", len(values), len(keys))
	}
	buckets := make([]VelocityBucket, 0, minutes)
	for i := 0; i < minutes; i++ {
		b := VelocityBucket{Minute: current - int64(minutes-1-i)}
		if v := values[i*2]; v != nil {
			n, _ := strconv.ParseUint(*v, 10, 64)
			b.Count = n
		}
		if v := values[i*2+1]; v != nil {
			n, _ := strconv.ParseUint(*v, 10, 64)
			b.Cost = n
		}
		buckets = append(buckets, b)
	}
	return buckets, nil
}

// DEX quote cache

// cachedSwap is the stored form of one oracle quote.
type cachedSwap struct {
	InAmount  uint64 `json:"in,string"`
	OutAmount uint64 `json:"out,string"`
}

// SwapBucket places an amount into its decimal magnitude bucket,
// bounding cache cardinality per pair.
func SwapBucket(amount uint64) int {
	return len(strconv.FormatUint(amount, 10))
}

// LookupSwap returns a cached oracle quote for the pair, rescaled
// proportionally to the requested amount. ok is false on miss.
func (s *Store) LookupSwap(ctx context.Context, inputMint, outputMint string, amount uint64) (outAmount uint64, ok bool) {
	if amount == 0 {
		return 0, false
	}
	raw, err := s.kv.Get(ctx, s.keys.SwapCache(inputMint, outputMint, SwapBucket(amount)))
	if err != nil {
		return 0, false
	}
	var c cachedSwap
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.InAmount == 0 {
		return 0, false
	}
	// out * amount / in without intermediate overflow.
	out := new(big.Int).SetUint64(c.OutAmount)
	out.Mul(out, new(big.Int).SetUint64(amount))
	out.Div(out, new(big.Int).SetUint64(c.InAmount))
	if !out.IsUint64() {
		return 0, false
	}
	return out.Uint64(), true
}

// StoreSwap caches an oracle quote for its amount bucket.
func (s *Store) StoreSwap(ctx context.Context, inputMint, outputMint string, inAmount, outAmount uint64) error {
	if inAmount == 0 {
		return nil
	}
	raw, err := json.Marshal(cachedSwap{InAmount: inAmount, OutAmount: outAmount})
	if err != nil {
		return err
	}
	ttl := time.Duration(params.JupiterCacheTTLSeconds) * time.Second
	return s.kv.Set(ctx, s.keys.SwapCache(inputMint, outputMint, SwapBucket(inAmount)), string(raw), ttl)
}

// Misc registry entries

// TreasuryTokenAccount returns the treasury's receiving account for a
// mint, or ErrNotFound.
func (s *Store) TreasuryTokenAccount(ctx context.Context, mint string) (string, error) {
	return s.kv.Get(ctx, s.keys.TreasuryTokenAccount(mint))
}

func (s *Store) SetTreasuryTokenAccount(ctx context.Context, mint, account string) error {
	return s.kv.Set(ctx, s.keys.TreasuryTokenAccount(mint), account, 0)
}

// Reservation mirrors, kept so multiple instances can observe each
// other's fee-payer commitments and dangling ones expire with the
// quote.

type ReservationRecord struct {
	Payer        string `json:"payer"`
	AmountNative uint64 `json:"amountNative,string"`
}

func (s *Store) PutReservation(ctx context.Context, quoteID string, r ReservationRecord, ttl time.Duration) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.keys.Reservation(quoteID), string(raw), ttl)
}

func (s *Store) GetReservation(ctx context.Context, quoteID string) (*ReservationRecord, error) {
	raw, err := s.kv.Get(ctx, s.keys.Reservation(quoteID))
	if err != nil {
		return nil, err
	}
	r := new(ReservationRecord)
	if err := json.Unmarshal([]byte(raw), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) DeleteReservation(ctx context.Context, quoteID string) error {
	return s.kv.Delete(ctx, s.keys.Reservation(quoteID))
}

// Sync cursors

func (s *Store) SyncCursor(ctx context.Context, field string) (uint64, error) {
	raw, err := s.kv.Get(ctx, s.keys.SyncCursor(field))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(raw, 10, 64)
}

func (s *Store) SetSyncCursor(ctx context.Context, field string, value uint64) error {
	return s.kv.Set(ctx, s.keys.SyncCursor(field), strconv.FormatUint(value, 10), 0)
}

// MigrateKeys renames every key under legacyPrefix into the active
// namespace. Returns the number of keys moved.
func (s *Store) MigrateKeys(ctx context.Context, legacyPrefix string) (int, error) {
	if legacyPrefix == "" || legacyPrefix == s.keys.Prefix() {
		return 0, fmt.Errorf("invalid legacy prefix %q", legacyPrefix)
	}
	old, err := s.kv.Keys(ctx, legacyPrefix+"*")
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, key := range old {
		dst := s.keys.Prefix() + strings.TrimPrefix(key, legacyPrefix)
		if err := s.kv.Rename(ctx, key, dst); err != nil {
			if err == ErrNotFound {
				continue
			}
			return moved, err
		}
		moved++
	}
	return moved, nil
}

func parseField(m map[string]string, field string) uint64 {
	v, ok := m[field]
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
