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

package hotdb_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
)

func newTestStore(t *testing.T) *hotdb.Store {
	t.Helper()
	db := memorydb.New()
	t.Cleanup(func() { db.Close() })
	return hotdb.NewStore(db, hotdb.NewKeys(""))
}

func TestQuoteRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	q := &types.Quote{
		ID:        "q-1",
		Type:      types.QuoteStandard,
		FeeAmount: math.Amount(5_000),
		FeeNative: math.Amount(50_200),
		ExpiresAt: time.Now().Add(time.Minute),
	}
	if err := s.PutQuote(ctx, q, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetQuote(ctx, "q-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.FeeNative != 50_200 || got.Type != types.QuoteStandard {
		t.Fatalf("unexpected quote: %+v", got)
	}
	if err := s.DeleteQuote(ctx, "q-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetQuote(ctx, "q-1"); !errors.Is(err, hotdb.ErrNotFound) {
		t.Fatalf("get after delete err = %v, want ErrNotFound", err)
	}
}

func TestClaimReplaySlot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	claimed, err := s.ClaimReplaySlot(ctx, "fp-1", time.Minute)
	if err != nil || !claimed {
		t.Fatalf("first claim = (%v, %v), want (true, nil)", claimed, err)
	}
	claimed, _ = s.ClaimReplaySlot(ctx, "fp-1", time.Minute)
	if claimed {
		t.Fatal("second claim succeeded, replay undetected")
	}
	if err := s.ReleaseReplaySlot(ctx, "fp-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if claimed, _ = s.ClaimReplaySlot(ctx, "fp-1", time.Minute); !claimed {
		t.Fatal("claim after release failed")
	}
}

func TestWithLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Another holder owns the lock.
	_, ok, err := s.AcquireLock(ctx, "burn", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire = (%v, %v)", ok, err)
	}
	held, err := s.WithLock(ctx, "burn", time.Minute, func(context.Context) error {
		t.Fatal("fn ran while lock held elsewhere")
		return nil
	})
	if err != nil || held {
		t.Fatalf("WithLock on held lock = (%v, %v), want (false, nil)", held, err)
	}

	// Fresh lock: fn runs, its error comes back, and the lock is
	// released afterwards.
	wantErr := errors.New("cycle failed")
	ran := false
	held, err = s.WithLock(ctx, "sync", time.Minute, func(context.Context) error {
		ran = true
		return wantErr
	})
	if !held || !ran || !errors.Is(err, wantErr) {
		t.Fatalf("WithLock = (held=%v ran=%v err=%v)", held, ran, err)
	}
	held, err = s.WithLock(ctx, "sync", time.Minute, func(context.Context) error { return nil })
	if !held || err != nil {
		t.Fatalf("lock not released after WithLock: (%v, %v)", held, err)
	}
}

func TestLeaderboard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const (
		alice = "So11111111111111111111111111111111111111112"
		bob   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	)
	s.IncrLeaderboard(ctx, alice, 300)
	s.IncrLeaderboard(ctx, bob, 100)
	s.IncrLeaderboard(ctx, bob, 500)

	rank, burned, err := s.LeaderboardRank(ctx, bob)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if rank != 1 || burned != 600 {
		t.Fatalf("bob = rank %d burned %d, want rank 1 burned 600", rank, burned)
	}

	top, err := s.LeaderboardTop(ctx, 10)
	if err != nil {
		t.Fatalf("top: %v", err)
	}
	if len(top) != 2 || top[0].Wallet.Base58() != bob || top[0].Rank != 1 || top[1].Burned != 300 {
		t.Fatalf("unexpected leaderboard: %+v", top)
	}

	if _, _, err := s.LeaderboardRank(ctx, "unknown-wallet"); !errors.Is(err, hotdb.ErrNotFound) {
		t.Fatalf("unknown wallet err = %v, want ErrNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.IncrStats(ctx, map[string]int64{
		hotdb.StatBurnTotal:  38_349,
		hotdb.StatTxCount:    1,
		hotdb.StatFeesNative: 50_200,
	})
	if err != nil {
		t.Fatalf("incr: %v", err)
	}
	if err := s.SetStat(ctx, hotdb.StatTreasuryEco, 11_851); err != nil {
		t.Fatalf("set: %v", err)
	}

	snap, err := s.StatsSnapshot(ctx, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.BurnTotal != 38_349 || snap.TxCount != 1 || snap.FeesNative != 50_200 || snap.TreasuryEco != 11_851 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestVelocityWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 30)

	s.RecordVelocity(ctx, now, 5_000)
	s.RecordVelocity(ctx, now, 7_000)
	s.RecordVelocity(ctx, now.Add(-time.Minute), 5_000)

	buckets, err := s.VelocityWindow(ctx, now, 60)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if len(buckets) != 60 {
		t.Fatalf("got %d buckets, want 60", len(buckets))
	}
	last := buckets[59]
	if last.Count != 2 || last.Cost != 12_000 {
		t.Fatalf("current bucket = %+v, want count 2 cost 12000", last)
	}
	prev := buckets[58]
	if prev.Count != 1 || prev.Cost != 5_000 {
		t.Fatalf("previous bucket = %+v, want count 1 cost 5000", prev)
	}
	if buckets[0].Count != 0 {
		t.Fatalf("idle bucket not zero: %+v", buckets[0])
	}
}

func TestSwapCacheRescale(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.StoreSwap(ctx, "SOL", "X", 50_000, 5_000); err != nil {
		t.Fatalf("store: %v", err)
	}
	out, ok := s.LookupSwap(ctx, "SOL", "X", 50_200)
	if !ok {
		t.Fatal("cache miss within the same magnitude bucket")
	}
	if out != 5_020 {
		t.Fatalf("rescaled out = %d, want 5020", out)
	}
	// A different magnitude bucket misses.
	if _, ok := s.LookupSwap(ctx, "SOL", "X", 500_000); ok {
		t.Fatal("hit across magnitude buckets")
	}
	if _, ok := s.LookupSwap(ctx, "SOL", "Y", 50_200); ok {
		t.Fatal("hit across pairs")
	}
}

func TestBurnProofStream(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.PushBurnProof(ctx, &types.BurnProof{
			Kind:           types.BurnDirect,
			AmountEcotoken: math.Amount(100 * (i + 1)),
			Timestamp:      time.Unix(int64(1_700_000_000+i), 0),
		})
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	proofs, err := s.BurnProofs(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(proofs) != 2 || proofs[0].AmountEcotoken != 300 {
		t.Fatalf("unexpected proofs: %+v", proofs)
	}
}

func TestMigrateKeys(t *testing.T) {
	db := memorydb.New()
	defer db.Close()
	ctx := context.Background()

	legacy := hotdb.NewStore(db, hotdb.NewKeys("relay:"))
	legacy.SetStat(ctx, hotdb.StatTxCount, 7)
	legacy.SetTreasuryTokenAccount(ctx, "mint-a", "acct-a")

	s := hotdb.NewStore(db, hotdb.NewKeys("pyrelay:"))
	moved, err := s.MigrateKeys(ctx, "relay:")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	if acct, err := s.TreasuryTokenAccount(ctx, "mint-a"); err != nil || acct != "acct-a" {
		t.Fatalf("migrated value = (%q, %v)", acct, err)
	}
	if _, err := s.MigrateKeys(ctx, "pyrelay:"); err == nil {
		t.Fatal("migrating the active prefix must fail")
	}
}

func TestReservationMirror(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := hotdb.ReservationRecord{Payer: "payer-1", AmountNative: 55_200}
	if err := s.PutReservation(ctx, "q-9", rec, time.Minute); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.GetReservation(ctx, "q-9")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payer != "payer-1" || got.AmountNative != 55_200 {
		t.Fatalf("unexpected record: %+v", got)
	}
	s.DeleteReservation(ctx, "q-9")
	if _, err := s.GetReservation(ctx, "q-9"); !errors.Is(err, hotdb.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
