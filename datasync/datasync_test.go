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

package datasync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pyrelay/pyrelay/colddb"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/hotdb/memorydb"
	"github.com/pyrelay/pyrelay/log"
)

type fakeCold struct {
	totals *colddb.Aggregates

	daily []types.DailyAggregate
	audit []*types.AuditEntry
}

func (f *fakeCold) AggregateTotals(ctx context.Context) (*colddb.Aggregates, error) {
	if f.totals == nil {
		return &colddb.Aggregates{}, nil
	}
	return f.totals, nil
}

func (f *fakeCold) UpsertDailyStats(ctx context.Context, day time.Time, delta types.DailyAggregate) error {
	f.daily = append(f.daily, delta)
	return nil
}

func (f *fakeCold) InsertAuditEntries(ctx context.Context, entries []*types.AuditEntry) error {
	f.audit = append(f.audit, entries...)
	return nil
}

func newWorker(failover *hotdb.Failover) (*Worker, *hotdb.Store, *fakeCold) {
	var kv hotdb.KV = memorydb.New()
	if failover != nil {
		kv = failover
	}
	store := hotdb.NewStore(kv, hotdb.NewKeys("test"))
	cold := &fakeCold{}
	return New(store, cold, failover, log.Root()), store, cold
}

func TestSeedFromColdAggregates(t *testing.T) {
	w, store, cold := newWorker(nil)
	cold.totals = &colddb.Aggregates{BurnTotal: 123_456, TxCount: 42, FeeTotal: 999}
	ctx := context.Background()

	require.NoError(t, w.Seed(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "123456", stats[hotdb.StatBurnTotal])
	require.Equal(t, "42", stats[hotdb.StatTxCount])

	// Cursors match the seed, so the next sync pushes no false delta.
	require.NoError(t, w.Sync(ctx))
	require.Empty(t, cold.daily)
}

func TestSeedSkippedWhenHotPopulated(t *testing.T) {
	w, store, cold := newWorker(nil)
	cold.totals = &colddb.Aggregates{BurnTotal: 999, TxCount: 9}
	ctx := context.Background()
	require.NoError(t, store.SetStat(ctx, hotdb.StatTxCount, 5))

	require.NoError(t, w.Seed(ctx))
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "5", stats[hotdb.StatTxCount])
	require.Empty(t, stats[hotdb.StatBurnTotal])
}

func TestSyncPushesDeltasOnce(t *testing.T) {
	w, store, cold := newWorker(nil)
	ctx := context.Background()
	require.NoError(t, store.IncrStats(ctx, map[string]int64{
		hotdb.StatBurnTotal:   1_000,
		hotdb.StatTxCount:     10,
		hotdb.StatFeesNative:  50_000,
		hotdb.StatTreasuryEco: 777,
	}))

	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.daily, 1)
	require.Equal(t, uint64(1_000), cold.daily[0].Burns)
	require.Equal(t, uint64(10), cold.daily[0].Transactions)
	require.Equal(t, uint64(50_000), uint64(cold.daily[0].FeesNative))
	require.Equal(t, uint64(777), uint64(cold.daily[0].TreasuryEnd))

	// No growth, no second push.
	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.daily, 1)

	// Further growth pushes only the delta.
	require.NoError(t, store.IncrStats(ctx, map[string]int64{hotdb.StatTxCount: 3}))
	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.daily, 2)
	require.Equal(t, uint64(3), cold.daily[1].Transactions)
	require.Zero(t, cold.daily[1].Burns)
}

func TestSyncResetsCursorAfterWipe(t *testing.T) {
	w, store, cold := newWorker(nil)
	ctx := context.Background()
	require.NoError(t, store.SetSyncCursor(ctx, hotdb.StatTxCount, 100))
	require.NoError(t, store.IncrStats(ctx, map[string]int64{hotdb.StatTxCount: 2}))

	require.NoError(t, w.Sync(ctx))
	// The backwards counter produced no delta but the cursor reset.
	require.Len(t, cold.daily, 1)
	require.Zero(t, cold.daily[0].Transactions)
	cur, err := store.SyncCursor(ctx, hotdb.StatTxCount)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cur)
}

func TestSyncArchivesFreshAuditEntries(t *testing.T) {
	w, store, cold := newWorker(nil)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.PushAudit(ctx, &types.AuditEntry{
			Type:      types.AuditQuoteCreated,
			Severity:  types.SeverityInfo,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.audit, 3)
	// Oldest first.
	require.True(t, cold.audit[0].Timestamp.Before(cold.audit[2].Timestamp))

	// Already-archived entries are not resent.
	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.audit, 3)

	require.NoError(t, store.PushAudit(ctx, &types.AuditEntry{
		Type:      types.AuditTxSubmitted,
		Severity:  types.SeverityInfo,
		Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, w.Sync(ctx))
	require.Len(t, cold.audit, 4)
}

func TestMergeFallbackFoldsCounters(t *testing.T) {
	failover := hotdb.NewFailover(memorydb.New(), memorydb.New(), nil, log.Root())
	w, store, _ := newWorker(failover)
	ctx := context.Background()

	// Counters accumulated in the fallback during an outage.
	fb := hotdb.NewStore(failover.Fallback(), store.Keys())
	require.NoError(t, fb.IncrStats(ctx, map[string]int64{hotdb.StatTxCount: 7}))
	require.NoError(t, fb.IncrLeaderboard(ctx, "walletA", 300))

	// Pre-outage primary state.
	require.NoError(t, store.IncrStats(ctx, map[string]int64{hotdb.StatTxCount: 10}))
	require.NoError(t, store.IncrLeaderboard(ctx, "walletA", 100))

	w.pendingMerge = true
	require.NoError(t, w.Sync(ctx))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, "17", stats[hotdb.StatTxCount])
	_, burned, err := store.LeaderboardRank(ctx, "walletA")
	require.NoError(t, err)
	require.Equal(t, uint64(400), burned)

	// The fallback is drained.
	fbStats, err := fb.Stats(ctx)
	require.NoError(t, err)
	require.Empty(t, fbStats)
}
