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

// Package datasync keeps the hot and cold tiers consistent: periodic
// hot-to-cold delta sync of the public counters and the audit tail,
// cold-to-hot seeding after a hot-store wipe, and fold-in of fallback
// counters after a dev-mode outage. Short-lived keys (quotes, replay
// slots, rate counters) are never synced.
package datasync

import (
	"context"
	"errors"
	"time"

	"github.com/pyrelay/pyrelay/colddb"
	"github.com/pyrelay/pyrelay/common/math"
	"github.com/pyrelay/pyrelay/core/types"
	"github.com/pyrelay/pyrelay/hotdb"
	"github.com/pyrelay/pyrelay/log"
	"github.com/pyrelay/pyrelay/params"
)

// auditCursor is the sync-cursor field holding the newest archived
// audit timestamp, in unix nanoseconds.
const auditCursor = "audit_ts"

// syncedFields are the counters delta-synced into daily aggregates.
var syncedFields = []string{hotdb.StatBurnTotal, hotdb.StatTxCount, hotdb.StatFeesNative}

// ColdStore is the cold-tier slice the worker writes through,
// satisfied by *colddb.Database.
type ColdStore interface {
	AggregateTotals(ctx context.Context) (*colddb.Aggregates, error)
	UpsertDailyStats(ctx context.Context, day time.Time, delta types.DailyAggregate) error
	InsertAuditEntries(ctx context.Context, entries []*types.AuditEntry) error
}

// Worker runs the sync passes. Scheduling belongs to the node.
type Worker struct {
	store    *hotdb.Store
	cold     ColdStore
	failover *hotdb.Failover
	logger   log.Logger

	pendingMerge bool

	now func() time.Time
}

// New wires the worker. failover may be nil outside dev mode.
func New(store *hotdb.Store, cold ColdStore, failover *hotdb.Failover, logger log.Logger) *Worker {
	return &Worker{
		store:    store,
		cold:     cold,
		failover: failover,
		logger:   logger,
		now:      time.Now,
	}
}

// Seed restores the hot counters from cold aggregates after a hot-tier
// wipe, before the first request is served. Cursors are set to the
// seeded values so the next delta sync starts from zero.
func (w *Worker) Seed(ctx context.Context) error {
	stats, err := w.store.Stats(ctx)
	if err != nil {
		return err
	}
	if statsField(stats, hotdb.StatTxCount) > 0 || statsField(stats, hotdb.StatBurnTotal) > 0 {
		return nil
	}
	agg, err := w.cold.AggregateTotals(ctx)
	if err != nil {
		return err
	}
	if agg == nil || (agg.TxCount == 0 && agg.BurnTotal == 0) {
		return nil
	}
	seeds := map[string]uint64{
		hotdb.StatBurnTotal:  agg.BurnTotal,
		hotdb.StatTxCount:    agg.TxCount,
		hotdb.StatFeesNative: agg.FeeTotal,
	}
	for field, value := range seeds {
		if err := w.store.SetStat(ctx, field, value); err != nil {
			return err
		}
		if err := w.store.SetSyncCursor(ctx, field, value); err != nil {
			return err
		}
	}
	w.logger.Info("Hot counters seeded from cold store",
		"burnTotal", agg.BurnTotal, "txCount", agg.TxCount)
	return nil
}

// Sync runs one periodic pass: fold fallback counters in after a
// recovery, then push counter deltas and fresh audit entries to the
// cold store.
func (w *Worker) Sync(ctx context.Context) error {
	if w.failover != nil {
		if w.failover.Degraded() {
			// Nothing to push while the primary is down; the fallback
			// keeps accumulating and will be folded in on recovery.
			w.pendingMerge = true
			return nil
		}
		if w.pendingMerge {
			if err := w.mergeFallback(ctx); err != nil {
				return err
			}
			w.pendingMerge = false
		}
	}
	if err := w.syncStats(ctx); err != nil {
		return err
	}
	return w.syncAudit(ctx)
}

// syncStats pushes the counter deltas since the last pass into the UTC
// day's aggregate row.
func (w *Worker) syncStats(ctx context.Context) error {
	stats, err := w.store.Stats(ctx)
	if err != nil {
		return err
	}
	current := make(map[string]uint64, len(syncedFields))
	deltas := make(map[string]uint64, len(syncedFields))
	dirty := false
	for _, field := range syncedFields {
		cur := statsField(stats, field)
		current[field] = cur
		last, err := w.store.SyncCursor(ctx, field)
		if err != nil && !errors.Is(err, hotdb.ErrNotFound) {
			return err
		}
		if cur < last {
			// The hot counter went backwards, meaning a wipe happened
			// since the last pass. Reset the cursor without inventing
			// a negative delta.
			deltas[field] = 0
			dirty = true
			continue
		}
		if d := cur - last; d > 0 {
			deltas[field] = d
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	err = w.cold.UpsertDailyStats(ctx, w.now(), types.DailyAggregate{
		Burns:        deltas[hotdb.StatBurnTotal],
		Transactions: deltas[hotdb.StatTxCount],
		FeesNative:   math.Amount(deltas[hotdb.StatFeesNative]),
		TreasuryEnd:  math.Amount(statsField(stats, hotdb.StatTreasuryEco)),
	})
	if err != nil {
		return err
	}
	for _, field := range syncedFields {
		if err := w.store.SetSyncCursor(ctx, field, current[field]); err != nil {
			return err
		}
	}
	return nil
}

// syncAudit archives audit entries newer than the last archived
// timestamp, oldest first.
func (w *Worker) syncAudit(ctx context.Context) error {
	tail, err := w.store.AuditTail(ctx, params.AuditLogCap)
	if err != nil {
		return err
	}
	last, err := w.store.SyncCursor(ctx, auditCursor)
	if err != nil && !errors.Is(err, hotdb.ErrNotFound) {
		return err
	}
	var fresh []*types.AuditEntry
	for _, e := range tail { // newest first
		if uint64(e.Timestamp.UnixNano()) <= last {
			break
		}
		fresh = append(fresh, e)
	}
	if len(fresh) == 0 {
		return nil
	}
	// Reverse into insertion order.
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}
	if err := w.cold.InsertAuditEntries(ctx, fresh); err != nil {
		return err
	}
	newest := fresh[len(fresh)-1].Timestamp.UnixNano()
	return w.store.SetSyncCursor(ctx, auditCursor, uint64(newest))
}

// mergeFallback folds the counters the in-process fallback accumulated
// during an outage back into the primary: additive for statistics,
// union-increment for the leaderboard. The drained keys are cleared so
// a later outage starts from zero.
func (w *Worker) mergeFallback(ctx context.Context) error {
	fb := hotdb.NewStore(w.failover.Fallback(), w.store.Keys())
	stats, err := fb.Stats(ctx)
	if err != nil {
		return err
	}
	deltas := make(map[string]int64)
	for field, raw := range stats {
		if v, ok := math.ParseUint64(raw); ok && v > 0 {
			deltas[field] = int64(v)
		}
	}
	if len(deltas) > 0 {
		if err := w.store.IncrStats(ctx, deltas); err != nil {
			return err
		}
	}
	members, err := fb.LeaderboardAll(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.Score <= 0 {
			continue
		}
		if err := w.store.IncrLeaderboard(ctx, m.Member, uint64(m.Score)); err != nil {
			return err
		}
	}
	keys := w.store.Keys()
	kv := w.failover.Fallback()
	if err := kv.Delete(ctx, keys.Stats()); err != nil && !errors.Is(err, hotdb.ErrNotFound) {
		return err
	}
	if err := kv.Delete(ctx, keys.Leaderboard()); err != nil && !errors.Is(err, hotdb.ErrNotFound) {
		return err
	}
	w.logger.Info("Fallback counters folded into hot store",
		"fields", len(deltas), "leaderboard", len(members))
	return nil
}

func statsField(m map[string]string, field string) uint64 {
	v, ok := math.ParseUint64(m[field])
	if !ok {
		return 0
	}
	return v
}
