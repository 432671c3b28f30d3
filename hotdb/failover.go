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
	"sync"
	"time"

	"github.com/pyrelay/pyrelay/log"
)

// probeInterval paces reconnection attempts while in fallback mode.
const probeInterval = 15 * time.Second

// Failover routes operations to a primary backend and, in development
// only, degrades to an in-process fallback when the primary becomes
// unreachable. While degraded it probes the primary and switches back
// once it answers; the sync worker then folds the fallback's counters
// into the primary.
type Failover struct {
	primary   KV
	fallback  KV
	isConnErr func(error) bool
	logger    log.Logger

	mu        sync.Mutex
	degraded  bool
	lastProbe time.Time

	now func() time.Time
}

var _ KV = (*Failover)(nil)

// NewFailover wraps primary with fallback. isConnErr classifies the
// errors that justify degrading, typically redisdb.IsUnavailable.
func NewFailover(primary, fallback KV, isConnErr func(error) bool, logger log.Logger) *Failover {
	return &Failover{
		primary:   primary,
		fallback:  fallback,
		isConnErr: isConnErr,
		logger:    logger,
		now:       time.Now,
	}
}

// Degraded reports whether operations are currently served by the
// fallback store.
func (f *Failover) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.degraded
}

// Fallback exposes the fallback backend so the sync worker can drain
// its accumulated counters after recovery.
func (f *Failover) Fallback() KV { return f.fallback }

// active picks the current target, probing the primary while degraded.
func (f *Failover) active(ctx context.Context) KV {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		return f.primary
	}
	if now := f.now(); now.Sub(f.lastProbe) >= probeInterval {
		f.lastProbe = now
		if err := f.primary.Ping(ctx); err == nil {
			f.degraded = false
			f.logger.Info("Hot store recovered, leaving fallback mode")
			return f.primary
		}
	}
	return f.fallback
}

// checkFailover flips to the fallback on a connection-level error and
// reports whether the caller should retry there.
func (f *Failover) checkFailover(err error) bool {
	if err == nil || f.isConnErr == nil || !f.isConnErr(err) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		f.degraded = true
		f.lastProbe = f.now()
		f.logger.Warn("Hot store unreachable, entering fallback mode", "err", err)
	}
	return true
}

func (f *Failover) Get(ctx context.Context, key string) (string, error) {
	v, err := f.active(ctx).Get(ctx, key)
	if f.checkFailover(err) {
		return f.fallback.Get(ctx, key)
	}
	return v, err
}

func (f *Failover) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	err := f.active(ctx).Set(ctx, key, value, ttl)
	if f.checkFailover(err) {
		return f.fallback.Set(ctx, key, value, ttl)
	}
	return err
}

func (f *Failover) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := f.active(ctx).SetNX(ctx, key, value, ttl)
	if f.checkFailover(err) {
		return f.fallback.SetNX(ctx, key, value, ttl)
	}
	return ok, err
}

func (f *Failover) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	ok, err := f.active(ctx).CompareAndDelete(ctx, key, expect)
	if f.checkFailover(err) {
		return f.fallback.CompareAndDelete(ctx, key, expect)
	}
	return ok, err
}

func (f *Failover) Delete(ctx context.Context, key string) error {
	err := f.active(ctx).Delete(ctx, key)
	if f.checkFailover(err) {
		return f.fallback.Delete(ctx, key)
	}
	return err
}

func (f *Failover) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	n, err := f.active(ctx).IncrBy(ctx, key, delta, ttl)
	if f.checkFailover(err) {
		return f.fallback.IncrBy(ctx, key, delta, ttl)
	}
	return n, err
}

func (f *Failover) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	vs, err := f.active(ctx).MGet(ctx, keys...)
	if f.checkFailover(err) {
		return f.fallback.MGet(ctx, keys...)
	}
	return vs, err
}

func (f *Failover) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := f.active(ctx).HIncrBy(ctx, key, field, delta)
	if f.checkFailover(err) {
		return f.fallback.HIncrBy(ctx, key, field, delta)
	}
	return n, err
}

func (f *Failover) HSet(ctx context.Context, key string, fields map[string]string) error {
	err := f.active(ctx).HSet(ctx, key, fields)
	if f.checkFailover(err) {
		return f.fallback.HSet(ctx, key, fields)
	}
	return err
}

func (f *Failover) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := f.active(ctx).HGetAll(ctx, key)
	if f.checkFailover(err) {
		return f.fallback.HGetAll(ctx, key)
	}
	return m, err
}

func (f *Failover) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	n, err := f.active(ctx).ZIncrBy(ctx, key, member, delta)
	if f.checkFailover(err) {
		return f.fallback.ZIncrBy(ctx, key, member, delta)
	}
	return n, err
}

func (f *Failover) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	n, err := f.active(ctx).ZRevRank(ctx, key, member)
	if f.checkFailover(err) {
		return f.fallback.ZRevRank(ctx, key, member)
	}
	return n, err
}

func (f *Failover) ZScore(ctx context.Context, key, member string) (float64, error) {
	n, err := f.active(ctx).ZScore(ctx, key, member)
	if f.checkFailover(err) {
		return f.fallback.ZScore(ctx, key, member)
	}
	return n, err
}

func (f *Failover) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	ms, err := f.active(ctx).ZRevRangeWithScores(ctx, key, start, stop)
	if f.checkFailover(err) {
		return f.fallback.ZRevRangeWithScores(ctx, key, start, stop)
	}
	return ms, err
}

func (f *Failover) LPushTrim(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	err := f.active(ctx).LPushTrim(ctx, key, value, max, ttl)
	if f.checkFailover(err) {
		return f.fallback.LPushTrim(ctx, key, value, max, ttl)
	}
	return err
}

func (f *Failover) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vs, err := f.active(ctx).LRange(ctx, key, start, stop)
	if f.checkFailover(err) {
		return f.fallback.LRange(ctx, key, start, stop)
	}
	return vs, err
}

func (f *Failover) Keys(ctx context.Context, pattern string) ([]string, error) {
	ks, err := f.active(ctx).Keys(ctx, pattern)
	if f.checkFailover(err) {
		return f.fallback.Keys(ctx, pattern)
	}
	return ks, err
}

func (f *Failover) Rename(ctx context.Context, oldKey, newKey string) error {
	err := f.active(ctx).Rename(ctx, oldKey, newKey)
	if f.checkFailover(err) {
		return f.fallback.Rename(ctx, oldKey, newKey)
	}
	return err
}

func (f *Failover) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := f.active(ctx).TTL(ctx, key)
	if f.checkFailover(err) {
		return f.fallback.TTL(ctx, key)
	}
	return d, err
}

func (f *Failover) Ping(ctx context.Context) error {
	err := f.active(ctx).Ping(ctx)
	if f.checkFailover(err) {
		return f.fallback.Ping(ctx)
	}
	return err
}

func (f *Failover) Close() error {
	err := f.primary.Close()
	if ferr := f.fallback.Close(); err == nil {
		err = ferr
	}
	return err
}
