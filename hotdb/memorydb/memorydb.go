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

// Package memorydb is the in-process hot-store backend. It backs tests
// and the development fallback mode; nothing here is persisted, and in
// staging or production the relay refuses to run on it.
package memorydb

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pyrelay/pyrelay/hotdb"
)

// sweepEvery is the write count between amortized expiry sweeps.
const sweepEvery = 1000

// sweepInterval paces the background expiry sweep.
const sweepInterval = 30 * time.Second

type kind uint8

const (
	kindString kind = iota
	kindHash
	kindZSet
	kindList
)

type entry struct {
	kind     kind
	value    string
	hash     map[string]string
	zset     map[string]float64
	list     []string
	expireAt time.Time
}

// Database is a map-backed hotdb.KV with TTL semantics.
type Database struct {
	mu      sync.RWMutex
	entries map[string]*entry
	writes  int
	closed  bool
	quit    chan struct{}

	now func() time.Time
}

var _ hotdb.KV = (*Database)(nil)

// New returns an empty database and starts its background sweeper.
func New() *Database {
	db := &Database{
		entries: make(map[string]*entry),
		quit:    make(chan struct{}),
		now:     time.Now,
	}
	go db.sweeper()
	return db
}

func (db *Database) sweeper() {
	tick := time.NewTicker(sweepInterval)
	defer tick.Stop()
	for {
		select {
		case <-tick.C:
			db.mu.Lock()
			db.sweep()
			db.mu.Unlock()
		case <-db.quit:
			return
		}
	}
}

// sweep drops expired entries. Caller holds db.mu.
func (db *Database) sweep() {
	now := db.now()
	for key, e := range db.entries {
		if !e.expireAt.IsZero() && !now.Before(e.expireAt) {
			delete(db.entries, key)
		}
	}
}

// touchWrite counts a write and sweeps opportunistically. Caller holds
// db.mu.
func (db *Database) touchWrite() {
	db.writes++
	if db.writes >= sweepEvery {
		db.writes = 0
		db.sweep()
	}
}

// live returns the entry when present and unexpired. Caller holds at
// least a read lock.
func (db *Database) live(key string) *entry {
	e, ok := db.entries[key]
	if !ok {
		return nil
	}
	if !e.expireAt.IsZero() && !db.now().Before(e.expireAt) {
		return nil
	}
	return e
}

func (db *Database) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return db.now().Add(ttl)
}

func (db *Database) Get(ctx context.Context, key string) (string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return "", hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindString {
		return "", hotdb.ErrNotFound
	}
	return e.value, nil
}

func (db *Database) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	db.entries[key] = &entry{kind: kindString, value: value, expireAt: db.expiry(ttl)}
	db.touchWrite()
	return nil
}

func (db *Database) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, hotdb.ErrUnavailable
	}
	if db.live(key) != nil {
		return false, nil
	}
	db.entries[key] = &entry{kind: kindString, value: value, expireAt: db.expiry(ttl)}
	db.touchWrite()
	return true, nil
}

func (db *Database) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindString || e.value != expect {
		return false, nil
	}
	delete(db.entries, key)
	return true, nil
}

func (db *Database) Delete(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	delete(db.entries, key)
	return nil
}

func (db *Database) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	var current int64
	if e := db.live(key); e != nil && e.kind == kindString {
		n, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current += delta
	db.entries[key] = &entry{kind: kindString, value: strconv.FormatInt(current, 10), expireAt: db.expiry(ttl)}
	db.touchWrite()
	return current, nil
}

func (db *Database) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, hotdb.ErrUnavailable
	}
	out := make([]*string, len(keys))
	for i, key := range keys {
		if e := db.live(key); e != nil && e.kind == kindString {
			v := e.value
			out[i] = &v
		}
	}
	return out, nil
}

func (db *Database) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindHash {
		e = &entry{kind: kindHash, hash: make(map[string]string)}
		db.entries[key] = e
	}
	var current int64
	if v, ok := e.hash[field]; ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, err
		}
		current = n
	}
	current += delta
	e.hash[field] = strconv.FormatInt(current, 10)
	db.touchWrite()
	return current, nil
}

func (db *Database) HSet(ctx context.Context, key string, fields map[string]string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindHash {
		e = &entry{kind: kindHash, hash: make(map[string]string)}
		db.entries[key] = e
	}
	for f, v := range fields {
		e.hash[f] = v
	}
	db.touchWrite()
	return nil
}

func (db *Database) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, hotdb.ErrUnavailable
	}
	out := make(map[string]string)
	if e := db.live(key); e != nil && e.kind == kindHash {
		for f, v := range e.hash {
			out[f] = v
		}
	}
	return out, nil
}

func (db *Database) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindZSet {
		e = &entry{kind: kindZSet, zset: make(map[string]float64)}
		db.entries[key] = e
	}
	e.zset[member] += delta
	db.touchWrite()
	return e.zset[member], nil
}

func (db *Database) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindZSet {
		return 0, hotdb.ErrNotFound
	}
	score, ok := e.zset[member]
	if !ok {
		return 0, hotdb.ErrNotFound
	}
	var rank int64
	for m, s := range e.zset {
		if s > score || (s == score && m > member) {
			rank++
		}
	}
	return rank, nil
}

func (db *Database) ZScore(ctx context.Context, key, member string) (float64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindZSet {
		return 0, hotdb.ErrNotFound
	}
	score, ok := e.zset[member]
	if !ok {
		return 0, hotdb.ErrNotFound
	}
	return score, nil
}

func (db *Database) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]hotdb.ScoredMember, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindZSet {
		return nil, nil
	}
	members := make([]hotdb.ScoredMember, 0, len(e.zset))
	for m, s := range e.zset {
		members = append(members, hotdb.ScoredMember{Member: m, Score: s})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score > members[j].Score
		}
		return members[i].Member > members[j].Member
	})
	lo, hi := rangeBounds(start, stop, int64(len(members)))
	if lo >= hi {
		return nil, nil
	}
	return members[lo:hi], nil
}

func (db *Database) LPushTrim(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindList {
		e = &entry{kind: kindList}
		db.entries[key] = e
	}
	e.list = append([]string{value}, e.list...)
	if max > 0 && int64(len(e.list)) > max {
		e.list = e.list[:max]
	}
	if ttl > 0 {
		e.expireAt = db.expiry(ttl)
	}
	db.touchWrite()
	return nil
}

func (db *Database) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil || e.kind != kindList {
		return nil, nil
	}
	lo, hi := rangeBounds(start, stop, int64(len(e.list)))
	if lo >= hi {
		return nil, nil
	}
	out := make([]string, hi-lo)
	copy(out, e.list[lo:hi])
	return out, nil
}

func (db *Database) Keys(ctx context.Context, pattern string) ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, hotdb.ErrUnavailable
	}
	// Only prefix globs are supported, which is all the relay uses.
	prefix := strings.TrimSuffix(pattern, "*")
	var keys []string
	for key := range db.entries {
		if db.live(key) == nil {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (db *Database) Rename(ctx context.Context, oldKey, newKey string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	e := db.live(oldKey)
	if e == nil {
		return hotdb.ErrNotFound
	}
	db.entries[newKey] = e
	delete(db.entries, oldKey)
	return nil
}

func (db *Database) TTL(ctx context.Context, key string) (time.Duration, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return 0, hotdb.ErrUnavailable
	}
	e := db.live(key)
	if e == nil {
		return 0, hotdb.ErrNotFound
	}
	if e.expireAt.IsZero() {
		return 0, nil
	}
	return e.expireAt.Sub(db.now()), nil
}

func (db *Database) Ping(ctx context.Context) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return hotdb.ErrUnavailable
	}
	return nil
}

func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if !db.closed {
		db.closed = true
		close(db.quit)
	}
	return nil
}

// Len reports live entries, for tests and the sync worker.
func (db *Database) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	n := 0
	for key := range db.entries {
		if db.live(key) != nil {
			n++
		}
	}
	return n
}

// rangeBounds converts redis-style inclusive (start, stop) with
// negative offsets into go slice bounds.
func rangeBounds(start, stop, length int64) (int64, int64) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || length == 0 {
		return 0, 0
	}
	return start, stop + 1
}
