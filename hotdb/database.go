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

// Package hotdb defines the hot-tier key-value interface and the
// domain accessors built on top of it. Backends live in the redisdb
// and memorydb subpackages; everything above this package speaks in
// quotes, slots, locks and counters, never raw keys.
package hotdb

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key, hash field, member or list
	// is absent.
	ErrNotFound = errors.New("hotdb: not found")
	// ErrUnavailable is returned by backends when the remote store
	// cannot be reached.
	ErrUnavailable = errors.New("hotdb: store unavailable")
)

// ScoredMember is one sorted-set member with its score.
type ScoredMember struct {
	Member string
	Score  float64
}

// KV is the primitive operation set a hot-tier backend must provide.
// All TTLs of zero mean "no expiry". Implementations must be safe for
// concurrent use.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether
	// this call claimed it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only when its current value equals
	// expect, atomically.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)
	Delete(ctx context.Context, key string) error
	// IncrBy adds delta to an integer key, re-applying ttl when
	// non-zero, and returns the new value.
	IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// MGet fetches many keys in one round trip; absent keys yield nil.
	MGet(ctx context.Context, keys ...string) ([]*string, error)

	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error)
	ZRevRank(ctx context.Context, key, member string) (int64, error)
	ZScore(ctx context.Context, key, member string) (float64, error)
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)

	// LPushTrim prepends value and trims the list to max entries,
	// re-applying ttl when non-zero.
	LPushTrim(ctx context.Context, key, value string, max int64, ttl time.Duration) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// Keys lists keys matching a glob-style pattern. Backends may
	// restrict patterns to a literal prefix followed by "*".
	Keys(ctx context.Context, pattern string) ([]string, error)
	Rename(ctx context.Context, oldKey, newKey string) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	Ping(ctx context.Context) error
	Close() error
}
