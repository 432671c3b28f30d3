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

// Package redisdb backs the hot store with Redis. It is the production
// backend; all cross-instance coordination (locks, reservations,
// anti-replay slots) relies on its atomic primitives.
package redisdb

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pyrelay/pyrelay/hotdb"
)

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1],
// the owner-token check for lock release.
var compareAndDelete = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Database implements hotdb.KV over a Redis connection pool.
type Database struct {
	client *redis.Client
}

var _ hotdb.KV = (*Database)(nil)

// New connects to the Redis URL (redis:// or rediss://) and verifies
// reachability before returning.
func New(ctx context.Context, url string) (*Database, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Database{client: client}, nil
}

// IsUnavailable classifies connection-level failures, the errors that
// justify falling back to the in-process store in development.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// notFound maps the redis sentinel onto the hotdb one.
func notFound(err error) error {
	if err == redis.Nil {
		return hotdb.ErrNotFound
	}
	return err
}

func (db *Database) Get(ctx context.Context, key string) (string, error) {
	v, err := db.client.Get(ctx, key).Result()
	return v, notFound(err)
}

func (db *Database) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return db.client.Set(ctx, key, value, ttl).Err()
}

func (db *Database) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return db.client.SetNX(ctx, key, value, ttl).Result()
}

func (db *Database) CompareAndDelete(ctx context.Context, key, expect string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, db.client, []string{key}, expect).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (db *Database) Delete(ctx context.Context, key string) error {
	return db.client.Del(ctx, key).Err()
}

func (db *Database) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := db.client.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (db *Database) MGet(ctx context.Context, keys ...string) ([]*string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := db.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*string, len(keys))
	for i, v := range values {
		if s, ok := v.(string); ok {
			sv := s
			out[i] = &sv
		}
	}
	return out, nil
}

func (db *Database) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	return db.client.HIncrBy(ctx, key, field, delta).Result()
}

func (db *Database) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for f, v := range fields {
		args = append(args, f, v)
	}
	return db.client.HSet(ctx, key, args...).Err()
}

func (db *Database) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return db.client.HGetAll(ctx, key).Result()
}

func (db *Database) ZIncrBy(ctx context.Context, key, member string, delta float64) (float64, error) {
	return db.client.ZIncrBy(ctx, key, delta, member).Result()
}

func (db *Database) ZRevRank(ctx context.Context, key, member string) (int64, error) {
	rank, err := db.client.ZRevRank(ctx, key, member).Result()
	return rank, notFound(err)
}

func (db *Database) ZScore(ctx context.Context, key, member string) (float64, error) {
	score, err := db.client.ZScore(ctx, key, member).Result()
	return score, notFound(err)
}

func (db *Database) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]hotdb.ScoredMember, error) {
	zs, err := db.client.ZRevRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, err
	}
	members := make([]hotdb.ScoredMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		members = append(members, hotdb.ScoredMember{Member: member, Score: z.Score})
	}
	return members, nil
}

func (db *Database) LPushTrim(ctx context.Context, key, value string, max int64, ttl time.Duration) error {
	pipe := db.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	if max > 0 {
		pipe.LTrim(ctx, key, 0, max-1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (db *Database) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return db.client.LRange(ctx, key, start, stop).Result()
}

func (db *Database) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := db.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func (db *Database) Rename(ctx context.Context, oldKey, newKey string) error {
	err := db.client.Rename(ctx, oldKey, newKey).Err()
	if err != nil && strings.Contains(err.Error(), "no such key") {
		return hotdb.ErrNotFound
	}
	return err
}

func (db *Database) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := db.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -2:
		return 0, hotdb.ErrNotFound
	case -1:
		return 0, nil
	}
	return d, nil
}

func (db *Database) Ping(ctx context.Context) error {
	return db.client.Ping(ctx).Err()
}

func (db *Database) Close() error {
	return db.client.Close()
}
