// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Evaler is a minimal abstraction over a Redis client's EVAL, so tests can
// substitute a fake without a live server.
type Evaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler wraps github.com/redis/go-redis/v9.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler dials addr lazily; go-redis connects on first use.
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// redisLuaScript makes one mirrored decision idempotent: it sets a marker
// key for DecisionID (SETNX) and only if that succeeds does it overwrite
// the bucket's mirrored token count, so a retried or duplicated mirror
// call never double-applies.
//
// KEYS[1] = marker key (decision id)
// KEYS[2] = bucket snapshot key
// ARGV[1] = tokens remaining
// ARGV[2] = marker TTL seconds
const redisLuaScript = `
local marker = redis.call("SETNX", KEYS[1], 1)
if marker == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
  redis.call("SET", KEYS[2], ARGV[1])
end
return marker
`

// RedisSink mirrors decisions to Redis using the idempotent Lua script
// above. It does not apply state locally; it records the last-known
// token count per bucket key. Nothing in parapet reads these snapshots
// back: a restarted proxy starts every bucket full.
type RedisSink struct {
	eval      Evaler
	markerTTL time.Duration
}

// NewRedisSink builds a RedisSink. markerTTL bounds how long a DecisionID
// is remembered for idempotency purposes.
func NewRedisSink(eval Evaler, markerTTL time.Duration) *RedisSink {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	return &RedisSink{eval: eval, markerTTL: markerTTL}
}

// BucketSnapshotKey is the Redis key holding a bucket's last mirrored
// token count.
func BucketSnapshotKey(bucketKey string) string {
	return "parapet:ratelimit:bucket:" + bucketKey
}

// DecisionMarkerKey is the Redis key used to deduplicate a DecisionID.
func DecisionMarkerKey(decisionID string) string {
	return "parapet:ratelimit:decision:" + decisionID
}

func (r *RedisSink) MirrorBatch(ctx context.Context, decisions []Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ttlSeconds := int64(r.markerTTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	for _, d := range decisions {
		if d.DecisionID == "" {
			return errors.New("persist: Decision.DecisionID must be set")
		}
		keys := []string{DecisionMarkerKey(d.DecisionID), BucketSnapshotKey(d.BucketKey)}
		if _, err := r.eval.Eval(ctx, redisLuaScript, keys, d.TokensRemaining, ttlSeconds); err != nil {
			return fmt.Errorf("persist: redis mirror bucket=%s decision=%s: %w", d.BucketKey, d.DecisionID, err)
		}
	}
	return nil
}
