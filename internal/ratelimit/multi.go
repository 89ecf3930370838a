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

package ratelimit

import (
	"container/list"
	"hash/fnv"
	"regexp"
	"sync"
	"time"

	"parapet/internal/metrics"
)

// KeyKind selects what a Multi-mode rule keys its buckets by.
type KeyKind int

const (
	KeySourceIP KeyKind = iota
	KeyURIRegexCapture
)

// bucketEntry is one per-key token bucket plus its position in the
// shard's LRU list.
type bucketEntry struct {
	key        string
	tokens     int64
	lastRefill time.Time
	elem       *list.Element
}

// shard is one partition of the Multi-mode limiter: its own lock, its own
// bounded map+LRU list. A new key on a full shard evicts the LRU bucket —
// this is genuine count-bounded eviction, unlike the teacher's
// time-only eviction worker, because a rate-limit bucket must stay exact
// (no approximately-coalesced accounting), and because the bound here is
// "this shard's share of max_buckets", a hard cardinality cap, not a
// staleness window.
type shard struct {
	mu         sync.Mutex
	capacity   int
	maxTokens  int64
	refillQty  int64
	refillIval time.Duration
	buckets    map[string]*bucketEntry
	order      *list.List // front = most recently used
}

func newShard(capacity int, maxTokens, refillQty int64, refillIval time.Duration) *shard {
	return &shard{
		capacity:   capacity,
		maxTokens:  maxTokens,
		refillQty:  refillQty,
		refillIval: refillIval,
		buckets:    make(map[string]*bucketEntry),
		order:      list.New(),
	}
}

// takeToken refills key's bucket for elapsed time, then attempts to take
// one token, evicting the LRU bucket first if key is new and the shard
// is already at capacity. It returns whether the token was admitted and
// the bucket's token count immediately afterward.
func (s *shard) takeToken(key string, now time.Time) (bool, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		if len(s.buckets) >= s.capacity {
			back := s.order.Back()
			if back != nil {
				evicted := back.Value.(*bucketEntry)
				s.order.Remove(back)
				delete(s.buckets, evicted.key)
				metrics.RecordBucketEviction()
			}
		}
		b = &bucketEntry{key: key, tokens: s.maxTokens, lastRefill: now}
		b.elem = s.order.PushFront(b)
		s.buckets[key] = b
	} else {
		s.order.MoveToFront(b.elem)
	}

	if s.refillIval > 0 {
		elapsed := now.Sub(b.lastRefill)
		if elapsed >= s.refillIval {
			ticks := int64(elapsed / s.refillIval)
			b.tokens += ticks * s.refillQty
			if b.tokens > s.maxTokens {
				b.tokens = s.maxTokens
			}
			b.lastRefill = b.lastRefill.Add(time.Duration(ticks) * s.refillIval)
		}
	}

	if b.tokens <= 0 {
		return false, b.tokens
	}
	b.tokens--
	return true, b.tokens
}

func (s *shard) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// MultiLimiter is the sharded, bounded-LRU Multi-mode rate limiter.
// Concurrent callers in the same shard serialize only across the
// get-or-insert + token-take critical section (microsecond scale); other
// shards are untouched.
type MultiLimiter struct {
	kind     KeyKind
	pattern  *regexp.Regexp
	shards   []*shard
}

// NewMultiLimiter builds a Multi-mode limiter with the given number of
// shards, each bounded to its share of maxBuckets.
func NewMultiLimiter(kind KeyKind, pattern string, threads, maxBuckets int, maxTokens, refillQty int64, refillInterval time.Duration) (*MultiLimiter, error) {
	var re *regexp.Regexp
	if pattern != "" {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			return nil, err
		}
		re = compiled
	}
	if threads <= 0 {
		threads = 1
	}
	if maxBuckets <= 0 {
		maxBuckets = 1
	}
	// Capping threads to maxBuckets keeps threads*perShard <= maxBuckets by
	// construction (integer floor division): once threads <= maxBuckets,
	// perShard can never be clamped up from zero.
	if threads > maxBuckets {
		threads = maxBuckets
	}
	perShard := maxBuckets / threads
	if perShard < 1 {
		perShard = 1
	}
	m := &MultiLimiter{kind: kind, pattern: re}
	for i := 0; i < threads; i++ {
		m.shards = append(m.shards, newShard(perShard, maxTokens, refillQty, refillInterval))
	}
	return m, nil
}

// extractKey derives the bucket key for this rule from a source address
// and request path. For KeyURIRegexCapture, the first capture group of
// the pattern is used if present, else the whole match.
func (m *MultiLimiter) extractKey(sourceAddr, uriPath string) (string, bool) {
	switch m.kind {
	case KeySourceIP:
		return sourceAddr, true
	case KeyURIRegexCapture:
		if m.pattern == nil {
			return "", false
		}
		match := m.pattern.FindStringSubmatch(uriPath)
		if match == nil {
			return "", false
		}
		if len(match) > 1 {
			return match[1], true
		}
		return match[0], true
	default:
		return "", false
	}
}

func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

// Allow reports whether the request identified by sourceAddr/uriPath is
// admitted. A request that does not match this rule's key extraction
// (e.g. a URI-regex rule whose pattern the path does not match) is
// treated as not governed by the rule and is admitted.
func (m *MultiLimiter) Allow(sourceAddr, uriPath string) bool {
	ok, _, _ := m.AllowDetailed(sourceAddr, uriPath)
	return ok
}

// AllowDetailed is Allow plus the bucket key and post-decision token count,
// for callers that mirror decisions. When this rule's key extraction does
// not match the request, ok is true (the rule does not apply), key is ""
// and remaining is 0.
func (m *MultiLimiter) AllowDetailed(sourceAddr, uriPath string) (ok bool, key string, remaining int64) {
	key, matched := m.extractKey(sourceAddr, uriPath)
	if !matched {
		return true, "", 0
	}
	s := m.shards[shardIndex(key, len(m.shards))]
	ok, remaining = s.takeToken(key, time.Now())
	return ok, key, remaining
}

// BucketCount returns the total bucket count across all shards — never
// more than maxBuckets by construction.
func (m *MultiLimiter) BucketCount() int {
	total := 0
	for _, s := range m.shards {
		total += s.count()
	}
	return total
}
