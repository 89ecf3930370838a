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

// Package ratelimit implements the token-bucket rate limiter in both of
// its configured flavours: Single (one bucket shared by every caller of a
// rule) and Multi (sharded, bounded per-shard LRU keyed by source-IP or a
// URI-regex capture).
package ratelimit

import (
	"regexp"
	"sync"
	"time"

	"parapet/pkg/tokenbucket"
)

// SingleLimiter is one shared bucket per rule. Every matching request
// draws from the same tokenbucket.Bucket. Its consumed count is spread
// across cache-line-padded stripes, but each Consume and Refund still
// runs under the bucket's mutex, so concurrent callers are serialized.
type SingleLimiter struct {
	pattern   *regexp.Regexp
	bucket    *tokenbucket.Bucket
	refillQty int64
	stop      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewSingleLimiter builds a Single-mode limiter: capacity is
// maxTokens (the bucket starts full), and refillQty tokens are restored
// every refillInterval, capped at capacity.
func NewSingleLimiter(pattern string, maxTokens, refillQty int64, refillInterval time.Duration) (*SingleLimiter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	l := &SingleLimiter{
		pattern:   re,
		bucket:    tokenbucket.New(maxTokens),
		refillQty: refillQty,
		stop:      make(chan struct{}),
	}
	l.wg.Add(1)
	go l.refillLoop(refillInterval)
	return l, nil
}

func (l *SingleLimiter) refillLoop(interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.bucket.Refund(l.refillQty)
		case <-l.stop:
			return
		}
	}
}

// Matches reports whether uriPath is governed by this rule.
func (l *SingleLimiter) Matches(uriPath string) bool {
	return l.pattern.MatchString(uriPath)
}

// Allow takes one token; it fails closed (returns false) when the bucket
// is empty.
func (l *SingleLimiter) Allow() bool {
	return l.bucket.Consume(1)
}

// Key identifies this rule's single shared bucket for mirroring purposes.
func (l *SingleLimiter) Key() string {
	return "single:" + l.pattern.String()
}

// Available reports the bucket's current token count.
func (l *SingleLimiter) Available() int64 {
	return l.bucket.Available()
}

// Stop halts the refill goroutine. Idempotent.
func (l *SingleLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.wg.Wait()
	})
}
