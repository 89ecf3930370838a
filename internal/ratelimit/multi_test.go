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
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMultiLimiterBoundedAcrossShards(t *testing.T) {
	m, err := NewMultiLimiter(KeySourceIP, "", 4, 40, 10, 1, time.Minute)
	if err != nil {
		t.Fatalf("NewMultiLimiter: %v", err)
	}
	for i := 0; i < 1000; i++ {
		m.Allow(fmt.Sprintf("10.0.0.%d", i), "/")
	}
	if got := m.BucketCount(); got > 40 {
		t.Fatalf("bucket count %d exceeds max_buckets 40", got)
	}
}

func TestMultiLimiterBoundedWhenThreadsExceedMaxBuckets(t *testing.T) {
	m, err := NewMultiLimiter(KeySourceIP, "", 100, 10, 10, 1, time.Minute)
	if err != nil {
		t.Fatalf("NewMultiLimiter: %v", err)
	}
	for i := 0; i < 1000; i++ {
		m.Allow(fmt.Sprintf("10.0.1.%d", i), "/")
	}
	if got := m.BucketCount(); got > 10 {
		t.Fatalf("bucket count %d exceeds max_buckets 10 (threads 100 > max_buckets 10)", got)
	}
}

func TestMultiLimiterDeniesWhenEmpty(t *testing.T) {
	m, err := NewMultiLimiter(KeySourceIP, "", 1, 10, 2, 1, time.Hour)
	if err != nil {
		t.Fatalf("NewMultiLimiter: %v", err)
	}
	if !m.Allow("1.2.3.4", "/") {
		t.Fatal("expected first request to be admitted")
	}
	if !m.Allow("1.2.3.4", "/") {
		t.Fatal("expected second request to be admitted")
	}
	if m.Allow("1.2.3.4", "/") {
		t.Fatal("expected third request to be denied, bucket should be empty")
	}
}

func TestMultiLimiterConcurrentSameKey(t *testing.T) {
	m, err := NewMultiLimiter(KeySourceIP, "", 2, 10, 100, 1, time.Hour)
	if err != nil {
		t.Fatalf("NewMultiLimiter: %v", err)
	}
	var wg sync.WaitGroup
	var admitted int32
	var mu sync.Mutex
	for i := 0; i < 150; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Allow("1.1.1.1", "/") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 100 {
		t.Fatalf("admitted %d requests, want exactly 100 (no oversubscription)", admitted)
	}
}

func TestSingleLimiterFailsClosedWhenEmpty(t *testing.T) {
	l, err := NewSingleLimiter(".*", 1, 1, time.Hour)
	if err != nil {
		t.Fatalf("NewSingleLimiter: %v", err)
	}
	defer l.Stop()
	if !l.Allow() {
		t.Fatal("expected first request to be admitted")
	}
	if l.Allow() {
		t.Fatal("expected second request to be denied")
	}
}

func TestSingleLimiterRefills(t *testing.T) {
	l, err := NewSingleLimiter(".*", 1, 1, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewSingleLimiter: %v", err)
	}
	defer l.Stop()
	if !l.Allow() {
		t.Fatal("expected first request to be admitted")
	}
	time.Sleep(50 * time.Millisecond)
	if !l.Allow() {
		t.Fatal("expected bucket to have refilled")
	}
}
