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

package tokenbucket

import (
	"sync"
	"testing"
)

func TestBucketConsumeRefund(t *testing.T) {
	t.Run("ConsumeWithinCapacitySucceeds", func(t *testing.T) {
		b := New(10)
		if !b.Consume(3) {
			t.Fatalf("Consume(3) unexpectedly failed")
		}
		if got := b.Available(); got != 7 {
			t.Fatalf("Available() = %d, want 7", got)
		}
	})

	t.Run("ConsumeBeyondCapacityFails", func(t *testing.T) {
		b := New(5)
		if !b.Consume(5) {
			t.Fatalf("Consume(5) unexpectedly failed at exactly capacity")
		}
		if b.Consume(1) {
			t.Fatalf("Consume(1) should fail once capacity is exhausted")
		}
		if got := b.Available(); got != 0 {
			t.Fatalf("Available() = %d, want 0", got)
		}
	})

	t.Run("RefundReturnsTokens", func(t *testing.T) {
		b := New(10)
		b.Consume(10)
		b.Refund(4)
		if got := b.Available(); got != 4 {
			t.Fatalf("Available() = %d, want 4 after refund", got)
		}
		if !b.Consume(4) {
			t.Fatalf("Consume(4) should succeed after refund")
		}
	})

	t.Run("RefundClampsToConsumedTotal", func(t *testing.T) {
		b := New(10)
		b.Consume(3)
		b.Refund(100)
		if got := b.Available(); got != 10 {
			t.Fatalf("Available() = %d, want 10 (refund clamped at consumed total)", got)
		}
		if !b.Consume(10) {
			t.Fatalf("Consume(10) should succeed at full capacity after an over-refund")
		}
	})

	t.Run("RefundOnEmptyBucketIsNoop", func(t *testing.T) {
		b := New(10)
		b.Refund(5)
		if got := b.Available(); got != 10 {
			t.Fatalf("Available() = %d, want 10", got)
		}
	})

	t.Run("NonPositiveCapacityFailsClosed", func(t *testing.T) {
		b := New(0)
		if b.Consume(1) {
			t.Fatalf("Consume(1) should fail on a zero-capacity bucket")
		}
		b = New(-5)
		if b.Consume(1) {
			t.Fatalf("Consume(1) should fail on a negative-capacity bucket")
		}
	})
}

func TestBucketConcurrentConsumeNeverOversubscribes(t *testing.T) {
	b := New(100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted int64
	for i := 0; i < 500; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Consume(1) {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if admitted != 100 {
		t.Fatalf("admitted %d requests concurrently, want exactly 100 (capacity bound violated)", admitted)
	}
	if got := b.Available(); got != 0 {
		t.Fatalf("Available() = %d, want 0 after exhausting capacity", got)
	}
}
