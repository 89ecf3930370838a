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

package balancer

import "testing"

func TestRoundRobinCyclesPool(t *testing.T) {
	b := New(RoundRobin, []string{"a", "b", "c"})
	seen := map[string]int{}
	for i := 0; i < 9; i++ {
		_, backend, ok := b.Pick(nil)
		if !ok {
			t.Fatal("expected a pick")
		}
		seen[backend]++
	}
	for _, backend := range []string{"a", "b", "c"} {
		if seen[backend] != 3 {
			t.Errorf("backend %s picked %d times, want 3", backend, seen[backend])
		}
	}
}

func TestFNVStableForSameKey(t *testing.T) {
	b := New(FNV, []string{"a", "b", "c", "d"})
	_, first, _ := b.Pick([]byte("/users/42"))
	for i := 0; i < 5; i++ {
		_, backend, _ := b.Pick([]byte("/users/42"))
		if backend != first {
			t.Fatalf("FNV selection not stable for the same key: got %s, want %s", backend, first)
		}
	}
}

func TestKetamaStableForSameKey(t *testing.T) {
	b := New(Ketama, []string{"a", "b", "c", "d"})
	_, first, ok := b.Pick([]byte("source-addr/path"))
	if !ok {
		t.Fatal("expected a pick")
	}
	for i := 0; i < 5; i++ {
		_, backend, _ := b.Pick([]byte("source-addr/path"))
		if backend != first {
			t.Fatalf("Ketama selection not stable for the same key: got %s, want %s", backend, first)
		}
	}
}

func TestSelectorScratchPurity(t *testing.T) {
	scratch := make([]byte, 0, 64)
	scratch = UriPathSelector("1.2.3.4", "/a/b", scratch)
	if len(scratch) == 0 {
		t.Fatal("expected selector to write into scratch")
	}
	// The orchestrator must clear the buffer after selection so the next
	// request's selection starts from length zero.
	scratch = scratch[:0]
	if len(scratch) != 0 {
		t.Fatalf("scratch not cleared: len=%d", len(scratch))
	}
}

func TestEmptyPoolMiss(t *testing.T) {
	b := New(RoundRobin, nil)
	if _, _, ok := b.Pick(nil); ok {
		t.Fatal("expected a miss on an empty pool")
	}
}
