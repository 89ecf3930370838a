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
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu   sync.Mutex
	seen []Decision
}

func (c *captureSink) MirrorBatch(ctx context.Context, decisions []Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, decisions...)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func TestMirrorNilSinkIsNoOp(t *testing.T) {
	m := NewMirror(nil, 0, 0, 0)
	m.Record("k", 1, true)
	m.Stop() // must not hang
}

func TestMirrorFlushesOnInterval(t *testing.T) {
	sink := &captureSink{}
	m := NewMirror(sink, 16, 64, 10*time.Millisecond)
	defer m.Stop()
	m.Record("1.2.3.4", 5, true)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected decision to be flushed, got %d", sink.count())
}

func TestMirrorFlushesOnBatchSize(t *testing.T) {
	sink := &captureSink{}
	m := NewMirror(sink, 16, 2, time.Hour)
	defer m.Stop()
	m.Record("a", 1, true)
	m.Record("b", 2, false)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected batch flush at size 2, got %d", sink.count())
}

func TestMirrorStopFlushesRemainder(t *testing.T) {
	sink := &captureSink{}
	m := NewMirror(sink, 16, 64, time.Hour)
	m.Record("a", 1, true)
	m.Stop()
	if sink.count() != 1 {
		t.Fatalf("expected Stop to flush pending decision, got %d", sink.count())
	}
}
