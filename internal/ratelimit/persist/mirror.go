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
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"parapet/internal/logging"
)

// Mirror batches decisions off the request path and flushes them to a Sink
// on a timer or when the batch fills, the same shape the teacher's
// background worker uses for its commit loop. A full queue drops the
// incoming decision rather than blocking a request goroutine —
// mirroring is advisory, never load-bearing.
type Mirror struct {
	sink      Sink
	queue     chan Decision
	batchSize int
	flushIval time.Duration
	stop      chan struct{}
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewMirror starts the background flush loop immediately. Passing a nil
// sink yields a Mirror whose Record is a no-op, so callers can construct
// one unconditionally and let the "none" adapter disable it.
func NewMirror(sink Sink, queueDepth, batchSize int, flushInterval time.Duration) *Mirror {
	if queueDepth <= 0 {
		queueDepth = 1024
	}
	if batchSize <= 0 {
		batchSize = 64
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	m := &Mirror{
		sink:      sink,
		queue:     make(chan Decision, queueDepth),
		batchSize: batchSize,
		flushIval: flushInterval,
		stop:      make(chan struct{}),
	}
	if sink != nil {
		m.wg.Add(1)
		go m.loop()
	}
	return m
}

// Record enqueues a decision for mirroring. Non-blocking: if the queue is
// full the decision is dropped, since a stale mirror is harmless and a
// blocked request path is not.
func (m *Mirror) Record(bucketKey string, tokensRemaining int64, admitted bool) {
	if m == nil || m.sink == nil {
		return
	}
	d := Decision{
		BucketKey:       bucketKey,
		TokensRemaining: tokensRemaining,
		Admitted:        admitted,
		DecisionID:      randomID(),
	}
	select {
	case m.queue <- d:
	default:
		logging.Debugf("ratelimit mirror queue full, dropping decision for bucket=%s", bucketKey)
	}
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.flushIval)
	defer ticker.Stop()
	batch := make([]Decision, 0, m.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.sink.MirrorBatch(ctx, batch); err != nil {
			logging.Errorf("ratelimit mirror flush failed: %v", err)
		}
		cancel()
		batch = batch[:0]
	}
	for {
		select {
		case d := <-m.queue:
			batch = append(batch, d)
			if len(batch) >= m.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.stop:
			flush()
			return
		}
	}
}

// Stop drains any pending batch and stops the background goroutine. Safe
// to call multiple times and safe to call on a no-op (nil-sink) Mirror.
func (m *Mirror) Stop() {
	if m == nil || m.sink == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	dst := make([]byte, 32)
	hex.Encode(dst, b[:])
	return string(dst)
}
