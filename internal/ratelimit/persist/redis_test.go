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
	"testing"
	"time"
)

type fakeEvaler struct {
	calls []struct {
		keys []string
		args []interface{}
	}
	returnErr error
}

func (f *fakeEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if f.returnErr != nil {
		return nil, f.returnErr
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f.calls = append(f.calls, struct {
		keys []string
		args []interface{}
	}{keys: append([]string{}, keys...), args: append([]interface{}{}, args...)})
	return int64(1), nil
}

func TestRedisKeyHelpers(t *testing.T) {
	if got, want := BucketSnapshotKey("1.2.3.4"), "parapet:ratelimit:bucket:1.2.3.4"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
	if got, want := DecisionMarkerKey("abc"), "parapet:ratelimit:decision:abc"; got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRedisSinkDefaultTTL(t *testing.T) {
	s := NewRedisSink(&fakeEvaler{}, 0)
	if s.markerTTL != 24*time.Hour {
		t.Fatalf("expected default TTL 24h, got %v", s.markerTTL)
	}
}

func TestRedisSinkMirrorBatchEmpty(t *testing.T) {
	s := NewRedisSink(&fakeEvaler{}, time.Hour)
	if err := s.MirrorBatch(context.Background(), nil); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestRedisSinkMirrorBatchRequiresDecisionID(t *testing.T) {
	s := NewRedisSink(&fakeEvaler{}, time.Hour)
	err := s.MirrorBatch(context.Background(), []Decision{{BucketKey: "k"}})
	if err == nil {
		t.Fatal("expected error for missing DecisionID")
	}
}

func TestRedisSinkMirrorBatchSuccess(t *testing.T) {
	fake := &fakeEvaler{}
	s := NewRedisSink(fake, time.Hour)
	decisions := []Decision{{BucketKey: "1.2.3.4", TokensRemaining: 7, Admitted: true, DecisionID: "d1"}}
	if err := s.MirrorBatch(context.Background(), decisions); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	if len(fake.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(fake.calls))
	}
	wantKeys := []string{DecisionMarkerKey("d1"), BucketSnapshotKey("1.2.3.4")}
	got := fake.calls[0].keys
	if len(got) != 2 || got[0] != wantKeys[0] || got[1] != wantKeys[1] {
		t.Fatalf("keys mismatch: got %v want %v", got, wantKeys)
	}
}

func TestRedisSinkMirrorBatchErrorPropagates(t *testing.T) {
	fake := &fakeEvaler{returnErr: errors.New("boom")}
	s := NewRedisSink(fake, time.Hour)
	err := s.MirrorBatch(context.Background(), []Decision{{BucketKey: "k", DecisionID: "d"}})
	if err == nil {
		t.Fatal("expected error to propagate")
	}
}
