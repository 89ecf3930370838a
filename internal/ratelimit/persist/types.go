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

// Package persist mirrors rate-limit admit/deny decisions to an external
// store for crash-recovery replay. It is strictly optional: a proxy that
// restarts with an empty in-memory bucket set is merely momentarily more
// permissive, never incorrect, so every adapter here is best-effort and
// asynchronous. Disabled by default (adapter "none").
package persist

import "context"

// Decision is the adapter-facing shape for one mirrored bucket update.
//
// Fields:
//   - BucketKey: the rule's bucket key (source IP, or the URI capture group
//     for a specific-uri rule)
//   - TokensRemaining: the bucket's token count immediately after this
//     decision was applied
//   - Admitted: whether the request was admitted or denied
//   - DecisionID: a globally unique idempotency key for this decision;
//     replaying the same DecisionID must be a no-op downstream
//   - FencingToken: optional monotonic token guarding against out-of-order
//     application when more than one proxy instance mirrors the same key
type Decision struct {
	BucketKey       string
	TokensRemaining int64
	Admitted        bool
	DecisionID      string
	FencingToken    *int64
}

// Sink is the minimal API every mirror adapter supports. Implementations
// must make re-applying the same DecisionID for the same BucketKey a
// no-op, and must tolerate being called from a buffered background
// goroutine rather than the request path.
type Sink interface {
	MirrorBatch(ctx context.Context, decisions []Decision) error
}
