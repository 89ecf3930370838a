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
	"time"

	"parapet/internal/metrics"
	"parapet/internal/ratelimit/persist"
)

// Rule is one rate-limiting rule, already resolved into its runtime form.
// Exactly one of Single/Multi is non-nil.
type Rule struct {
	Single *SingleLimiter
	Multi  *MultiLimiter
}

// Set is the ordered list of rules applying to a service. A request is
// admitted only if it passes every applicable rule.
type Set struct {
	rules  []Rule
	mirror *persist.Mirror
}

// NewSet wraps an ordered list of already-built rules. mirror may be nil
// (or built from the "none" adapter), in which case decisions are never
// mirrored.
func NewSet(rules []Rule, mirror *persist.Mirror) *Set {
	return &Set{rules: rules, mirror: mirror}
}

// Allow evaluates every rule in order and returns false (deny) on the
// first rule that rejects the request.
func (s *Set) Allow(sourceAddr, uriPath string) bool {
	for _, r := range s.rules {
		switch {
		case r.Single != nil:
			if !r.Single.Matches(uriPath) {
				continue
			}
			admitted := r.Single.Allow()
			s.mirror.Record(r.Single.Key(), r.Single.Available(), admitted)
			if !admitted {
				metrics.RecordDeny()
				return false
			}
		case r.Multi != nil:
			admitted, key, remaining := r.Multi.AllowDetailed(sourceAddr, uriPath)
			if key != "" {
				s.mirror.Record(key, remaining, admitted)
			}
			if !admitted {
				metrics.RecordDeny()
				return false
			}
		}
	}
	metrics.RecordAdmit()
	return true
}

// Stop releases every Single-mode rule's background refill goroutine and
// the mirror's flush goroutine.
func (s *Set) Stop() {
	for _, r := range s.rules {
		if r.Single != nil {
			r.Single.Stop()
		}
	}
	s.mirror.Stop()
}

// millisToDuration converts a configured refill-interval in milliseconds
// to a time.Duration, defaulting to 1ms floor to keep the ticker valid.
func millisToDuration(ms int64) time.Duration {
	if ms <= 0 {
		return time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}
