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
	"time"

	"parapet/internal/config"
	"parapet/internal/ratelimit/persist"
)

// Build turns a resolved RateLimitingConfig into a runtime Set.
func Build(cfg *config.RateLimitingConfig) (*Set, error) {
	if cfg == nil {
		return NewSet(nil, persist.NewMirror(nil, 0, 0, 0)), nil
	}
	var rules []Rule
	for _, r := range cfg.Rules {
		switch r.Kind {
		case config.RateLimitAnyMatchingURI:
			single, err := NewSingleLimiter(r.Pattern, r.Single.MaxTokensPerBucket, r.Single.RefillQty, millisToDuration(r.Single.RefillIntervalMillis))
			if err != nil {
				return nil, fmt.Errorf("rate-limit: building single-mode rule: %w", err)
			}
			rules = append(rules, Rule{Single: single})
		case config.RateLimitSourceIP:
			multi, err := NewMultiLimiter(KeySourceIP, "", r.Multi.Threads, r.Multi.MaxBuckets, r.Multi.MaxTokensPerBucket, r.Multi.RefillQty, millisToDuration(r.Multi.RefillIntervalMillis))
			if err != nil {
				return nil, fmt.Errorf("rate-limit: building source-ip rule: %w", err)
			}
			rules = append(rules, Rule{Multi: multi})
		case config.RateLimitSpecificURI:
			multi, err := NewMultiLimiter(KeyURIRegexCapture, r.Pattern, r.Multi.Threads, r.Multi.MaxBuckets, r.Multi.MaxTokensPerBucket, r.Multi.RefillQty, millisToDuration(r.Multi.RefillIntervalMillis))
			if err != nil {
				return nil, fmt.Errorf("rate-limit: building specific-uri rule: %w", err)
			}
			rules = append(rules, Rule{Multi: multi})
		default:
			return nil, fmt.Errorf("rate-limit: unknown rule kind %v", r.Kind)
		}
	}
	sink, err := buildMirrorSink(cfg.Mirror)
	if err != nil {
		return nil, err
	}
	mirror := persist.NewMirror(sink, 1024, 64, time.Second)
	return NewSet(rules, mirror), nil
}

// buildMirrorSink resolves the configured mirror adapter. The Kafka
// adapter requires a wired persist.Producer, which this package does not
// construct itself (no broker client is part of the module's dependency
// set) — a deployment wanting Kafka mirroring wires a persist.Producer at
// the composition root and uses persist.Build directly instead of this
// convenience path.
func buildMirrorSink(mc config.MirrorConfig) (persist.Sink, error) {
	switch mc.Adapter {
	case "", "none":
		return nil, nil
	case "redis":
		return persist.Build("redis", persist.Options{
			RedisAddr:      mc.RedisAddr,
			RedisMarkerTTL: time.Duration(mc.RedisMarkerTTL) * time.Second,
		})
	case "kafka":
		return nil, fmt.Errorf("rate-limit: kafka mirror adapter requires a persist.Producer wired at the composition root")
	default:
		return nil, fmt.Errorf("rate-limit: unknown mirror adapter %q", mc.Adapter)
	}
}
