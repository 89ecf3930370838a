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
	"fmt"
	"time"
)

// Options holds the knobs needed to build any of the supported sinks.
type Options struct {
	RedisAddr      string
	RedisMarkerTTL time.Duration
	KafkaProducer  Producer // required when Adapter == "kafka"
	KafkaTopic     string
}

// Build constructs a Sink from a configured adapter name. "none" (and the
// empty string) disable mirroring entirely and return a nil Sink — callers
// must treat a nil Sink as "don't mirror" rather than calling into it.
func Build(adapter string, opts Options) (Sink, error) {
	switch adapter {
	case "", "none":
		return nil, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("persist: redis adapter requires RedisAddr")
		}
		return NewRedisSink(NewGoRedisEvaler(opts.RedisAddr), opts.RedisMarkerTTL), nil
	case "kafka":
		if opts.KafkaProducer == nil {
			return nil, fmt.Errorf("persist: kafka adapter requires a Producer")
		}
		topic := opts.KafkaTopic
		if topic == "" {
			topic = "parapet-ratelimit-decisions"
		}
		return NewKafkaSink(opts.KafkaProducer, topic), nil
	default:
		return nil, fmt.Errorf("persist: unknown adapter %q", adapter)
	}
}
