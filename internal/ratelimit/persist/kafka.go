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
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Producer is a minimal abstraction over a Kafka client.
//
// Requirements for a real implementation:
//   - Idempotent producer ON (enable.idempotence=true)
//   - Use DecisionID as the message key so broker dedup and per-key
//     ordering are preserved
//   - acks=all is recommended
//
// We intentionally avoid importing a specific Kafka client library here;
// wire a real one (e.g. segmentio/kafka-go, confluent-kafka-go) at the
// call site that constructs a KafkaSink.
type Producer interface {
	Produce(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// KafkaSink publishes mirrored decisions as Kafka messages. It does not
// apply state locally — consumers own materializing bucket snapshots.
type KafkaSink struct {
	producer       Producer
	topic          string
	defaultTimeout time.Duration
}

// NewKafkaSink builds a KafkaSink publishing to topic.
func NewKafkaSink(p Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: p, topic: topic, defaultTimeout: 10 * time.Second}
}

// decisionMessage is the JSON payload published per mirrored decision.
type decisionMessage struct {
	BucketKey       string `json:"bucket_key"`
	TokensRemaining int64  `json:"tokens_remaining"`
	Admitted        bool   `json:"admitted"`
	DecisionID      string `json:"decision_id"`
	FencingToken    *int64 `json:"fencing_token,omitempty"`
	TsUnixMs        int64  `json:"ts_unix_ms"`
}

func (k *KafkaSink) MirrorBatch(ctx context.Context, decisions []Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok && k.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.defaultTimeout)
		defer cancel()
	}
	nowMs := time.Now().UnixMilli()
	for _, d := range decisions {
		if d.DecisionID == "" {
			return errors.New("persist: Decision.DecisionID must be set")
		}
		msg := decisionMessage{
			BucketKey:       d.BucketKey,
			TokensRemaining: d.TokensRemaining,
			Admitted:        d.Admitted,
			DecisionID:      d.DecisionID,
			FencingToken:    d.FencingToken,
			TsUnixMs:        nowMs,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("persist: marshal kafka message: %w", err)
		}
		headers := map[string]string{"content-type": "application/json"}
		if err := k.producer.Produce(ctx, k.topic, []byte(d.DecisionID), b, headers); err != nil {
			return fmt.Errorf("persist: kafka produce bucket=%s decision=%s: %w", d.BucketKey, d.DecisionID, err)
		}
	}
	return nil
}
