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

// Package balancer implements the four load-balancing policies — round
// robin, random, FNV-hash, and Ketama consistent hashing — driven by a
// pluggable key selector. Balancer state (round-robin cursor, hash ring)
// is read-mostly: built at startup, updated only from discovery/health
// callbacks, which this package does not yet implement (see Open
// Questions).
package balancer

import (
	"hash/fnv"
	"math/rand"
	"sync/atomic"

	"github.com/dgryski/go-rendezvous"
)

// Policy is the selection strategy over a pool of backends.
type Policy int

const (
	RoundRobin Policy = iota
	Random
	FNV
	Ketama
)

// Selector derives the balancer key from a request's context. The
// selector table contains Null (empty key, legal only for RoundRobin and
// Random), UriPath, and SourceAddrAndUriPath.
type Selector func(sourceAddr, uriPath string, scratch []byte) []byte

// NullSelector returns an empty key; only legal with RoundRobin/Random.
func NullSelector(sourceAddr, uriPath string, scratch []byte) []byte {
	return scratch[:0]
}

// UriPathSelector writes the request path bytes into scratch.
func UriPathSelector(sourceAddr, uriPath string, scratch []byte) []byte {
	return append(scratch[:0], uriPath...)
}

// SourceAddrAndUriPathSelector writes the source address concatenated
// with the request path into scratch.
func SourceAddrAndUriPathSelector(sourceAddr, uriPath string, scratch []byte) []byte {
	b := append(scratch[:0], sourceAddr...)
	return append(b, uriPath...)
}

// Balancer selects one backend out of a fixed pool according to Policy.
// Backends are addressed by index into the pool given at construction;
// the caller maps indices back to peers.
type Balancer struct {
	policy Policy
	pool   []string
	rr     uint64
	ring   *rendezvous.Rendezvous
}

func fnvHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}

// New builds a Balancer over pool for the given policy. pool entries are
// opaque backend identifiers (e.g. "host:port"); Ketama and FNV hash
// against these identifiers directly.
func New(policy Policy, pool []string) *Balancer {
	b := &Balancer{policy: policy, pool: pool}
	if policy == Ketama && len(pool) > 0 {
		b.ring = rendezvous.New(pool, fnvHash)
	}
	return b
}

// Pick selects a backend index for the given key. RoundRobin and Random
// ignore key. FNV and Ketama require a non-empty key (the caller is
// responsible for enforcing that selection requires a non-null key
// selector at config time).
func (b *Balancer) Pick(key []byte) (index int, backend string, ok bool) {
	if len(b.pool) == 0 {
		return 0, "", false
	}
	switch b.policy {
	case RoundRobin:
		i := int(atomic.AddUint64(&b.rr, 1)-1) % len(b.pool)
		return i, b.pool[i], true
	case Random:
		i := rand.Intn(len(b.pool))
		return i, b.pool[i], true
	case FNV:
		i := int(fnvHash(string(key)) % uint64(len(b.pool)))
		return i, b.pool[i], true
	case Ketama:
		backend := b.ring.Lookup(string(key))
		for i, p := range b.pool {
			if p == backend {
				return i, p, true
			}
		}
		return 0, "", false
	default:
		return 0, "", false
	}
}

// Len returns the pool size.
func (b *Balancer) Len() int { return len(b.pool) }
