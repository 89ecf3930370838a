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

// Package builtin provides the native filters compiled directly into the
// binary: block-cidr-range, and request/response header upsert and
// removal. These register themselves into a filters.Registry via Register.
package builtin

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/gaissmai/bart"

	"parapet/internal/filters"
)

// FQDN identifiers for the built-in filters, matching the dotted
// namespace convention every other filter identifier uses.
const (
	FQDNBlockCIDRRange        = "parapet.filters.block-cidr-range"
	FQDNRequestUpsertHeader   = "parapet.request.upsert-header"
	FQDNRequestRemoveHeader   = "parapet.request.remove-header"
	FQDNResponseUpsertHeader  = "parapet.response.upsert-header"
	FQDNResponseRemoveHeader  = "parapet.response.remove-header"
)

// CIDRRangeFilter is an action filter: it rejects requests whose source
// address falls inside any of its configured ranges. Lookup uses a
// balanced routing table over net/netip for longest-prefix matching at
// line rate, rather than a linear scan of the configured ranges.
type CIDRRangeFilter struct {
	table *bart.Table[struct{}]
}

// NewCIDRRangeFilter builds a filter from a "ranges" setting: a
// comma-separated list of CIDR blocks.
func NewCIDRRangeFilter(settings map[string]string) (*CIDRRangeFilter, error) {
	raw, ok := settings["ranges"]
	if !ok {
		return nil, fmt.Errorf("block-cidr-range: missing required 'ranges' setting")
	}
	f := &CIDRRangeFilter{table: &bart.Table[struct{}]{}}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		prefix, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("block-cidr-range: invalid CIDR '%s': %w", part, err)
		}
		f.table.Insert(prefix, struct{}{})
	}
	return f, nil
}

// Apply denies the request (allow=false) if its source address matches
// any configured range.
func (f *CIDRRangeFilter) Apply(req *filters.Request) (bool, error) {
	host := req.SourceAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		// Source address is malformed — fail open on this filter rather
		// than block a request we can't classify. The orchestrator's
		// Accepted state checks only path and method, not the address.
		return true, nil
	}
	if _, ok := f.table.Lookup(addr); ok {
		return false, nil
	}
	return true, nil
}

// RegisterCIDRFactory registers the block-cidr-range action factory.
func RegisterCIDRFactory(registry *filters.Registry) {
	registry.RegisterFactory(FQDNBlockCIDRRange, func(settings map[string]string) (filters.FilterInstance, error) {
		f, err := NewCIDRRangeFilter(settings)
		if err != nil {
			return filters.FilterInstance{}, err
		}
		return filters.FilterInstance{Stage: filters.StageAction, Action: f}, nil
	})
}
