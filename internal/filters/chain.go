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

package filters

import (
	"fmt"
	"time"

	"parapet/internal/metrics"
)

// ResolveError is returned when a chain references an unknown filter or
// chain, or a factory rejects its settings. Startup-fatal.
type ResolveError struct {
	FQDN string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving filter '%s': %v", e.FQDN, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ConfiguredEntry is one entry of a chain as read from configuration: a
// filter identifier plus its string settings.
type ConfiguredEntry struct {
	FQDN     string
	Settings map[string]string
}

// RuntimeChain is the result of resolving a configured chain against the
// registry: an ordered list of concrete FilterInstance values.
type RuntimeChain struct {
	Instances []FilterInstance
}

// Resolver builds RuntimeChains from configured chains against a
// Registry.
type Resolver struct {
	registry *Registry
}

// NewResolver returns a Resolver over the given registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Build resolves every entry of chain in declared order, invoking its
// factory with the configured settings and classifying the result by
// stage. A chain with zero entries resolves to an empty RuntimeChain.
func (r *Resolver) Build(entries []ConfiguredEntry) (RuntimeChain, error) {
	start := time.Now()
	defer func() { metrics.ObserveChainResolve(time.Since(start)) }()

	chain := RuntimeChain{}
	for _, entry := range entries {
		instance, err := r.registry.Build(entry.FQDN, entry.Settings)
		if err != nil {
			return RuntimeChain{}, &ResolveError{FQDN: entry.FQDN, Err: err}
		}
		chain.Instances = append(chain.Instances, instance)
	}
	return chain, nil
}

// RunRequest executes every action/request-filter instance in order. It
// stops at the first short-circuit (proceed == false) or error. Chains
// built for the request-filters position only ever contain these kinds,
// by convention of which config section they were resolved from.
func (c RuntimeChain) RunRequest(req *Request) (proceed bool, err error) {
	for _, inst := range c.Instances {
		switch {
		case inst.Action != nil:
			allow, err := inst.Action.Apply(req)
			if err != nil {
				return false, err
			}
			if !allow {
				return false, nil
			}
		case inst.RequestFilter != nil:
			ok, err := inst.RequestFilter.ApplyRequest(req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// RunUpstreamRequest executes every upstream-request-filter instance in
// order. A request filter placed in an upstream-request position (e.g. a
// per-upstream header injection built from the same upsert-header
// factory used for pre-routing filters) runs here: an instance whose
// UpstreamRequest field is set runs through ApplyUpstreamRequest,
// otherwise its RequestFilter field runs through ApplyRequest.
func (c RuntimeChain) RunUpstreamRequest(req *Request) (proceed bool, err error) {
	for _, inst := range c.Instances {
		switch {
		case inst.UpstreamRequest != nil:
			ok, err := inst.UpstreamRequest.ApplyUpstreamRequest(req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		case inst.RequestFilter != nil:
			ok, err := inst.RequestFilter.ApplyRequest(req)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
	}
	return true, nil
}

// RunResponse executes every response-filter instance in order.
func (c RuntimeChain) RunResponse(resp *Request) (proceed bool, err error) {
	for _, inst := range c.Instances {
		if inst.ResponseFilter == nil {
			continue
		}
		ok, err := inst.ResponseFilter.ApplyResponse(resp)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Concat appends other's instances after c's, preserving order. Used to
// compose a service-wide path-control chain with a per-upstream chain at
// the UpstreamReqFilters state.
func Concat(chains ...RuntimeChain) RuntimeChain {
	var out RuntimeChain
	for _, c := range chains {
		out.Instances = append(out.Instances, c.Instances...)
	}
	return out
}
