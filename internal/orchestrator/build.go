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

package orchestrator

import (
	"fmt"

	"parapet/internal/balancer"
	"parapet/internal/config"
	"parapet/internal/filters"
	"parapet/internal/ratelimit"
	"parapet/internal/router"
)

// peerRoute is one backend within a routeGroup's pool: its address plus
// the upstream-request chain built from the filters configured on this
// specific connector entry (e.g. a per-host header injection).
type peerRoute struct {
	addr  string
	chain filters.RuntimeChain
}

// routeGroup is the router's leaf value: either a pool of Service peers
// balanced by policy, or a synthesized Static response.
type routeGroup struct {
	static bool

	// Service fields.
	targetPath string
	prefixPath string
	matcher    config.MatchMode
	peers      []peerRoute
	policy     config.SelectionPolicy
	balancer   *balancer.Balancer
	selector   balancer.Selector

	// Static fields.
	staticCode        int
	staticBody        string
	staticContentType string
}

// ProxyRuntime is the fully-resolved, immutable-after-build runtime for
// one proxy service: everything the orchestrator needs per request.
type ProxyRuntime struct {
	Name string

	requestChain         filters.RuntimeChain // PathControl.RequestFilters
	upstreamRequestChain filters.RuntimeChain // PathControl.UpstreamRequestGlobal
	responseChain        filters.RuntimeChain // PathControl.ResponseFilters

	routes *router.Router[*routeGroup]

	limits *ratelimit.Set
}

// Build resolves a ProxyConfig against the process-wide definitions
// table and filter registry into a ProxyRuntime ready to serve requests.
func Build(pc *config.ProxyConfig, defs *config.DefinitionsTable, registry *filters.Registry) (*ProxyRuntime, error) {
	resolver := filters.NewResolver(registry)

	rt := &ProxyRuntime{Name: pc.Name, routes: router.New[*routeGroup]()}

	if pc.PathControl != nil {
		var err error
		if rt.requestChain, err = resolver.Build(toEntries(pc.PathControl.RequestFilters)); err != nil {
			return nil, fmt.Errorf("service %s: path-control request filters: %w", pc.Name, err)
		}
		if rt.upstreamRequestChain, err = resolver.Build(toEntries(pc.PathControl.UpstreamRequestGlobal)); err != nil {
			return nil, fmt.Errorf("service %s: path-control upstream-request filters: %w", pc.Name, err)
		}
		if rt.responseChain, err = resolver.Build(toEntries(pc.PathControl.ResponseFilters)); err != nil {
			return nil, fmt.Errorf("service %s: path-control response filters: %w", pc.Name, err)
		}
	}

	limits, err := ratelimit.Build(pc.RateLimits)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", pc.Name, err)
	}
	rt.limits = limits

	if pc.Connectors == nil {
		return nil, fmt.Errorf("service %s: no connectors", pc.Name)
	}

	groups := make(map[string]*routeGroup)
	var order []string
	for _, up := range pc.Connectors.Upstreams {
		switch up.Upstream.Kind {
		case config.UpstreamStatic:
			g := &routeGroup{
				static:            true,
				staticCode:        up.Upstream.StaticCode,
				staticBody:        up.Upstream.StaticBody,
				staticContentType: up.Upstream.StaticContentType,
			}
			path := up.Upstream.StaticPrefixPath
			if path == "" {
				path = "/"
			}
			rt.routes.Insert(router.Route[*routeGroup]{Path: path, Kind: router.MatchPrefix, Upstream: g})
		case config.UpstreamService:
			key := fmt.Sprintf("%d|%s", up.Upstream.Matcher, up.Upstream.PrefixPath)
			g, exists := groups[key]
			if !exists {
				g = &routeGroup{
					prefixPath: up.Upstream.PrefixPath,
					targetPath: up.Upstream.TargetPath,
					matcher:    up.Upstream.Matcher,
					selector:   selectorFor(up.Options.KeySelector, defs),
				}
				groups[key] = g
				order = append(order, key)
			}
			entries, err := resolveChainRefs(up.Chains, defs, pc.Connectors)
			if err != nil {
				return nil, fmt.Errorf("service %s: upstream %s: %w", pc.Name, up.Upstream.Peer, err)
			}
			chain, err := resolver.Build(entries)
			if err != nil {
				return nil, fmt.Errorf("service %s: upstream %s: %w", pc.Name, up.Upstream.Peer, err)
			}
			g.peers = append(g.peers, peerRoute{addr: up.Upstream.Peer, chain: chain})
			g.policy = up.Options.Selection
		}
	}
	for _, key := range order {
		g := groups[key]
		g.balancer = newBalancerForGroup(g.policy, g.peers)
		kind := router.MatchPrefix
		if g.matcher == config.MatchExact {
			kind = router.MatchExact
		}
		rt.routes.Insert(router.Route[*routeGroup]{Path: g.prefixPath, Kind: kind, Upstream: g})
	}
	return rt, nil
}

func newBalancerForGroup(policy config.SelectionPolicy, peers []peerRoute) *balancer.Balancer {
	pool := make([]string, len(peers))
	for i, p := range peers {
		pool[i] = p.addr
	}
	return balancer.New(balancerPolicy(policy), pool)
}

func balancerPolicy(p config.SelectionPolicy) balancer.Policy {
	switch p {
	case config.SelectionRandom:
		return balancer.Random
	case config.SelectionFNV:
		return balancer.FNV
	case config.SelectionKetama:
		return balancer.Ketama
	default:
		return balancer.RoundRobin
	}
}

func selectorFor(ks config.KeySelector, defs *config.DefinitionsTable) balancer.Selector {
	_ = defs // key profiles resolve to the same three selectors; no extra state needed.
	switch ks {
	case config.SelectorUriPath:
		return balancer.UriPathSelector
	case config.SelectorSourceAddrAndUriPath:
		return balancer.SourceAddrAndUriPathSelector
	default:
		return balancer.NullSelector
	}
}

// resolveChainRefs turns a []ChainRef into the flat []ConfiguredEntry a
// Resolver consumes, looking each ref up either in the process-wide
// definitions table or, for per-connector anonymous chains, in the
// owning service's Connectors.AnonymousChains. A ref found in neither is
// a build-time configuration error, not a silent no-op.
func resolveChainRefs(refs []config.ChainRef, defs *config.DefinitionsTable, conn *config.Connectors) ([]filters.ConfiguredEntry, error) {
	var out []filters.ConfiguredEntry
	for _, ref := range refs {
		name := string(ref)
		var chain *config.FilterChain
		if anon, ok := conn.AnonymousChains[name]; ok {
			chain = anon
		} else if c, err := defs.ResolveChain(name); err == nil {
			chain = c
		} else {
			return nil, fmt.Errorf("unknown chain: %s", name)
		}
		for _, f := range chain.Filters {
			out = append(out, filters.ConfiguredEntry{FQDN: f.FQDN, Settings: f.Settings})
		}
	}
	return out, nil
}

func toEntries(configured []config.ConfiguredFilter) []filters.ConfiguredEntry {
	entries := make([]filters.ConfiguredEntry, len(configured))
	for i, f := range configured {
		entries[i] = filters.ConfiguredEntry{FQDN: f.FQDN, Settings: f.Settings}
	}
	return entries
}
