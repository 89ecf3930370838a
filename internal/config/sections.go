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

package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"parapet/internal/config/kdl"
)

// PathControl holds the service-wide filter chains declared in a
// service's path-control block: request filters run before routing,
// upstream-request filters run after the upstream is chosen (ahead of any
// per-upstream chain), and upstream-response filters run on the way back.
type PathControl struct {
	RequestFilters       []ConfiguredFilter
	UpstreamRequestGlobal []ConfiguredFilter
	ResponseFilters      []ConfiguredFilter
}

// parseSystemSection reads the top-level `system { ... }` node. A missing
// section yields defaults.
func parseSystemSection(path string, node *kdl.Node, cfg *Config) error {
	cfg.ThreadsPerService = DefaultThreadsPerService
	cfg.Daemonize = false
	if node == nil {
		return nil
	}
	if n := node.Child("threads-per-service"); n != nil {
		v, err := intArg(path, n)
		if err != nil {
			return err
		}
		if v <= 0 {
			return errAt(path, n.Pos, "threads-per-service must be a positive integer")
		}
		cfg.ThreadsPerService = v
	}
	if n := node.Child("daemonize"); n != nil {
		v, err := boolArg(path, n)
		if err != nil {
			return err
		}
		cfg.Daemonize = v
	}
	if n := node.Child("upgrade-socket"); n != nil {
		cfg.UpgradeSocket = stringArg(n)
	}
	if n := node.Child("pid-file"); n != nil {
		cfg.PIDFile = stringArg(n)
	}
	return nil
}

// parseIncludesSection reads the top-level `includes { include "path" ... }`
// node, in document order.
func parseIncludesSection(node *kdl.Node) []string {
	if node == nil {
		return nil
	}
	var out []string
	for _, inc := range node.ChildrenNamed("include") {
		out = append(out, stringArg(inc))
	}
	return out
}

// parseDefinitionsSection reads the top-level `definitions { modifiers {
// ... }; plugins { ... } }` node into a fresh table.
func parseDefinitionsSection(path string, node *kdl.Node) (*DefinitionsTable, error) {
	table := NewDefinitionsTable()
	if node == nil {
		return table, nil
	}
	if mods := node.Child("modifiers"); mods != nil {
		if err := walkNamespace(path, mods, "", table); err != nil {
			return nil, err
		}
	}
	if plugins := node.Child("plugins"); plugins != nil {
		for _, p := range plugins.ChildrenNamed("plugin") {
			nameNode := p.Child("name")
			loadNode := p.Child("load")
			if nameNode == nil || len(nameNode.Args) == 0 {
				return nil, errAt(path, p.Pos, "plugin declaration missing a name")
			}
			fqdn := nameNode.Args[0].Value
			var loadPath string
			if loadNode != nil {
				loadPath, _ = loadNode.Prop("path")
			}
			if err := table.InsertPlugin(fqdn, loadPath); err != nil {
				return nil, errAt(path, p.Pos, "%s", err.Error())
			}
		}
	}
	return table, nil
}

func joinFQDN(prefix, leaf string) string {
	if prefix == "" {
		return leaf
	}
	return prefix + "." + leaf
}

// walkNamespace recurses the `namespace "x" { ... }` tree, inserting
// `chain-filters` leaves into table under the accumulated dotted prefix.
// Namespaces re-open and merge freely; only leaves collide.
func walkNamespace(path string, node *kdl.Node, prefix string, table *DefinitionsTable) error {
	for _, child := range node.Children {
		switch child.Name {
		case "namespace":
			if len(child.Args) == 0 {
				return errAt(path, child.Pos, "namespace missing a name")
			}
			next := joinFQDN(prefix, child.Args[0].Value)
			if err := walkNamespace(path, child, next, table); err != nil {
				return err
			}
		case "chain-filters":
			if len(child.Args) == 0 {
				return errAt(path, child.Pos, "chain-filters missing a name")
			}
			fqdn := joinFQDN(prefix, child.Args[0].Value)
			chain, err := parseChainFiltersNode(path, child, fqdn)
			if err != nil {
				return err
			}
			if err := table.InsertChain(fqdn, chain); err != nil {
				return errAt(path, child.Pos, "%s", err.Error())
			}
		case "key-selector":
			if len(child.Args) == 0 {
				return errAt(path, child.Pos, "key-selector missing a name")
			}
			fqdn := joinFQDN(prefix, child.Args[0].Value)
			sel, err := parseKeySelectorValue(path, child)
			if err != nil {
				return err
			}
			if err := table.InsertKeyProfile(fqdn, sel); err != nil {
				return errAt(path, child.Pos, "%s", err.Error())
			}
		default:
			return errAt(path, child.Pos, "unknown definitions node: '%s'", child.Name)
		}
	}
	return nil
}

func parseChainFiltersNode(path string, node *kdl.Node, fqdn string) (*FilterChain, error) {
	chain := &FilterChain{FQDN: fqdn}
	for _, f := range node.ChildrenNamed("filter") {
		name, ok := f.Prop("name")
		if !ok {
			return nil, errAt(path, f.Pos, "filter missing required 'name' property")
		}
		settings := make(map[string]string, len(f.Props))
		for _, p := range f.Props {
			if p.Key == "name" {
				continue
			}
			settings[p.Key] = p.Value
		}
		chain.Filters = append(chain.Filters, ConfiguredFilter{FQDN: name, Settings: settings})
	}
	return chain, nil
}

func parseKeySelectorValue(path string, node *kdl.Node) (KeySelector, error) {
	var v string
	if len(node.Args) > 0 {
		v = node.Args[0].Value
	}
	return parseKeySelectorString(path, node.Pos, v)
}

func parseKeySelectorString(path string, pos kdl.Position, v string) (KeySelector, error) {
	switch v {
	case "Null", "":
		return SelectorNull, nil
	case "UriPath":
		return SelectorUriPath, nil
	case "SourceAddrAndUriPath":
		return SelectorSourceAddrAndUriPath, nil
	default:
		return 0, errAt(path, pos, "unknown key selector: '%s'", v)
	}
}

// --- services -------------------------------------------------------------

// serviceSections accumulates the distinct child sections of one named
// service, merged across every document that declares it.
type serviceSections struct {
	name     string
	sections map[string]*kdl.Node
	order    []string
}

func newServiceSections(name string) *serviceSections {
	return &serviceSections{name: name, sections: make(map[string]*kdl.Node)}
}

func (s *serviceSections) addFrom(path string, svcNode *kdl.Node) error {
	for _, child := range svcNode.Children {
		if _, dup := s.sections[child.Name]; dup {
			return errAt(path, child.Pos, "Duplicate section: '%s'", child.Name)
		}
		s.sections[child.Name] = child
		s.order = append(s.order, child.Name)
	}
	return nil
}

var proxySectionNames = map[string]bool{
	"listeners": true, "connectors": true, "path-control": true, "rate-limiting": true,
}
var fileServerSectionNames = map[string]bool{
	"listeners": true, "file-server": true,
}

// classify decides whether a merged service is a proxy or a file-server,
// per the child-section-name-set rule in the section parser contract.
func (s *serviceSections) classify(path string) (isProxy bool, err error) {
	allProxy, allFileServer := true, true
	for name := range s.sections {
		if !proxySectionNames[name] {
			allProxy = false
		}
		if !fileServerSectionNames[name] {
			allFileServer = false
		}
	}
	switch {
	case allProxy && s.sections["connectors"] != nil:
		return true, nil
	case allFileServer && s.sections["file-server"] != nil:
		return false, nil
	default:
		var names []string
		for _, n := range s.order {
			names = append(names, n)
		}
		return false, errIn(path, "Unknown configuration section(s): %s", strings.Join(names, ", "))
	}
}

func parseListeners(path string, node *kdl.Node) ([]Listener, error) {
	if node == nil {
		return nil, nil
	}
	var out []Listener
	for _, n := range node.Children {
		if n.Name == "unix" {
			if len(n.Args) == 0 {
				return nil, errAt(path, n.Pos, "unix listener missing a socket path")
			}
			out = append(out, Listener{Kind: ListenerUnix, Addr: n.Args[0].Value})
			continue
		}
		// A bare address node: `"host:port" cert-path=... key-path=... offer-h2=bool`.
		addr := n.Name
		if addr == "" && len(n.Args) > 0 {
			addr = n.Args[0].Value
		}
		lst := Listener{Kind: ListenerTCP, Addr: addr}
		certPath, hasCert := n.Prop("cert-path")
		keyPath, hasKey := n.Prop("key-path")
		if hasCert != hasKey {
			return nil, errAt(path, n.Pos, "cert-path and key-path must both be present or both absent")
		}
		if hasCert && hasKey {
			lst.TLS = &TLSConfig{CertPath: certPath, KeyPath: keyPath}
		}
		if v, ok := n.Prop("offer-h2"); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, errAt(path, n.Pos, "offer-h2: invalid bool '%s'", v)
			}
			lst.OfferH2 = b
		}
		if lst.OfferH2 && lst.TLS == nil {
			return nil, errAt(path, n.Pos, "offer-h2 requires TLS (cert-path/key-path)")
		}
		out = append(out, lst)
	}
	return out, nil
}

func parseConnectors(path string, node *kdl.Node, defs *DefinitionsTable) (*Connectors, error) {
	conn := &Connectors{AnonymousChains: make(map[string]*FilterChain)}
	if node == nil {
		return nil, errIn(path, ErrNoConnectors.Error())
	}
	var loadBalanceSeen bool
	anonCounter := 0
	opts := UpstreamOptions{Selection: SelectionRoundRobin, KeySelector: SelectorNull}

	for _, child := range node.Children {
		switch child.Name {
		case "load-balance":
			if loadBalanceSeen {
				return nil, errAt(path, child.Pos, "Duplicate 'load-balance' section")
			}
			loadBalanceSeen = true
			var err error
			opts, err = parseLoadBalance(path, child)
			if err != nil {
				return nil, err
			}
		case "return":
			code := 200
			if v, ok := child.Prop("code"); ok {
				parsed, err := strconv.Atoi(v)
				if err != nil {
					return nil, errAt(path, child.Pos, "return code: invalid integer '%s'", v)
				}
				code = parsed
			}
			body, _ := child.Prop("response")
			up := &UpstreamConfig{Upstream: Upstream{
				Kind:              UpstreamStatic,
				StaticCode:        code,
				StaticBody:        body,
				StaticPrefixPath:  "/",
				StaticContentType: DefaultStaticContentType,
			}}
			conn.Upstreams = append(conn.Upstreams, up)
		default:
			up, chain, err := parseConnectorHost(path, child, &anonCounter)
			if err != nil {
				return nil, err
			}
			if chain != nil {
				name := fmt.Sprintf("__anon.%s.%d", chain.FQDN, anonCounter)
				conn.AnonymousChains[name] = chain
				up.Chains = append(up.Chains, ChainRef(name))
			}
			conn.Upstreams = append(conn.Upstreams, up)
		}
	}
	if len(conn.Upstreams) == 0 {
		return nil, errIn(path, ErrNoConnectors.Error())
	}
	for _, up := range conn.Upstreams {
		up.Options = opts
		if (opts.Selection == SelectionFNV || opts.Selection == SelectionKetama) && opts.KeySelector == SelectorNull {
			return nil, errIn(path, "FNV/Ketama selection requires a non-null key selector")
		}
	}
	return conn, nil
}

func parseLoadBalance(path string, node *kdl.Node) (UpstreamOptions, error) {
	opts := UpstreamOptions{Selection: SelectionRoundRobin, KeySelector: SelectorNull, HealthChecks: "None", Discovery: "Static"}
	if sel := node.Child("selection"); sel != nil {
		var v string
		if len(sel.Args) > 0 {
			v = sel.Args[0].Value
		}
		switch v {
		case "RoundRobin":
			opts.Selection = SelectionRoundRobin
		case "Random":
			opts.Selection = SelectionRandom
		case "FNV":
			opts.Selection = SelectionFNV
		case "Ketama":
			opts.Selection = SelectionKetama
		default:
			return opts, errAt(path, sel.Pos, "unknown selection policy: '%s'", v)
		}
		if key, ok := sel.Prop("key"); ok {
			ks, err := parseKeySelectorString(path, sel.Pos, key)
			if err != nil {
				return opts, err
			}
			opts.KeySelector = ks
		}
	}
	if hc := node.Child("health-check"); hc != nil && len(hc.Args) > 0 {
		opts.HealthChecks = hc.Args[0].Value
	}
	if d := node.Child("discovery"); d != nil && len(d.Args) > 0 {
		opts.Discovery = d.Args[0].Value
	}
	return opts, nil
}

// parseConnectorHost parses a `"host:port" proto=... tls-sni=...` node, or
// an upstream node carrying an inline anonymous chain block.
func parseConnectorHost(path string, node *kdl.Node, anonCounter *int) (*UpstreamConfig, *FilterChain, error) {
	peer := node.Name
	if peer == "" && len(node.Args) > 0 {
		peer = node.Args[0].Value
	}
	proto, hasProto := node.Prop("proto")
	sni, hasSNI := node.Prop("tls-sni")
	if hasProto && proto != "h1-only" && !hasSNI {
		return nil, nil, errAt(path, node.Pos, "tls-sni is required when proto is set to a TLS-capable mode")
	}
	_ = sni

	up := &UpstreamConfig{Upstream: Upstream{
		Kind:       UpstreamService,
		Peer:       peer,
		PrefixPath: "/",
		TargetPath: "/",
		Matcher:    MatchPrefix,
	}}

	if pp, ok := node.Prop("prefix-path"); ok {
		up.Upstream.PrefixPath = pp
	}
	if tp, ok := node.Prop("target-path"); ok {
		up.Upstream.TargetPath = tp
	}
	if m, ok := node.Prop("match"); ok && m == "exact" {
		up.Upstream.Matcher = MatchExact
	}

	var chain *FilterChain
	if len(node.Children) > 0 {
		*anonCounter++
		c, err := parseChainFiltersNode(path, node, fmt.Sprintf("anon-%d", *anonCounter))
		if err != nil {
			return nil, nil, err
		}
		chain = c
	}
	return up, chain, nil
}

func parsePathControl(path string, node *kdl.Node) (*PathControl, error) {
	pc := &PathControl{}
	if node == nil {
		return pc, nil
	}
	collect := func(n *kdl.Node) ([]ConfiguredFilter, error) {
		var out []ConfiguredFilter
		if n == nil {
			return out, nil
		}
		for _, f := range n.ChildrenNamed("filter") {
			kind, ok := f.Prop("kind")
			settings := make(map[string]string, len(f.Props))
			for _, p := range f.Props {
				settings[p.Key] = p.Value
			}
			name := kind
			if !ok {
				if fqdn, ok2 := f.Prop("name"); ok2 {
					name = fqdn
				}
			}
			delete(settings, "kind")
			out = append(out, ConfiguredFilter{FQDN: name, Settings: settings})
		}
		return out, nil
	}
	var err error
	if pc.RequestFilters, err = collect(node.Child("request-filters")); err != nil {
		return nil, err
	}
	if pc.UpstreamRequestGlobal, err = collect(node.Child("upstream-request")); err != nil {
		return nil, err
	}
	if pc.ResponseFilters, err = collect(node.Child("upstream-response")); err != nil {
		return nil, err
	}
	return pc, nil
}

func parseRateLimiting(path string, node *kdl.Node) (*RateLimitingConfig, error) {
	rl := &RateLimitingConfig{}
	if node == nil {
		return rl, nil
	}
	for _, n := range node.ChildrenNamed("rule") {
		kindStr, _ := n.Prop("kind")
		rule := RateLimitRule{}
		pattern, _ := n.Prop("pattern")
		rule.Pattern = pattern
		if pattern != "" {
			if _, err := regexp.Compile(pattern); err != nil {
				return nil, errAt(path, n.Pos, "rate-limit rule: invalid regex '%s': %v", pattern, err)
			}
		} else if kindStr == "specific-uri" || kindStr == "any-matching-uri" {
			return nil, errAt(path, n.Pos, "rate-limit rule kind '%s' requires a 'pattern'", kindStr)
		}

		tokens, err := posIntProp(path, n, "tokens-per-bucket")
		if err != nil {
			return nil, err
		}
		refillQty, err := posIntProp(path, n, "refill-qty")
		if err != nil {
			return nil, err
		}
		refillRate, err := posIntProp(path, n, "refill-rate-ms")
		if err != nil {
			return nil, err
		}

		switch kindStr {
		case "source-ip":
			rule.Kind = RateLimitSourceIP
			maxBuckets, err := posIntProp(path, n, "max-buckets")
			if err != nil {
				return nil, err
			}
			threads := 1
			if t, ok := n.Prop("threads"); ok {
				threads, err = strconv.Atoi(t)
				if err != nil || threads <= 0 {
					return nil, errAt(path, n.Pos, "threads must be a positive integer")
				}
			}
			rule.Multi = &MultiConfig{Threads: threads, MaxBuckets: int(maxBuckets), MaxTokensPerBucket: tokens, RefillIntervalMillis: refillRate, RefillQty: refillQty}
		case "specific-uri":
			rule.Kind = RateLimitSpecificURI
			maxBuckets, err := posIntProp(path, n, "max-buckets")
			if err != nil {
				return nil, err
			}
			threads := 1
			if t, ok := n.Prop("threads"); ok {
				threads, err = strconv.Atoi(t)
				if err != nil || threads <= 0 {
					return nil, errAt(path, n.Pos, "threads must be a positive integer")
				}
			}
			rule.Multi = &MultiConfig{Threads: threads, MaxBuckets: int(maxBuckets), MaxTokensPerBucket: tokens, RefillIntervalMillis: refillRate, RefillQty: refillQty}
		case "any-matching-uri":
			rule.Kind = RateLimitAnyMatchingURI
			rule.Single = &SingleConfig{MaxTokensPerBucket: tokens, RefillIntervalMillis: refillRate, RefillQty: refillQty}
		default:
			return nil, errAt(path, n.Pos, "unknown rate-limit rule kind: '%s'", kindStr)
		}
		rl.Rules = append(rl.Rules, rule)
	}
	if m := node.Child("mirror"); m != nil {
		adapter, _ := m.Prop("adapter")
		if adapter == "" {
			adapter = "none"
		}
		mc := MirrorConfig{Adapter: adapter}
		mc.RedisAddr, _ = m.Prop("redis-addr")
		mc.KafkaTopic, _ = m.Prop("kafka-topic")
		if ttl, ok := m.Prop("redis-marker-ttl-secs"); ok {
			parsed, err := strconv.ParseInt(ttl, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, errAt(path, m.Pos, "redis-marker-ttl-secs must be a positive integer, got '%s'", ttl)
			}
			mc.RedisMarkerTTL = parsed
		}
		if mc.Adapter == "redis" && mc.RedisAddr == "" {
			return nil, errAt(path, m.Pos, "mirror adapter 'redis' requires redis-addr")
		}
		rl.Mirror = mc
	} else {
		rl.Mirror = MirrorConfig{Adapter: "none"}
	}
	return rl, nil
}

func posIntProp(path string, n *kdl.Node, key string) (int64, error) {
	v, ok := n.Prop(key)
	if !ok {
		return 0, errAt(path, n.Pos, "rate-limit rule missing required '%s'", key)
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil || parsed <= 0 {
		return 0, errAt(path, n.Pos, "%s must be a positive integer, got '%s'", key, v)
	}
	return parsed, nil
}

// --- small arg helpers ------------------------------------------------------

func stringArg(n *kdl.Node) string {
	if len(n.Args) == 0 {
		return ""
	}
	return n.Args[0].Value
}

func intArg(path string, n *kdl.Node) (int, error) {
	if len(n.Args) == 0 {
		return 0, errAt(path, n.Pos, "%s: missing value", n.Name)
	}
	v, err := strconv.Atoi(n.Args[0].Value)
	if err != nil {
		return 0, errAt(path, n.Pos, "%s: invalid integer '%s'", n.Name, n.Args[0].Value)
	}
	return v, nil
}

func boolArg(path string, n *kdl.Node) (bool, error) {
	if len(n.Args) == 0 {
		return false, errAt(path, n.Pos, "%s: missing value", n.Name)
	}
	v, err := strconv.ParseBool(n.Args[0].Value)
	if err != nil {
		return false, errAt(path, n.Pos, "%s: invalid bool '%s'", n.Name, n.Args[0].Value)
	}
	return v, nil
}
