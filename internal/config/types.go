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

// Package config holds the fully-built, immutable configuration tree
// produced by Load. Nothing in this package mutates after Load returns.
package config

// Config is the top-level, process-wide configuration.
type Config struct {
	ThreadsPerService int
	Daemonize         bool
	UpgradeSocket     string
	PIDFile           string
	Proxies           []*ProxyConfig
	FileServers       []*FileServerConfig
	Definitions       *DefinitionsTable
}

// DefaultThreadsPerService is used when the system section omits the field.
const DefaultThreadsPerService = 8

// ProxyConfig is one `services { <name> { ... } }` proxy service.
type ProxyConfig struct {
	Name        string
	Listeners   []Listener
	Connectors  *Connectors
	PathControl *PathControl
	RateLimits  *RateLimitingConfig
}

// FileServerConfig is one static file-server service. Out of scope for
// the request-processing pipeline; only its shape is carried through so
// the loader can classify and round-trip the section.
type FileServerConfig struct {
	Name      string
	Listeners []Listener
	Root      string
}

// ListenerKind tags the Listener variant.
type ListenerKind int

const (
	ListenerTCP ListenerKind = iota
	ListenerUnix
)

// TLSConfig holds a certificate/key pair for a TCP listener.
type TLSConfig struct {
	CertPath string
	KeyPath  string
}

// Listener is a tagged variant: TCP{addr, optional TLS, offer-h2} or
// Unix{path}.
type Listener struct {
	Kind    ListenerKind
	Addr    string // TCP: host:port. Unix: socket path.
	TLS     *TLSConfig
	OfferH2 bool
}

// Connectors is the ordered list of upstreams plus any anonymous inline
// chains registered under generated names while parsing connectors.
type Connectors struct {
	Upstreams       []*UpstreamConfig
	AnonymousChains map[string]*FilterChain
}

// UpstreamKind tags the Upstream variant.
type UpstreamKind int

const (
	UpstreamService UpstreamKind = iota
	UpstreamStatic
)

// MatchMode is the route-match mode for a Service upstream.
type MatchMode int

const (
	MatchExact MatchMode = iota
	MatchPrefix
)

// DefaultStaticContentType is used for Static upstream responses.
const DefaultStaticContentType = "text/plain; charset=utf-8"

// Upstream is a tagged variant: a forwarding Service peer, or a synthetic
// Static response.
type Upstream struct {
	Kind UpstreamKind

	// Service fields.
	Peer       string
	PrefixPath string
	TargetPath string
	Matcher    MatchMode

	// Static fields.
	StaticCode        int
	StaticBody        string
	StaticPrefixPath  string
	StaticContentType string
}

// ChainRef names a chain in the definitions table by its fully-qualified
// dotted identifier.
type ChainRef string

// SelectionPolicy is the load-balancing strategy for an upstream's pool.
type SelectionPolicy int

const (
	SelectionRoundRobin SelectionPolicy = iota
	SelectionRandom
	SelectionFNV
	SelectionKetama
)

// KeySelector names the function that derives a balancer key from a
// request's context.
type KeySelector int

const (
	SelectorNull KeySelector = iota
	SelectorUriPath
	SelectorSourceAddrAndUriPath
)

// UpstreamOptions configures an upstream's load-balance block.
type UpstreamOptions struct {
	Selection    SelectionPolicy
	KeySelector  KeySelector
	HealthChecks string // only "None" is recognised; see Open Questions.
	Discovery    string // only "Static" is recognised; see Open Questions.
}

// UpstreamConfig pairs an Upstream with the chains and options that apply
// to requests routed to it.
type UpstreamConfig struct {
	Upstream  Upstream
	Chains    []ChainRef
	Options   UpstreamOptions
}

// ConfiguredFilter is one entry of a FilterChain: a filter identifier plus
// its string settings, as written in the document.
type ConfiguredFilter struct {
	FQDN     string
	Settings map[string]string
}

// FilterChain is an ordered, named sequence of configured filters.
type FilterChain struct {
	FQDN    string
	Filters []ConfiguredFilter
}

// RateLimitKind tags a RateLimitRule variant.
type RateLimitKind int

const (
	RateLimitSourceIP RateLimitKind = iota
	RateLimitSpecificURI
	RateLimitAnyMatchingURI
)

// MultiConfig configures a Multi-mode (sharded, bounded-LRU) rate-limit
// rule.
type MultiConfig struct {
	Threads              int
	MaxBuckets           int
	MaxTokensPerBucket   int64
	RefillIntervalMillis int64
	RefillQty            int64
}

// SingleConfig configures a Single-mode (one shared bucket) rate-limit
// rule.
type SingleConfig struct {
	MaxTokensPerBucket   int64
	RefillIntervalMillis int64
	RefillQty            int64
}

// RateLimitRule is a tagged variant: Multi{SourceIp|Uri} or
// Single{UriGroup}.
type RateLimitRule struct {
	Kind    RateLimitKind
	Pattern string // compiled regex source; required for *Uri variants.
	Multi   *MultiConfig
	Single  *SingleConfig
}

// RateLimitingConfig is the ordered list of rules applying to a service.
// A request is admitted only if it passes every applicable rule.
type RateLimitingConfig struct {
	Rules  []RateLimitRule
	Mirror MirrorConfig
}

// MirrorConfig configures the optional asynchronous decision mirror.
// Adapter defaults to "none" (disabled).
type MirrorConfig struct {
	Adapter        string // "none" (default), "redis", or "kafka"
	RedisAddr      string
	RedisMarkerTTL int64 // seconds
	KafkaTopic     string
}
