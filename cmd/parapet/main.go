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

// Command parapet is the composition root: it loads a configuration (or
// synthesizes one from flags), resolves every service's filter registry
// and sandboxed extensions, builds an orchestrator.ProxyRuntime per
// proxy service, and serves each service's listeners.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parapet/internal/config"
	"parapet/internal/filters"
	"parapet/internal/filters/builtin"
	"parapet/internal/logging"
	"parapet/internal/metrics"
	"parapet/internal/orchestrator"
	"parapet/internal/sandbox"
	"parapet/internal/transport"
)

func main() {
	configEntry := flag.String("config-entry", "", "path to the entry-point configuration file")
	routesPort := flag.Int("routes-port", 0, "synthesize a single proxy service listening on this port")
	routesPath := flag.String("routes-path", "/", "path matched by the synthesized route (exact match with --routes-proxy, prefix match with --routes-static)")
	routesStatic := flag.String("routes-static", "", "synthesize a static-response route returning this body")
	routesProxy := flag.String("routes-proxy", "", "synthesize a route forwarding to this upstream (host:port)")
	serveString := flag.String("serve-string", "", "shorthand: serve this literal body on :8080 at /")
	dialTimeout := flag.Duration("dial-timeout", 5*time.Second, "upstream dial timeout")
	upstreamTimeout := flag.Duration("upstream-timeout", 30*time.Second, "upstream round-trip timeout")
	metricsAddr := flag.String("metrics-addr", "", "address for a standalone /metrics endpoint (empty disables it)")
	metricsSampleRate := flag.Float64("metrics-sample-rate", 1.0, "fraction (0..1) of keys sampled for per-key telemetry")
	flag.Parse()

	metrics.Enable(metrics.Config{
		Enabled:     *metricsAddr != "",
		SampleRate:  *metricsSampleRate,
		MetricsAddr: *metricsAddr,
	})

	cfg, err := loadOrSynthesize(*configEntry, *routesPort, *routesPath, *routesStatic, *routesProxy, *serveString)
	if err != nil {
		logging.Fatalf("config: %v", err)
	}

	if len(cfg.FileServers) > 0 {
		logging.Infof("ignoring %d file-server service(s): out of scope for this build", len(cfg.FileServers))
	}
	if len(cfg.Proxies) == 0 {
		logging.Fatalf("config: no proxy services to serve")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sandboxHost, err := sandbox.NewHost(ctx)
	if err != nil {
		logging.Fatalf("sandbox: %v", err)
	}
	defer sandboxHost.Close()

	forwarder := transport.NewHTTPForwarder(*dialTimeout, *upstreamTimeout)

	if err := registerBuiltinAvailability(cfg.Definitions); err != nil {
		logging.Fatalf("config: %v", err)
	}

	var servers []*http.Server
	for _, pc := range cfg.Proxies {
		registry := filters.NewRegistry()
		builtin.Register(registry)
		if err := loadPlugins(sandboxHost, registry, cfg.Definitions); err != nil {
			logging.Fatalf("service %s: plugins: %v", pc.Name, err)
		}

		rt, err := orchestrator.Build(pc, cfg.Definitions, registry)
		if err != nil {
			logging.Fatalf("service %s: %v", pc.Name, err)
		}
		handler := orchestrator.NewHandler(rt, forwarder)

		for _, l := range pc.Listeners {
			srv, err := serveListener(l, handler)
			if err != nil {
				logging.Fatalf("service %s: %v", pc.Name, err)
			}
			servers = append(servers, srv)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logging.Infof("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Errorf("shutdown: %v", err)
		}
	}
}

// registerBuiltinAvailability marks every native filter FQDN as
// instantiable in defs's available-filters set. Parsing only populates
// that set from chains and plugins (definitions.go's InsertChain and
// InsertPlugin), so without this call a builtin like block-cidr-range
// would never show up as "available" even though the registry can
// always build one. It also catches a user chain or plugin reusing a
// reserved builtin FQDN, which AvailableFilters already knows about at
// this point since the definitions merge runs before this call.
func registerBuiltinAvailability(defs *config.DefinitionsTable) error {
	if defs == nil {
		return nil
	}
	available := defs.AvailableFilters()
	for _, fqdn := range []string{
		builtin.FQDNBlockCIDRRange,
		builtin.FQDNRequestUpsertHeader,
		builtin.FQDNRequestRemoveHeader,
		builtin.FQDNResponseUpsertHeader,
		builtin.FQDNResponseRemoveHeader,
	} {
		if _, exists := available[fqdn]; exists {
			return fmt.Errorf("definitions reuse reserved builtin FQDN %s", fqdn)
		}
		defs.RegisterAvailableFilter(fqdn)
	}
	return nil
}

// loadPlugins loads every extension module registered in the process-
// wide definitions table and wires it into registry under its FQDN. A
// plugin whose FQDN is already bound in registry (a builtin, or another
// plugin loaded earlier in this loop) is rejected: registry's
// RegisterFactory silently overwrites on a duplicate key, so without this
// check a plugin could shadow a builtin without any diagnostic.
func loadPlugins(host *sandbox.Host, registry *filters.Registry, defs *config.DefinitionsTable) error {
	if defs == nil {
		return nil
	}
	for fqdn, ref := range defs.Plugins() {
		if registry.Has(fqdn) {
			return fmt.Errorf("plugin %s: FQDN already bound to a builtin or earlier plugin", fqdn)
		}
		wasmBytes, err := os.ReadFile(ref.Path)
		if err != nil {
			return fmt.Errorf("plugin %s: read %s: %w", fqdn, ref.Path, err)
		}
		module, err := host.Load(fqdn, wasmBytes)
		if err != nil {
			return fmt.Errorf("plugin %s: load: %w", fqdn, err)
		}
		sandbox.RegisterPlugin(registry, fqdn, module)
	}
	return nil
}

// serveListener starts srv's handler on l, in a background goroutine,
// and returns the *http.Server so the caller can shut it down later.
// TLS and HTTP/2 negotiation are out of scope; every listener serves
// plain HTTP/1.1.
func serveListener(l config.Listener, handler http.Handler) (*http.Server, error) {
	srv := &http.Server{Handler: handler}

	var ln net.Listener
	var err error
	switch l.Kind {
	case config.ListenerUnix:
		ln, err = net.Listen("unix", l.Addr)
	default:
		srv.Addr = l.Addr
		ln, err = net.Listen("tcp", l.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", l.Addr, err)
	}

	go func() {
		logging.Infof("listening on %s", l.Addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			logging.Errorf("serve %s: %v", l.Addr, err)
		}
	}()
	return srv, nil
}

// loadOrSynthesize picks one of the three supported startup modes: load
// a config document from disk, build a synthetic single-route config
// from --routes-* flags, or the --serve-string shorthand. Exactly one
// is expected; --config-entry wins if several are set.
func loadOrSynthesize(configEntry string, routesPort int, routesPath, routesStatic, routesProxy, serveString string) (*config.Config, error) {
	switch {
	case configEntry != "":
		return config.NewLoader().Load(configEntry)
	case serveString != "":
		return synthesizeConfig(8080, "/", serveString, ""), nil
	case routesPort != 0:
		if routesStatic == "" && routesProxy == "" {
			return nil, fmt.Errorf("--routes-port requires --routes-static or --routes-proxy")
		}
		return synthesizeConfig(routesPort, routesPath, routesStatic, routesProxy), nil
	default:
		return nil, fmt.Errorf("one of --config-entry, --routes-port, or --serve-string is required")
	}
}

// synthesizeConfig builds a single-service, single-route, single-listener
// Config in memory, bypassing the document loader entirely — the fast
// path for a one-off static response or a one-off reverse-proxy hop.
func synthesizeConfig(port int, path, static, proxy string) *config.Config {
	up := &config.UpstreamConfig{}
	if proxy != "" {
		up.Upstream = config.Upstream{
			Kind:       config.UpstreamService,
			Peer:       proxy,
			PrefixPath: path,
			TargetPath: path,
			Matcher:    config.MatchExact,
		}
	} else {
		up.Upstream = config.Upstream{
			Kind:              config.UpstreamStatic,
			StaticCode:        http.StatusOK,
			StaticBody:        static,
			StaticPrefixPath:  path,
			StaticContentType: config.DefaultStaticContentType,
		}
	}

	proxyCfg := &config.ProxyConfig{
		Name: "synthetic",
		Listeners: []config.Listener{
			{Kind: config.ListenerTCP, Addr: fmt.Sprintf(":%d", port)},
		},
		Connectors: &config.Connectors{
			Upstreams:       []*config.UpstreamConfig{up},
			AnonymousChains: map[string]*config.FilterChain{},
		},
		RateLimits: &config.RateLimitingConfig{Mirror: config.MirrorConfig{Adapter: "none"}},
	}
	return &config.Config{
		Proxies:     []*config.ProxyConfig{proxyCfg},
		Definitions: config.NewDefinitionsTable(),
	}
}
