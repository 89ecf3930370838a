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

// Package orchestrator runs the per-request state machine: Accepted ->
// PreFilter -> RateCheck -> Route -> RewritePath -> UpstreamReqFilters ->
// Forward -> UpstreamRespFilters -> EmitStatic/Done. It is the only
// package that touches both the filter chains and the transport seam.
package orchestrator

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"parapet/internal/config"
	"parapet/internal/filters"
	"parapet/internal/logging"
	"parapet/internal/metrics"
	"parapet/internal/transport"
)

// Handler serves one proxy service's traffic by running ProxyRuntime's
// resolved chains, router, balancers and rate limiter against every
// incoming request.
type Handler struct {
	rt        *ProxyRuntime
	forwarder transport.Forwarder
}

// NewHandler pairs a built ProxyRuntime with the Forwarder used for the
// Forward state.
func NewHandler(rt *ProxyRuntime, forwarder transport.Forwarder) *Handler {
	return &Handler{rt: rt, forwarder: forwarder}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("service %s: panic in request pipeline: %v", h.rt.Name, rec)
			metrics.RecordFilterError("panic")
			h.fail(w, outcomeFilterError, "")
		}
	}()

	sourceAddr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(sourceAddr); err == nil {
		sourceAddr = host
	}
	rc := newReqContext(r.Method, r.URL.Path, sourceAddr, r.URL.RawQuery, r.Header)

	// Accepted
	if rc.req.Path == "" || rc.req.Method == "" {
		h.fail(w, outcomeMalformed, "")
		return
	}

	// PreFilter
	proceed, err := h.rt.requestChain.RunRequest(&rc.req)
	if err != nil {
		logging.Errorf("service %s: request filter error: %v", h.rt.Name, err)
		metrics.RecordFilterError("request")
		h.fail(w, outcomeFilterError, "")
		return
	}
	if !proceed {
		h.fail(w, outcomePreFilterBlock, "blocked")
		return
	}

	// RateCheck
	if h.rt.limits != nil && !h.rt.limits.Allow(sourceAddr, rc.req.Path) {
		h.fail(w, outcomeRateLimited, "")
		return
	}

	// Route
	group, ok := h.rt.routes.Lookup(rc.req.Path)
	if !ok {
		h.fail(w, outcomeRouteMiss, "")
		return
	}
	rc.group = group

	// RewritePath / EmitStatic
	if group.static {
		h.emitStatic(w, group)
		return
	}
	rc.rewritten = rewritePath(group, rc.req.Path)

	// Pick a backend peer.
	key := group.selector(sourceAddr, rc.req.Path, rc.scratch)
	idx, peer, ok := group.balancer.Pick(key)
	rc.scratch = key[:0]
	if !ok {
		h.fail(w, outcomeUpstreamError, "no backend available")
		return
	}
	rc.peerIdx, rc.peer = idx, peer

	// UpstreamReqFilters
	upChain := filters.Concat(h.rt.upstreamRequestChain, group.peers[idx].chain)
	proceed, err = upChain.RunUpstreamRequest(&rc.req)
	if err != nil {
		logging.Errorf("service %s: upstream-request filter error: %v", h.rt.Name, err)
		metrics.RecordFilterError("upstream_request")
		h.fail(w, outcomeUpstreamFilterError, "")
		return
	}
	if !proceed {
		h.fail(w, outcomeUpstreamShortCircuit, "blocked")
		return
	}

	// Forward
	outPath := rc.rewritten
	if rc.rawQuery != "" {
		outPath += "?" + rc.rawQuery
	}
	header := headersToHTTP(rc.req.Headers)
	resp, err := h.forwarder.Forward(r.Context(), peer, rc.req.Method, outPath, header, r.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.RecordUpstreamError("timeout")
			h.fail(w, outcomeUpstreamTimeout, "")
			return
		}
		logging.Errorf("service %s: upstream %s error: %v", h.rt.Name, peer, err)
		metrics.RecordUpstreamError("error")
		h.fail(w, outcomeUpstreamError, "")
		return
	}
	defer resp.Body.Close()

	// UpstreamRespFilters
	respReq := filters.Request{Method: rc.req.Method, Path: rc.req.Path, SourceAddr: sourceAddr, Headers: map[string][]string(resp.Header)}
	proceed, err = h.rt.responseChain.RunResponse(&respReq)
	if err != nil {
		logging.Errorf("service %s: response filter error: %v", h.rt.Name, err)
		metrics.RecordFilterError("response")
		h.fail(w, outcomeUpstreamFilterError, "")
		return
	}
	if !proceed {
		h.fail(w, outcomeUpstreamShortCircuit, "blocked")
		return
	}

	// Done: stream the (possibly filter-mutated) response through.
	outHeader := w.Header()
	for k, vs := range respReq.Headers {
		for _, v := range vs {
			outHeader.Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) emitStatic(w http.ResponseWriter, group *routeGroup) {
	w.Header().Set("Content-Type", group.staticContentType)
	w.Header().Set("Connection", "close")
	w.WriteHeader(group.staticCode)
	_, _ = io.WriteString(w, group.staticBody)
}

func (h *Handler) fail(w http.ResponseWriter, o outcome, msg string) {
	if msg == "" {
		msg = http.StatusText(statusFor(o))
	}
	http.Error(w, msg, statusFor(o))
}

// rewritePath implements spec.md's path-rewrite rule: a prefix route
// forwards target_path + the remainder of the incoming path after the
// matched prefix; an exact route forwards target_path as-is.
func rewritePath(group *routeGroup, path string) string {
	if group.matcher == config.MatchExact {
		return group.targetPath
	}
	prefix := strings.TrimSuffix(group.prefixPath, "/")
	remainder := strings.TrimPrefix(path, prefix)
	target := strings.TrimSuffix(group.targetPath, "/")
	if remainder == "" || remainder == "/" {
		if target == "" {
			return "/"
		}
		return target
	}
	return target + remainder
}

func headersToHTTP(h map[string][]string) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = vs
	}
	return out
}
