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

// Package transport is the narrow seam between the orchestrator and the
// underlying HTTP engine. The orchestrator never touches net/http.Client
// or http.Transport directly; it only ever sees Forwarder, so the engine
// (connection pooling, TLS, HTTP/2 upgrade, timeouts) can be swapped or
// hardened without touching request-processing logic.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// ErrConnect is wrapped by Forward when the upstream could not be reached
// at all (dial failure), as distinct from an error returned after a
// connection was established.
var ErrConnect = errors.New("upstream connect failed")

// Forwarder sends one request to a selected backend peer and returns its
// response. Implementations own connection reuse; callers must close the
// returned response body.
type Forwarder interface {
	Forward(ctx context.Context, peer string, method, path string, header http.Header, body io.Reader) (*http.Response, error)
}

// HTTPForwarder is the production Forwarder: a pooled http.Client per
// proxy process, shared across every upstream peer it talks to.
type HTTPForwarder struct {
	client *http.Client
}

// NewHTTPForwarder builds a Forwarder with the given per-request connect
// and overall timeouts. A zero dialTimeout defaults to 5s; a zero
// overallTimeout means no client-side deadline beyond the caller's ctx.
func NewHTTPForwarder(dialTimeout, overallTimeout time.Duration) *HTTPForwarder {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialer := &net.Dialer{Timeout: dialTimeout}
	return &HTTPForwarder{
		client: &http.Client{
			Timeout: overallTimeout,
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				MaxIdleConns:          256,
				MaxIdleConnsPerHost:   64,
				IdleConnTimeout:       90 * time.Second,
				ExpectContinueTimeout: time.Second,
			},
		},
	}
}

// Forward issues method+path against peer (a "host:port" or full
// "scheme://host:port" string), copying header onto the outbound request
// and streaming body as the request body.
func (f *HTTPForwarder) Forward(ctx context.Context, peer string, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	url := peerURL(peer) + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = header.Clone()
	resp, err := f.client.Do(req)
	if err != nil {
		if isConnError(err) {
			return nil, errors.Join(ErrConnect, err)
		}
		return nil, err
	}
	return resp, nil
}

func peerURL(peer string) string {
	if strings.HasPrefix(peer, "http://") || strings.HasPrefix(peer, "https://") {
		return peer
	}
	return "http://" + peer
}

func isConnError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
