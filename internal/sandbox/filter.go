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

package sandbox

import (
	"context"

	"parapet/internal/filters"
)

// ExtensionFilter adapts a loaded Module to the filters.RequestFilter,
// filters.UpstreamRequestFilter, and filters.ResponseFilter interfaces —
// an extension can be registered at any stage; the config section it
// appears under decides which of these the resolver actually calls.
type ExtensionFilter struct {
	module *Module
}

// NewExtensionFilter wraps module for use as a chain entry.
func NewExtensionFilter(module *Module) *ExtensionFilter {
	return &ExtensionFilter{module: module}
}

func toGuestRequest(req *filters.Request) GuestRequest {
	gr := GuestRequest{Path: req.Path, Method: req.Method}
	for name, values := range req.Headers {
		for _, v := range values {
			gr.Headers = append(gr.Headers, GuestEntry{Name: name, Value: v})
		}
	}
	return gr
}

// ApplyRequest satisfies filters.RequestFilter.
func (e *ExtensionFilter) ApplyRequest(req *filters.Request) (bool, error) {
	return e.module.CallFilter(context.Background(), toGuestRequest(req))
}

// ApplyUpstreamRequest satisfies filters.UpstreamRequestFilter.
func (e *ExtensionFilter) ApplyUpstreamRequest(req *filters.Request) (bool, error) {
	return e.module.CallFilter(context.Background(), toGuestRequest(req))
}

// ApplyResponse satisfies filters.ResponseFilter.
func (e *ExtensionFilter) ApplyResponse(resp *filters.Request) (bool, error) {
	return e.module.CallFilter(context.Background(), toGuestRequest(resp))
}

// RegisterPlugin wires one loaded extension module into registry under
// fqdn, classified as a request-stage filter (the common case for
// pre-routing extensions; per-position execution is still governed by
// which chain the resolver builds it into, same as any built-in filter).
func RegisterPlugin(registry *filters.Registry, fqdn string, module *Module) {
	ext := NewExtensionFilter(module)
	registry.RegisterFactory(fqdn, func(settings map[string]string) (filters.FilterInstance, error) {
		return filters.FilterInstance{
			Stage:           filters.StageRequest,
			RequestFilter:   ext,
			UpstreamRequest: ext,
			ResponseFilter:  ext,
		}, nil
	})
}
