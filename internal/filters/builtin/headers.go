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

package builtin

import (
	"fmt"
	"regexp"

	"parapet/internal/filters"
)

// UpsertHeader removes then appends a single header, on either the
// request or the response path depending on which stage registered it.
type UpsertHeader struct {
	key   string
	value string
}

func newUpsertHeader(settings map[string]string) (*UpsertHeader, error) {
	key, ok := settings["key"]
	if !ok {
		return nil, fmt.Errorf("upsert-header: missing required 'key' setting")
	}
	value, ok := settings["value"]
	if !ok {
		return nil, fmt.Errorf("upsert-header: missing required 'value' setting")
	}
	if err := rejectUnknownSettings("upsert-header", settings, "key", "value"); err != nil {
		return nil, err
	}
	return &UpsertHeader{key: key, value: value}, nil
}

// rejectUnknownSettings fails closed if settings carries any key not in
// allowed, so a typo in a chain-filters block surfaces at build time
// instead of being silently ignored.
func rejectUnknownSettings(fqdn string, settings map[string]string, allowed ...string) error {
	keep := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		keep[k] = struct{}{}
	}
	for k := range settings {
		if _, ok := keep[k]; !ok {
			return fmt.Errorf("%s: unknown setting '%s'", fqdn, k)
		}
	}
	return nil
}

func (u *UpsertHeader) apply(req *filters.Request) (bool, error) {
	delete(req.Headers, u.key)
	req.Headers[u.key] = []string{u.value}
	return true, nil
}

// ApplyRequest satisfies filters.RequestFilter.
func (u *UpsertHeader) ApplyRequest(req *filters.Request) (bool, error) { return u.apply(req) }

// ApplyUpstreamRequest satisfies filters.UpstreamRequestFilter.
func (u *UpsertHeader) ApplyUpstreamRequest(req *filters.Request) (bool, error) { return u.apply(req) }

// ApplyResponse satisfies filters.ResponseFilter.
func (u *UpsertHeader) ApplyResponse(resp *filters.Request) (bool, error) { return u.apply(resp) }

// RemoveHeaderKeyRegex removes every header whose name matches a
// compiled regex.
type RemoveHeaderKeyRegex struct {
	pattern *regexp.Regexp
}

func newRemoveHeaderKeyRegex(settings map[string]string) (*RemoveHeaderKeyRegex, error) {
	raw, ok := settings["pattern"]
	if !ok {
		return nil, fmt.Errorf("remove-header: missing required 'pattern' setting")
	}
	re, err := regexp.Compile(raw)
	if err != nil {
		return nil, fmt.Errorf("remove-header: invalid pattern '%s': %w", raw, err)
	}
	if err := rejectUnknownSettings("remove-header", settings, "pattern"); err != nil {
		return nil, err
	}
	return &RemoveHeaderKeyRegex{pattern: re}, nil
}

func (r *RemoveHeaderKeyRegex) apply(req *filters.Request) (bool, error) {
	for name := range req.Headers {
		if r.pattern.MatchString(name) {
			delete(req.Headers, name)
		}
	}
	return true, nil
}

// ApplyRequest satisfies filters.RequestFilter.
func (r *RemoveHeaderKeyRegex) ApplyRequest(req *filters.Request) (bool, error) { return r.apply(req) }

// ApplyResponse satisfies filters.ResponseFilter.
func (r *RemoveHeaderKeyRegex) ApplyResponse(resp *filters.Request) (bool, error) {
	return r.apply(resp)
}

// Register registers every built-in filter factory into registry. This is
// the generalized, data-oriented equivalent of the teacher's persistence
// adapter switch: one function mapping a small fixed set of identifiers
// to constructors, rather than a type hierarchy.
func Register(registry *filters.Registry) {
	RegisterCIDRFactory(registry)

	registry.RegisterFactory(FQDNRequestUpsertHeader, func(settings map[string]string) (filters.FilterInstance, error) {
		f, err := newUpsertHeader(settings)
		if err != nil {
			return filters.FilterInstance{}, err
		}
		return filters.FilterInstance{Stage: filters.StageRequest, RequestFilter: f}, nil
	})
	registry.RegisterFactory(FQDNRequestRemoveHeader, func(settings map[string]string) (filters.FilterInstance, error) {
		f, err := newRemoveHeaderKeyRegex(settings)
		if err != nil {
			return filters.FilterInstance{}, err
		}
		return filters.FilterInstance{Stage: filters.StageRequest, RequestFilter: f}, nil
	})
	registry.RegisterFactory(FQDNResponseUpsertHeader, func(settings map[string]string) (filters.FilterInstance, error) {
		f, err := newUpsertHeader(settings)
		if err != nil {
			return filters.FilterInstance{}, err
		}
		return filters.FilterInstance{Stage: filters.StageResponse, ResponseFilter: f}, nil
	})
	registry.RegisterFactory(FQDNResponseRemoveHeader, func(settings map[string]string) (filters.FilterInstance, error) {
		f, err := newRemoveHeaderKeyRegex(settings)
		if err != nil {
			return filters.FilterInstance{}, err
		}
		return filters.FilterInstance{Stage: filters.StageResponse, ResponseFilter: f}, nil
	})
}
