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
	"errors"
	"testing"
)

type stubAction struct {
	allow bool
	err   error
}

func (s stubAction) Apply(*Request) (bool, error) { return s.allow, s.err }

type stubRequestFilter struct {
	proceed bool
	err     error
	mutate  func(*Request)
}

func (s stubRequestFilter) ApplyRequest(req *Request) (bool, error) {
	if s.mutate != nil {
		s.mutate(req)
	}
	return s.proceed, s.err
}

func TestResolverBuildUnknownFilterFails(t *testing.T) {
	resolver := NewResolver(NewRegistry())
	_, err := resolver.Build([]ConfiguredEntry{{FQDN: "missing.filter"}})
	if err == nil {
		t.Fatal("expected an error resolving an unknown filter")
	}
	var resolveErr *ResolveError
	if !errors.As(err, &resolveErr) {
		t.Fatalf("error %v is not a *ResolveError", err)
	}
	if resolveErr.FQDN != "missing.filter" {
		t.Fatalf("ResolveError.FQDN = %q, want %q", resolveErr.FQDN, "missing.filter")
	}
}

func TestResolverBuildEmptyChain(t *testing.T) {
	resolver := NewResolver(NewRegistry())
	chain, err := resolver.Build(nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(chain.Instances) != 0 {
		t.Fatalf("expected an empty chain, got %d instances", len(chain.Instances))
	}
}

func TestRunRequestStopsAtFirstBlock(t *testing.T) {
	registry := NewRegistry()
	var ran []string
	registry.RegisterFactory("a", func(map[string]string) (FilterInstance, error) {
		return FilterInstance{Stage: StageAction, Action: stubAction{allow: true}}, nil
	})
	registry.RegisterFactory("block", func(map[string]string) (FilterInstance, error) {
		return FilterInstance{Stage: StageRequest, RequestFilter: stubRequestFilter{
			proceed: false,
			mutate:  func(*Request) { ran = append(ran, "block") },
		}}, nil
	})
	registry.RegisterFactory("c", func(map[string]string) (FilterInstance, error) {
		return FilterInstance{Stage: StageRequest, RequestFilter: stubRequestFilter{
			proceed: true,
			mutate:  func(*Request) { ran = append(ran, "c") },
		}}, nil
	})

	resolver := NewResolver(registry)
	chain, err := resolver.Build([]ConfiguredEntry{{FQDN: "a"}, {FQDN: "block"}, {FQDN: "c"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	proceed, err := chain.RunRequest(&Request{})
	if err != nil {
		t.Fatalf("RunRequest: %v", err)
	}
	if proceed {
		t.Fatal("expected RunRequest to report blocked")
	}
	if len(ran) != 1 || ran[0] != "block" {
		t.Fatalf("filters ran after the block: %v", ran)
	}
}

func TestRunRequestPropagatesError(t *testing.T) {
	registry := NewRegistry()
	wantErr := errors.New("boom")
	registry.RegisterFactory("a", func(map[string]string) (FilterInstance, error) {
		return FilterInstance{Stage: StageRequest, RequestFilter: stubRequestFilter{err: wantErr}}, nil
	})
	resolver := NewResolver(registry)
	chain, err := resolver.Build([]ConfiguredEntry{{FQDN: "a"}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_, err = chain.RunRequest(&Request{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunRequest error = %v, want %v", err, wantErr)
	}
}

func TestConcatPreservesOrder(t *testing.T) {
	var order []string
	mk := func(name string) RuntimeChain {
		return RuntimeChain{Instances: []FilterInstance{{
			Stage: StageRequest,
			RequestFilter: stubRequestFilter{proceed: true, mutate: func(*Request) {
				order = append(order, name)
			}},
		}}}
	}
	combined := Concat(mk("first"), mk("second"))
	if _, err := combined.RunRequest(&Request{}); err != nil {
		t.Fatalf("RunRequest: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("Concat did not preserve order: %v", order)
	}
}
