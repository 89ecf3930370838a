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

package router

import "testing"

func TestRoutingModes(t *testing.T) {
	r := New[string]()
	r.Insert(Route[string]{Path: "/health", Kind: MatchExact, Upstream: "/health"})
	r.Insert(Route[string]{Path: "/api", Kind: MatchPrefix, Upstream: "/api"})
	r.Insert(Route[string]{Path: "/", Kind: MatchPrefix, Upstream: "/"})

	cases := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/health/foo", "/"},
		{"/api/users", "/api"},
		{"/api", "/api"},
		{"/random/stuff", "/"},
	}
	for _, c := range cases {
		got, ok := r.Lookup(c.path)
		if !ok {
			t.Errorf("Lookup(%q): no match, want %q", c.path, c.want)
			continue
		}
		if got != c.want {
			t.Errorf("Lookup(%q) = %q, want %q", c.path, got, c.want)
		}
	}
}

func TestExplicitWildcard(t *testing.T) {
	r := New[string]()
	r.Insert(Route[string]{Path: "/custom/{*foo}", Kind: MatchExact, Upstream: "/custom/{*foo}"})

	got, ok := r.Lookup("/custom/bar")
	if !ok || got != "/custom/{*foo}" {
		t.Fatalf("Lookup(/custom/bar) = (%q, %v), want (/custom/{*foo}, true)", got, ok)
	}
}

func TestRouterDeterminism(t *testing.T) {
	insertionOrders := [][]Route[string]{
		{
			{Path: "/a", Kind: MatchExact, Upstream: "exact-a"},
			{Path: "/a", Kind: MatchPrefix, Upstream: "prefix-a"},
		},
		{
			{Path: "/a", Kind: MatchPrefix, Upstream: "prefix-a"},
			{Path: "/a", Kind: MatchExact, Upstream: "exact-a"},
		},
	}
	for _, routes := range insertionOrders {
		r := New[string]()
		for _, route := range routes {
			r.Insert(route)
		}
		got, ok := r.Lookup("/a")
		if !ok || got != "exact-a" {
			t.Fatalf("exact must win regardless of insertion order, got (%q, %v)", got, ok)
		}
	}
}

func TestLookupMiss(t *testing.T) {
	r := New[string]()
	r.Insert(Route[string]{Path: "/api", Kind: MatchPrefix, Upstream: "/api"})
	if _, ok := r.Lookup("/nowhere"); ok {
		t.Fatal("expected a miss with no root fallback registered")
	}
}
