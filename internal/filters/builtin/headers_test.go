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
	"testing"

	"parapet/internal/filters"
)

func TestNewUpsertHeaderRequiresKeyAndValue(t *testing.T) {
	if _, err := newUpsertHeader(map[string]string{"value": "v"}); err == nil {
		t.Fatal("expected an error when 'key' is missing")
	}
	if _, err := newUpsertHeader(map[string]string{"key": "k"}); err == nil {
		t.Fatal("expected an error when 'value' is missing")
	}
}

func TestNewUpsertHeaderRejectsUnknownSettings(t *testing.T) {
	_, err := newUpsertHeader(map[string]string{"key": "k", "value": "v", "bogus": "x"})
	if err == nil {
		t.Fatal("expected an error for an unknown setting")
	}
}

func TestUpsertHeaderReplacesExisting(t *testing.T) {
	u, err := newUpsertHeader(map[string]string{"key": "X-Test", "value": "new"})
	if err != nil {
		t.Fatalf("newUpsertHeader: %v", err)
	}
	req := &filters.Request{Headers: map[string][]string{"X-Test": {"old"}}}
	proceed, err := u.ApplyRequest(req)
	if err != nil || !proceed {
		t.Fatalf("ApplyRequest = (%v, %v)", proceed, err)
	}
	if got := req.Headers["X-Test"]; len(got) != 1 || got[0] != "new" {
		t.Fatalf("X-Test = %v, want [\"new\"]", got)
	}
}

func TestNewRemoveHeaderKeyRegexRequiresPattern(t *testing.T) {
	if _, err := newRemoveHeaderKeyRegex(map[string]string{}); err == nil {
		t.Fatal("expected an error when 'pattern' is missing")
	}
}

func TestNewRemoveHeaderKeyRegexRejectsInvalidPattern(t *testing.T) {
	if _, err := newRemoveHeaderKeyRegex(map[string]string{"pattern": "("}); err == nil {
		t.Fatal("expected an error for an invalid regex")
	}
}

func TestNewRemoveHeaderKeyRegexRejectsUnknownSettings(t *testing.T) {
	_, err := newRemoveHeaderKeyRegex(map[string]string{"pattern": ".*", "extra": "1"})
	if err == nil {
		t.Fatal("expected an error for an unknown setting")
	}
}

func TestRemoveHeaderKeyRegexDeletesMatches(t *testing.T) {
	r, err := newRemoveHeaderKeyRegex(map[string]string{"pattern": "^X-Debug"})
	if err != nil {
		t.Fatalf("newRemoveHeaderKeyRegex: %v", err)
	}
	req := &filters.Request{Headers: map[string][]string{
		"X-Debug-Id": {"1"},
		"X-Keep":     {"yes"},
	}}
	if _, err := r.ApplyRequest(req); err != nil {
		t.Fatalf("ApplyRequest: %v", err)
	}
	if _, ok := req.Headers["X-Debug-Id"]; ok {
		t.Fatal("X-Debug-Id should have been removed")
	}
	if _, ok := req.Headers["X-Keep"]; !ok {
		t.Fatal("X-Keep should have survived")
	}
}

func TestRegisterWiresAllFactories(t *testing.T) {
	registry := filters.NewRegistry()
	Register(registry)
	for _, fqdn := range []string{
		FQDNBlockCIDRRange,
		FQDNRequestUpsertHeader,
		FQDNRequestRemoveHeader,
		FQDNResponseUpsertHeader,
		FQDNResponseRemoveHeader,
	} {
		if !registry.Has(fqdn) {
			t.Fatalf("Register did not wire %s", fqdn)
		}
	}
}
