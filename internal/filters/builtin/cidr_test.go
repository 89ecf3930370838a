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

func TestNewCIDRRangeFilterRequiresRanges(t *testing.T) {
	if _, err := NewCIDRRangeFilter(map[string]string{}); err == nil {
		t.Fatal("expected an error when 'ranges' is missing")
	}
}

func TestNewCIDRRangeFilterRejectsInvalidCIDR(t *testing.T) {
	if _, err := NewCIDRRangeFilter(map[string]string{"ranges": "not-a-cidr"}); err == nil {
		t.Fatal("expected an error for an invalid CIDR")
	}
}

func TestCIDRRangeFilterBlocksMatchingSource(t *testing.T) {
	f, err := NewCIDRRangeFilter(map[string]string{"ranges": "10.0.0.0/8, 192.168.1.0/24"})
	if err != nil {
		t.Fatalf("NewCIDRRangeFilter: %v", err)
	}
	cases := []struct {
		addr string
		want bool
	}{
		{"10.1.2.3", false},
		{"192.168.1.5", false},
		{"8.8.8.8", true},
	}
	for _, c := range cases {
		allow, err := f.Apply(&filters.Request{SourceAddr: c.addr})
		if err != nil {
			t.Fatalf("Apply(%s): %v", c.addr, err)
		}
		if allow != c.want {
			t.Fatalf("Apply(%s) allow = %v, want %v", c.addr, allow, c.want)
		}
	}
}

func TestCIDRRangeFilterFailsOpenOnMalformedSource(t *testing.T) {
	f, err := NewCIDRRangeFilter(map[string]string{"ranges": "10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewCIDRRangeFilter: %v", err)
	}
	allow, err := f.Apply(&filters.Request{SourceAddr: "not-an-address"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !allow {
		t.Fatal("expected fail-open (allow=true) for a malformed source address")
	}
}

func TestCIDRRangeFilterHandlesSourceWithPort(t *testing.T) {
	f, err := NewCIDRRangeFilter(map[string]string{"ranges": "10.0.0.0/8"})
	if err != nil {
		t.Fatalf("NewCIDRRangeFilter: %v", err)
	}
	allow, err := f.Apply(&filters.Request{SourceAddr: "10.1.2.3:54321"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if allow {
		t.Fatal("expected block for an in-range source address with a port suffix")
	}
}
