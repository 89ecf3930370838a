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

package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPForwarderForwardsRequest(t *testing.T) {
	var gotPath, gotMethod, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path + "?" + r.URL.RawQuery
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Test")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	f := NewHTTPForwarder(time.Second, 5*time.Second)
	header := http.Header{"X-Test": {"value"}}
	resp, err := f.Forward(context.Background(), srv.URL, http.MethodPost, "/echo?x=1", header, nil)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if gotMethod != http.MethodPost {
		t.Fatalf("method = %q, want %q", gotMethod, http.MethodPost)
	}
	if gotPath != "/echo?x=1" {
		t.Fatalf("path = %q, want %q", gotPath, "/echo?x=1")
	}
	if gotHeader != "value" {
		t.Fatalf("X-Test header = %q, want %q", gotHeader, "value")
	}
}

func TestHTTPForwarderWrapsConnectFailure(t *testing.T) {
	f := NewHTTPForwarder(50*time.Millisecond, time.Second)
	_, err := f.Forward(context.Background(), "127.0.0.1:1", http.MethodGet, "/", http.Header{}, nil)
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("error %v does not wrap ErrConnect", err)
	}
}

func TestPeerURLNormalization(t *testing.T) {
	cases := map[string]string{
		"example.com:8080":       "http://example.com:8080",
		"http://example.com:80":  "http://example.com:80",
		"https://example.com":    "https://example.com",
	}
	for in, want := range cases {
		if got := peerURL(in); got != want {
			t.Fatalf("peerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestIsConnErrorDetectsNetErrors(t *testing.T) {
	f := NewHTTPForwarder(50*time.Millisecond, time.Second)
	_, err := f.Forward(context.Background(), "127.0.0.1:1", http.MethodGet, "/", http.Header{}, nil)
	if err == nil {
		t.Fatal("expected a connection error")
	}
	if !strings.Contains(err.Error(), "upstream connect failed") {
		t.Fatalf("error %v does not mention the connect-failure wrapper", err)
	}
}
