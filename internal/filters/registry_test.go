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

import "testing"

func TestRegistryBuildUnknownFQDN(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Build("nobody.filters.x", nil); err == nil {
		t.Fatal("expected an error building an unregistered filter")
	}
}

func TestRegistryHasReflectsRegisteredFactories(t *testing.T) {
	r := NewRegistry()
	if r.Has("demo.echo") {
		t.Fatal("Has should report false before registration")
	}
	r.RegisterFactory("demo.echo", func(map[string]string) (FilterInstance, error) {
		return FilterInstance{Stage: StageRequest}, nil
	})
	if !r.Has("demo.echo") {
		t.Fatal("Has should report true after registration")
	}
}

func TestRegistryBuildInvokesFactoryWithSettings(t *testing.T) {
	r := NewRegistry()
	var gotSettings map[string]string
	r.RegisterFactory("demo.echo", func(settings map[string]string) (FilterInstance, error) {
		gotSettings = settings
		return FilterInstance{Stage: StageRequest}, nil
	})
	settings := map[string]string{"key": "value"}
	if _, err := r.Build("demo.echo", settings); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if gotSettings["key"] != "value" {
		t.Fatalf("factory received settings %v, want %v", gotSettings, settings)
	}
}
