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

// Package sandbox hosts user-supplied filter components compiled to
// WebAssembly. Each component is loaded from a filesystem path declared
// in the definitions table's plugins section, and wrapped in a
// single-writer lock: the host serializes calls into a component the
// same way a component's own state would not survive concurrent access.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"parapet/internal/logging"
)

// GuestRequest is the narrow view of a request handed across the ABI
// boundary: a path, a method, and a flattened header list.
type GuestRequest struct {
	Path    string       `json:"path"`
	Method  string       `json:"method"`
	Headers []GuestEntry `json:"headers"`
}

// GuestEntry is one header name/value pair.
type GuestEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Module wraps one loaded, instantiated guest component. Calls are
// serialized through a mutex: exactly one concurrent call_filter
// invocation per instance.
type Module struct {
	mu       sync.Mutex
	runtime  wazero.Runtime
	instance api.Module
	callFn   api.Function
	allocFn  api.Function
	name     string
}

// Host owns the wazero runtime shared by every loaded component and the
// registered logger host functions.
type Host struct {
	ctx     context.Context
	runtime wazero.Runtime
	logMod  api.Module
}

// NewHost builds a fresh wazero runtime and registers the narrow host
// surface every guest component can import: a logger namespace with
// info/debug/error(message).
func NewHost(ctx context.Context) (*Host, error) {
	runtime := wazero.NewRuntime(ctx)

	logFn := func(level string) func(context.Context, api.Module, uint32, uint32) {
		return func(_ context.Context, mod api.Module, ptr, length uint32) {
			buf, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			msg := string(buf)
			switch level {
			case "info":
				logging.Infof("[extension %s] %s", mod.Name(), msg)
			case "error":
				logging.Errorf("[extension %s] %s", mod.Name(), msg)
			default:
				logging.Debugf("[extension %s] %s", mod.Name(), msg)
			}
		}
	}

	builder := runtime.NewHostModuleBuilder("river:request/logger")
	builder.NewFunctionBuilder().WithFunc(logFn("info")).Export("info")
	builder.NewFunctionBuilder().WithFunc(logFn("debug")).Export("debug")
	builder.NewFunctionBuilder().WithFunc(logFn("error")).Export("error")
	logMod, err := builder.Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("sandbox: registering logger host module: %w", err)
	}

	return &Host{ctx: ctx, runtime: runtime, logMod: logMod}, nil
}

// Close releases the shared runtime and every module instantiated
// through it.
func (h *Host) Close() error {
	return h.runtime.Close(h.ctx)
}

// Load compiles and instantiates the component at wasmBytes under name.
// The guest is expected to export `call_filter(ptr, len) -> i32` (the
// request, JSON-encoded, written into guest memory at a location
// returned by its exported `alloc(size) -> ptr`). Both exports are
// required; a `dealloc` export is not used.
func (h *Host) Load(name string, wasmBytes []byte) (*Module, error) {
	compiled, err := h.runtime.CompileModule(h.ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compiling component '%s': %w", name, err)
	}
	cfg := wazero.NewModuleConfig().WithName(name)
	instance, err := h.runtime.InstantiateModule(h.ctx, compiled, cfg)
	if err != nil {
		return nil, fmt.Errorf("sandbox: instantiating component '%s': %w", name, err)
	}
	callFn := instance.ExportedFunction("call_filter")
	if callFn == nil {
		return nil, fmt.Errorf("sandbox: component '%s' does not export call_filter", name)
	}
	allocFn := instance.ExportedFunction("alloc")
	if allocFn == nil {
		return nil, fmt.Errorf("sandbox: component '%s' does not export alloc", name)
	}
	return &Module{runtime: h.runtime, instance: instance, callFn: callFn, allocFn: allocFn, name: name}, nil
}

// CallFilter invokes the guest's call_filter export with req, returning
// true to proceed and false to short-circuit with the configured
// default. Exactly one call runs at a time per Module.
func (m *Module) CallFilter(ctx context.Context, req GuestRequest) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	payload, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("sandbox: encoding request for '%s': %w", m.name, err)
	}

	allocResults, err := m.allocFn.Call(ctx, uint64(len(payload)))
	if err != nil {
		return false, fmt.Errorf("sandbox: alloc in '%s': %w", m.name, err)
	}
	ptr := uint32(allocResults[0])

	if !m.instance.Memory().Write(ptr, payload) {
		return false, fmt.Errorf("sandbox: writing request into '%s' memory out of bounds", m.name)
	}

	results, err := m.callFn.Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return false, fmt.Errorf("sandbox: call_filter in '%s': %w", m.name, err)
	}
	if len(results) == 0 {
		return false, fmt.Errorf("sandbox: call_filter in '%s' returned no result", m.name)
	}
	return results[0] != 0, nil
}

// Close releases this module's instance. The shared runtime outlives it.
func (m *Module) Close(ctx context.Context) error {
	return m.instance.Close(ctx)
}
