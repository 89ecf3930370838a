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

package config

import "fmt"

// PluginRef binds a fully-qualified filter name to a sandboxed-component
// reference loaded from the filesystem.
type PluginRef struct {
	FQDN string
	Path string
}

// KeyProfile binds a fully-qualified name to a reusable key-selector
// choice, so multiple upstreams can share one profile by name.
type KeyProfile struct {
	FQDN     string
	Selector KeySelector
}

// DefinitionsTable is the process-wide, merge-on-load symbol table: named
// filter chains, extension-module references, key-selector profiles, and
// the set of filter identifiers the registry and discovered chains make
// available. Namespaces (the dotted prefixes of an FQDN) may be re-opened
// and merged freely across included files; a leaf definition — a chain, a
// plugin, or a key profile — collides on a duplicate FQDN and fails
// loudly. Building one of these is a single-threaded, startup-only
// operation; nothing here needs synchronization.
type DefinitionsTable struct {
	chains           map[string]*FilterChain
	plugins          map[string]*PluginRef
	keyProfiles      map[string]*KeyProfile
	availableFilters map[string]struct{}
}

// NewDefinitionsTable returns an empty table.
func NewDefinitionsTable() *DefinitionsTable {
	return &DefinitionsTable{
		chains:           make(map[string]*FilterChain),
		plugins:          make(map[string]*PluginRef),
		keyProfiles:      make(map[string]*KeyProfile),
		availableFilters: make(map[string]struct{}),
	}
}

// InsertChain registers a named chain. Duplicate FQDN is a hard error.
func (d *DefinitionsTable) InsertChain(fqdn string, chain *FilterChain) error {
	if _, exists := d.chains[fqdn]; exists {
		return fmt.Errorf("Duplicate chain definition across files: '%s'", fqdn)
	}
	d.chains[fqdn] = chain
	d.availableFilters[fqdn] = struct{}{}
	return nil
}

// InsertPlugin registers an extension-module reference. Duplicate FQDN is
// a hard error.
func (d *DefinitionsTable) InsertPlugin(fqdn, path string) error {
	if _, exists := d.plugins[fqdn]; exists {
		return fmt.Errorf("Duplicate plugin definition across files: '%s'", fqdn)
	}
	d.plugins[fqdn] = &PluginRef{FQDN: fqdn, Path: path}
	d.availableFilters[fqdn] = struct{}{}
	return nil
}

// InsertKeyProfile registers a reusable key-selector profile. Duplicate
// FQDN is a hard error.
func (d *DefinitionsTable) InsertKeyProfile(fqdn string, selector KeySelector) error {
	if _, exists := d.keyProfiles[fqdn]; exists {
		return fmt.Errorf("Duplicate key-selector definition across files: '%s'", fqdn)
	}
	d.keyProfiles[fqdn] = &KeyProfile{FQDN: fqdn, Selector: selector}
	return nil
}

// RegisterAvailableFilter marks fqdn as instantiable, independent of
// whether it came from a chain, a plugin, or a built-in registry entry.
func (d *DefinitionsTable) RegisterAvailableFilter(fqdn string) {
	d.availableFilters[fqdn] = struct{}{}
}

// Merge folds other into d, recursively at the namespace level (there is
// no namespace node here to recurse over — the FQDN keys already encode
// the full dotted path — so "recursive namespace merge" reduces to a
// flat-map merge with leaf-collision detection, which is the same
// contract the document namespace tree has to honor regardless of
// representation).
func (d *DefinitionsTable) Merge(other *DefinitionsTable) error {
	for fqdn, c := range other.chains {
		if err := d.InsertChain(fqdn, c); err != nil {
			return err
		}
	}
	for fqdn, p := range other.plugins {
		if err := d.InsertPlugin(fqdn, p.Path); err != nil {
			return err
		}
	}
	for fqdn, k := range other.keyProfiles {
		if err := d.InsertKeyProfile(fqdn, k.Selector); err != nil {
			return err
		}
	}
	for fqdn := range other.availableFilters {
		d.availableFilters[fqdn] = struct{}{}
	}
	return nil
}

// ResolveChain looks up a named chain by FQDN.
func (d *DefinitionsTable) ResolveChain(fqdn string) (*FilterChain, error) {
	c, ok := d.chains[fqdn]
	if !ok {
		return nil, fmt.Errorf("unknown chain: %s", fqdn)
	}
	return c, nil
}

// Plugin looks up a registered extension-module reference by FQDN.
func (d *DefinitionsTable) Plugin(fqdn string) (*PluginRef, bool) {
	p, ok := d.plugins[fqdn]
	return p, ok
}

// Plugins returns every registered extension-module reference, for
// callers that need to load them all at startup rather than look one up
// by name.
func (d *DefinitionsTable) Plugins() map[string]*PluginRef {
	return d.plugins
}

// AvailableFilters returns the set of FQDNs known to be instantiable.
func (d *DefinitionsTable) AvailableFilters() map[string]struct{} {
	return d.availableFilters
}
