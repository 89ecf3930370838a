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

import (
	"os"
	"path/filepath"

	"parapet/internal/config/kdl"
)

// FileProvider reads the raw bytes of a configuration file. Abstracted so
// tests can load from memory instead of the real filesystem.
type FileProvider interface {
	ReadFile(path string) ([]byte, error)
}

// osFileProvider reads from the real filesystem.
type osFileProvider struct{}

func (osFileProvider) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// Loader recursively resolves includes starting from an entry-point file
// and builds the final, immutable Config. Grounded on the two-phase
// load-then-build shape: load_recursive collects an ordered document list
// (breaking cycles via a visited-path set, entry point pushed last),
// then build_config does a definitions-merge pass followed by a
// services pass, with the *entry point's* system section winning.
type Loader struct {
	files     FileProvider
	visited   map[string]bool
	documents []*kdl.Document
}

// NewLoader returns a Loader reading from the real filesystem.
func NewLoader() *Loader {
	return &Loader{files: osFileProvider{}, visited: make(map[string]bool)}
}

// NewLoaderWithFiles returns a Loader reading through the given provider,
// for tests.
func NewLoaderWithFiles(files FileProvider) *Loader {
	return &Loader{files: files, visited: make(map[string]bool)}
}

// Load resolves entryPath and every file it includes (recursively),
// builds the definitions table and services, and returns the finished
// Config.
func (l *Loader) Load(entryPath string) (*Config, error) {
	if err := l.loadRecursive(entryPath); err != nil {
		return nil, err
	}
	if len(l.documents) == 0 {
		return nil, errIn(entryPath, "no documents loaded")
	}
	return l.buildConfig()
}

// loadRecursive reads path, parses it, recurses into its includes
// (resolved relative to path's directory), and finally appends path's own
// document to the ordered list — so the entry point always ends up last
// and every include is visited (and contributes its nodes) exactly once.
func (l *Loader) loadRecursive(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errIn(path, "cannot resolve path: %v", err)
	}
	if l.visited[abs] {
		return nil
	}
	l.visited[abs] = true

	raw, err := l.files.ReadFile(path)
	if err != nil {
		return errIn(path, "cannot read file: %v", err)
	}
	doc, err := kdl.Parse(path, string(raw))
	if err != nil {
		return &LoadError{Path: path, Msg: "parse failure", Err: err}
	}

	if incNode := findTop(doc, "includes"); incNode != nil {
		base := filepath.Dir(abs)
		for _, inc := range parseIncludesSection(incNode) {
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(base, incPath)
			}
			if _, err := l.files.ReadFile(incPath); err != nil {
				return errIn(path, "include not found: '%s'", inc)
			}
			if err := l.loadRecursive(incPath); err != nil {
				return err
			}
		}
	}

	l.documents = append(l.documents, doc)
	return nil
}

func findTop(doc *kdl.Document, name string) *kdl.Node {
	for _, n := range doc.Nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// buildConfig runs the definitions-merge pass across every document, then
// the services pass, then resolves chain references against the merged
// table. Only the entry point's (last document's) system section is
// consulted.
func (l *Loader) buildConfig() (*Config, error) {
	cfg := &Config{}
	entry := l.documents[len(l.documents)-1]
	if err := parseSystemSection(entry.Path, findTop(entry, "system"), cfg); err != nil {
		return nil, err
	}

	global := NewDefinitionsTable()
	for _, doc := range l.documents {
		if defNode := findTop(doc, "definitions"); defNode != nil {
			table, err := parseDefinitionsSection(doc.Path, defNode)
			if err != nil {
				return nil, err
			}
			if err := global.Merge(table); err != nil {
				return nil, &LoadError{Path: doc.Path, Msg: err.Error()}
			}
		}
	}

	serviceAcc := make(map[string]*serviceSections)
	var serviceOrder []string
	for _, doc := range l.documents {
		svcsNode := findTop(doc, "services")
		if svcsNode == nil {
			continue
		}
		for _, svc := range svcsNode.Children {
			acc, ok := serviceAcc[svc.Name]
			if !ok {
				acc = newServiceSections(svc.Name)
				serviceAcc[svc.Name] = acc
				serviceOrder = append(serviceOrder, svc.Name)
			}
			if err := acc.addFrom(doc.Path, svc); err != nil {
				return nil, err
			}
		}
	}

	for _, name := range serviceOrder {
		acc := serviceAcc[name]
		isProxy, err := acc.classify(entry.Path)
		if err != nil {
			return nil, err
		}
		if isProxy {
			proxy, err := buildProxyConfig(entry.Path, name, acc, global)
			if err != nil {
				return nil, err
			}
			cfg.Proxies = append(cfg.Proxies, proxy)
		} else {
			fs, err := buildFileServerConfig(entry.Path, name, acc)
			if err != nil {
				return nil, err
			}
			cfg.FileServers = append(cfg.FileServers, fs)
		}
	}
	if err := validateListenerUniqueness(entry.Path, cfg); err != nil {
		return nil, err
	}

	cfg.Definitions = global
	return cfg, nil
}

// validateListenerUniqueness checks, across every proxy and file-server
// service in the process, that no two listeners bind the same (Kind,
// Addr) pair — a second net.Listen on the same TCP address or Unix
// socket path fails at the OS level regardless of which service declared
// it, so the check must run process-wide rather than per-service.
func validateListenerUniqueness(path string, cfg *Config) error {
	seen := make(map[Listener]string)
	check := func(svcName string, listeners []Listener) error {
		for _, l := range listeners {
			key := Listener{Kind: l.Kind, Addr: l.Addr}
			if owner, exists := seen[key]; exists {
				return errIn(path, "listener %s reused by service '%s' and service '%s'", l.Addr, owner, svcName)
			}
			seen[key] = svcName
		}
		return nil
	}
	for _, p := range cfg.Proxies {
		if err := check(p.Name, p.Listeners); err != nil {
			return err
		}
	}
	for _, fs := range cfg.FileServers {
		if err := check(fs.Name, fs.Listeners); err != nil {
			return err
		}
	}
	return nil
}

func buildProxyConfig(path, name string, acc *serviceSections, defs *DefinitionsTable) (*ProxyConfig, error) {
	listeners, err := parseListeners(path, acc.sections["listeners"])
	if err != nil {
		return nil, err
	}
	if len(listeners) == 0 {
		return nil, errIn(path, "proxy service '%s' requires at least one listener", name)
	}
	connectors, err := parseConnectors(path, acc.sections["connectors"], defs)
	if err != nil {
		return nil, err
	}
	pathControl, err := parsePathControl(path, acc.sections["path-control"])
	if err != nil {
		return nil, err
	}
	rateLimits, err := parseRateLimiting(path, acc.sections["rate-limiting"])
	if err != nil {
		return nil, err
	}
	if err := validateChainRefs(path, connectors, defs); err != nil {
		return nil, err
	}
	return &ProxyConfig{
		Name:        name,
		Listeners:   listeners,
		Connectors:  connectors,
		PathControl: pathControl,
		RateLimits:  rateLimits,
	}, nil
}

// validateChainRefs checks that every ChainRef on every upstream resolves
// in either the global definitions table or the connector's own anonymous
// chain map — "every referenced name exists in the definitions table at
// build time" applies to both.
func validateChainRefs(path string, connectors *Connectors, defs *DefinitionsTable) error {
	for _, up := range connectors.Upstreams {
		for _, ref := range up.Chains {
			if _, ok := connectors.AnonymousChains[string(ref)]; ok {
				continue
			}
			if _, err := defs.ResolveChain(string(ref)); err != nil {
				return errIn(path, "unknown chain: %s", ref)
			}
		}
	}
	return nil
}

func buildFileServerConfig(path, name string, acc *serviceSections) (*FileServerConfig, error) {
	listeners, err := parseListeners(path, acc.sections["listeners"])
	if err != nil {
		return nil, err
	}
	root := "."
	if fs := acc.sections["file-server"]; fs != nil {
		if r, ok := fs.Prop("root"); ok {
			root = r
		}
	}
	return &FileServerConfig{Name: name, Listeners: listeners, Root: root}, nil
}
