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

// Package kdl implements a small, hand-rolled lexer and recursive-descent
// parser for the node-based configuration document format: nodes with
// positional arguments and key=value properties, nestable `{ }` blocks,
// and `//` line comments.
package kdl

// Position is a span anchor for diagnostics.
type Position struct {
	Line uint32
	Char uint32
}

// Arg is one positional argument of a node: either a bare word or a
// quoted string, with the surrounding quotes already stripped.
type Arg struct {
	Value string
	Pos   Position
}

// Prop is one key=value property of a node.
type Prop struct {
	Key   string
	Value string
	Pos   Position
}

// Node is one `name arg... key=val... { children }` document node.
type Node struct {
	Name     string
	Args     []Arg
	Props    []Prop
	Children []*Node
	Pos      Position
}

// Document is a fully parsed top-level node list for one source file.
type Document struct {
	Nodes []*Node
	Path  string
}

// Prop looks up a property by key; ok is false when absent.
func (n *Node) Prop(key string) (string, bool) {
	for _, p := range n.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Child returns the first direct child node with the given name, or nil.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all direct children with the given name, in
// document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
