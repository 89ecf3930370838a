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
	"errors"
	"fmt"

	"parapet/internal/config/kdl"
)

// LoadError wraps any failure encountered while loading or parsing a
// configuration document: an unreadable file, a parse failure, an unknown
// section, a duplicate leaf definition, a missing required subsection, or
// an invalid numeric/regex/enum value. The file path and, when available,
// the source span are carried along so the caller can print a diagnostic
// anchored to the offending token.
type LoadError struct {
	Path string
	Pos  *kdl.Position
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	loc := e.Path
	if e.Pos != nil {
		loc = fmt.Sprintf("%s:%d:%d", e.Path, e.Pos.Line+1, e.Pos.Char+1)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", loc, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", loc, e.Msg)
}

func (e *LoadError) Unwrap() error { return e.Err }

func errAt(path string, pos kdl.Position, format string, args ...any) error {
	p := pos
	return &LoadError{Path: path, Pos: &p, Msg: fmt.Sprintf(format, args...)}
}

func errIn(path string, format string, args ...any) error {
	return &LoadError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// ErrNoConnectors is returned when a service's connectors block is empty.
var ErrNoConnectors = errors.New("we require at least one connector")
