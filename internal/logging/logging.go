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

// Package logging provides the small leveled-print logger used across the
// proxy. It deliberately stays on top of the standard library's "log"
// package instead of a structured logging framework: every call site wants
// a timestamped line on stderr, not fields or sinks.
package logging

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level controls which calls to Debugf actually print.
type Level int32

const (
	LevelInfo Level = iota
	LevelDebug
)

var (
	level  atomic.Int32
	std    = log.New(os.Stderr, "", log.LstdFlags)
)

// SetLevel adjusts the process-wide log level. Safe to call concurrently.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// Infof logs an informational line. Always printed.
func Infof(format string, args ...any) {
	std.Print("INFO  " + fmt.Sprintf(format, args...))
}

// Errorf logs an error line. Always printed.
func Errorf(format string, args ...any) {
	std.Print("ERROR " + fmt.Sprintf(format, args...))
}

// Debugf logs a debug line, suppressed unless the level is LevelDebug.
func Debugf(format string, args ...any) {
	if Level(level.Load()) != LevelDebug {
		return
	}
	std.Print("DEBUG " + fmt.Sprintf(format, args...))
}

// Fatalf logs an error line and terminates the process with a non-zero
// exit code. Only ever called from startup (config load, listener bind) —
// never from per-request code, which must contain its errors to the
// request instead.
func Fatalf(format string, args ...any) {
	std.Fatal("FATAL " + fmt.Sprintf(format, args...))
}
