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

package orchestrator

import "parapet/internal/filters"

// reqContext is the per-request working state the orchestrator carries
// through its state machine. One is allocated per request, owned
// exclusively by the goroutine serving it, and discarded at Done — never
// placed in a shared map or reused across requests.
type reqContext struct {
	req     filters.Request
	scratch []byte // balancer selector key buffer, reused across this request's single Pick call

	group    *routeGroup
	peer     string
	peerIdx  int
	rewritten string
	rawQuery string
}

func newReqContext(method, path, sourceAddr, rawQuery string, header map[string][]string) *reqContext {
	return &reqContext{
		req: filters.Request{
			Method:     method,
			Path:       path,
			SourceAddr: sourceAddr,
			Headers:    header,
		},
		rawQuery: rawQuery,
		scratch:  make([]byte, 0, 128),
	}
}
