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

// outcome tags why a request left the pipeline early, for status-code
// mapping and logging. Zero value (outcomeNone) means the pipeline ran
// to Done normally.
type outcome int

const (
	outcomeNone outcome = iota
	outcomeMalformed
	outcomeFilterError
	outcomePreFilterBlock
	outcomeRateLimited
	outcomeRouteMiss
	outcomeUpstreamFilterError
	outcomeUpstreamShortCircuit
	outcomeUpstreamError
	outcomeUpstreamTimeout
)

// statusFor maps an outcome to the HTTP status spec.md's state table
// assigns it. A PreFilter short-circuit (e.g. a CIDR block) is a client-
// facing rejection and maps to 403; a short-circuit at either upstream
// filter stage happens after routing has committed to a peer and maps to
// 502 like the stage's other failure modes.
func statusFor(o outcome) int {
	switch o {
	case outcomeMalformed:
		return 400
	case outcomeFilterError:
		return 500
	case outcomePreFilterBlock:
		return 403
	case outcomeRateLimited:
		return 429
	case outcomeRouteMiss:
		return 404
	case outcomeUpstreamFilterError, outcomeUpstreamShortCircuit, outcomeUpstreamError:
		return 502
	case outcomeUpstreamTimeout:
		return 504
	default:
		return 500
	}
}
