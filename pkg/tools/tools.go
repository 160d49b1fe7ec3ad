// Copyright 2026 The CareLoop Authors
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

// Package tools provides the tool registry and the uniform execution
// boundary over heterogeneous external tools.
//
// The registry boundary never raises: every execution returns either a
// tool-specific map or an error-shaped map {"error": "..."}. Clinician-safe
// wording is the executor's job; the registry only guarantees the shape.
package tools

import (
	"context"
	"strings"
	"time"
)

// SentinelNone is the tool name meaning "no tool needed".
const SentinelNone = "none"

// ArgSpec describes one argument of a tool's schema.
type ArgSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// ExecutorFunc runs a tool. Implementations convert internal failures to
// an error return; they never panic by contract, and the registry catches
// panics anyway.
type ExecutorFunc func(ctx context.Context, args map[string]any) (map[string]any, error)

// Definition is one registered tool.
type Definition struct {
	// Name is the unique registry key.
	Name string `json:"name"`

	// Label is the clinician-facing name ("drug safety lookup").
	Label string `json:"label"`

	// Description is the short human description used in prompt listings.
	Description string `json:"description"`

	// Args is the argument schema in critical-first order.
	Args []ArgSpec `json:"args"`

	// Remap renames schema-field names to executor-parameter names.
	Remap map[string]string `json:"remap,omitempty"`

	// Execute is the async executor.
	Execute ExecutorFunc `json:"-"`
}

// ErrorCategory classifies a failed tool execution.
type ErrorCategory string

const (
	ErrorTransport  ErrorCategory = "transport"
	ErrorValidation ErrorCategory = "validation"
	ErrorNotFound   ErrorCategory = "not_found"
	ErrorInternal   ErrorCategory = "internal"
	ErrorRejected   ErrorCategory = "rejected"
)

// Result is the per-turn record of one completed tool execution.
// Results are created once in the execute node, appended to the turn's
// append-only list, and never mutated.
type Result struct {
	ToolName      string         `json:"tool_name"`
	Label         string         `json:"label"`
	Args          map[string]any `json:"args,omitempty"`
	Raw           map[string]any `json:"raw,omitempty"`
	Formatted     string         `json:"formatted,omitempty"`
	Success       bool           `json:"success"`
	ErrorCategory ErrorCategory  `json:"error_category,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	Duration      time.Duration  `json:"duration,omitempty"`
}

// CategorizeError maps an executor error message to a category.
// Transport wording comes first: a timeout mentioning an identifier must
// still classify as transport.
func CategorizeError(msg string) ErrorCategory {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "timed out"),
		strings.Contains(lower, "timeout"),
		strings.Contains(lower, "deadline"),
		strings.Contains(lower, "connection"),
		strings.Contains(lower, "unavailable"),
		strings.Contains(lower, "server error"),
		strings.Contains(lower, "status 5"):
		return ErrorTransport
	case strings.Contains(lower, "missing"),
		strings.Contains(lower, "invalid"),
		strings.Contains(lower, "unexpected argument"),
		strings.Contains(lower, "ambiguous"):
		return ErrorValidation
	case strings.Contains(lower, "not found"),
		strings.Contains(lower, "no results"),
		strings.Contains(lower, "no records"):
		return ErrorNotFound
	case strings.Contains(lower, "rejected"),
		strings.Contains(lower, "declined"):
		return ErrorRejected
	default:
		return ErrorInternal
	}
}
