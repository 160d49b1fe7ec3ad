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

// Package events defines the typed event stream a turn emits to its
// observers.
package events

import (
	"time"

	"github.com/careloop/careloop/pkg/tools"
)

// Kind discriminates event payloads on the wire.
type Kind string

const (
	KindNodeStart           Kind = "node_start"
	KindNodeEnd             Kind = "node_end"
	KindToolApprovalRequest Kind = "tool_approval_request"
	KindToolExecutionStart  Kind = "tool_execution_start"
	KindToolExecutionEnd    Kind = "tool_execution_end"
	KindStreamingText       Kind = "streaming_text"
	KindCompletion          Kind = "completion"
	KindError               Kind = "error"
)

// Error kinds carried by KindError events.
const (
	ErrorKindInternal        = "internal"
	ErrorKindSchemaViolation = "schema_violation"
	ErrorKindCancelled       = "cancelled"
)

// TraceStepKind enumerates clinical trace steps.
type TraceStepKind string

const (
	TraceThought   TraceStepKind = "thought"
	TraceToolCall  TraceStepKind = "tool_call"
	TraceSynthesis TraceStepKind = "synthesis"
)

// TraceStep is one entry of the clinical trace attached to completion.
type TraceStep struct {
	Kind     TraceStepKind `json:"kind"`
	Summary  string        `json:"summary"`
	Tool     string        `json:"tool,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// Event is a single turn event. Kind selects which payload fields are set.
type Event struct {
	Kind      Kind      `json:"event"`
	Timestamp time.Time `json:"timestamp"`

	// node_start / node_end / streaming_text
	NodeID   string        `json:"node_id,omitempty"`
	Label    string        `json:"label,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`

	// tool_* events
	ToolName string         `json:"tool_name,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Intent   string         `json:"intent,omitempty"`
	Success  bool           `json:"success,omitempty"`
	Result   map[string]any `json:"result,omitempty"`

	// streaming_text
	Chunk string `json:"chunk,omitempty"`

	// completion
	FinalResponse string         `json:"final_response,omitempty"`
	ToolCallsMade int            `json:"tool_calls_made,omitempty"`
	Trace         []TraceStep    `json:"trace,omitempty"`
	ModelThinking string         `json:"model_thinking,omitempty"`
	ToolResults   []tools.Result `json:"tool_results,omitempty"`

	// error
	ErrorKind   string `json:"error_kind,omitempty"`
	Message     string `json:"message,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// Terminal reports whether the event ends the turn's stream epoch.
func (e Event) Terminal() bool {
	return e.Kind == KindCompletion || e.Kind == KindError
}
