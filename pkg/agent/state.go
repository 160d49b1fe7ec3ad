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

// Package agent implements the clinical decision-support turn: the seven
// graph nodes, their routing, and the runner that drives a turn through
// the graph runtime against a session.
package agent

import (
	"github.com/careloop/careloop/pkg/tools"
)

// Intent labels.
type Intent string

const (
	IntentDirect     Intent = "direct"
	IntentToolNeeded Intent = "tool_needed"
)

// Quality classifies the most recent tool result.
type Quality string

const (
	QualitySuccessRich    Quality = "success_rich"
	QualitySuccessPartial Quality = "success_partial"
	QualityNoResults      Quality = "no_results"
	QualityErrorRetryable Quality = "error_retryable"
	QualityErrorFatal     Quality = "error_fatal"
)

// Error-handler strategies.
type Strategy string

const (
	StrategyNone          Strategy = "none"
	StrategyRetrySame     Strategy = "retry_same"
	StrategyRetryNewArgs  Strategy = "retry_different_args"
	StrategySkipContinue  Strategy = "skip_and_continue"
	StrategyAskUser       Strategy = "ask_user"
)

// HistoryEntry is one conversation turn handed to the model.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entities are the deterministic extractions of the input-assembly node.
type Entities struct {
	PatientIDs []string `json:"patient_ids,omitempty"`
	Drugs      []string `json:"drugs,omitempty"`
	Actions    []string `json:"actions,omitempty"`
	HasImage   bool     `json:"has_image,omitempty"`
}

// TurnState flows through the graph. Nodes return partial updates merged
// by Reduce; they never mutate the state they receive.
type TurnState struct {
	// Inputs, set once at turn start.
	Query           string
	Image           []byte
	History         []HistoryEntry
	PatientHint     string
	ToolsEnabled    bool
	ThinkingEnabled bool
	ChartSummary    string

	// Input assembly.
	Entities      Entities
	ImageFindings string

	// Intent.
	Intent      Intent
	TaskSummary string
	ToolHint    string

	// Tool loop.
	CurrentTool string
	CurrentArgs map[string]any
	Results     []tools.Result // append-only
	StepCount   int            // monotonic

	// Classification of the most recent result.
	LastQuality Quality
	LastReason  string

	// Error handling.
	ErrorStrategy        Strategy
	ErrorMessages        []string // clinician-safe, append-only
	ClarificationRequest string

	// Output.
	FinalResponse string
	Thinking      string
}

// Reduce merges a node's delta into the previous state: append-only lists
// concatenate into fresh slices, scalars overwrite when set, the step
// counter only moves forward. Clearing a scalar is expressed with an
// explicit sentinel (Strategy "none", tool "none"), never a zero value.
func Reduce(prev, delta TurnState) TurnState {
	if len(delta.Entities.PatientIDs) > 0 || len(delta.Entities.Drugs) > 0 ||
		len(delta.Entities.Actions) > 0 || delta.Entities.HasImage {
		prev.Entities = delta.Entities
	}
	if delta.ImageFindings != "" {
		prev.ImageFindings = delta.ImageFindings
	}
	if delta.Intent != "" {
		prev.Intent = delta.Intent
	}
	if delta.TaskSummary != "" {
		prev.TaskSummary = delta.TaskSummary
	}
	if delta.ToolHint != "" {
		prev.ToolHint = delta.ToolHint
	}
	if delta.CurrentTool != "" {
		prev.CurrentTool = delta.CurrentTool
	}
	if delta.CurrentArgs != nil {
		prev.CurrentArgs = delta.CurrentArgs
	}
	if len(delta.Results) > 0 {
		merged := make([]tools.Result, 0, len(prev.Results)+len(delta.Results))
		merged = append(merged, prev.Results...)
		merged = append(merged, delta.Results...)
		prev.Results = merged
	}
	if delta.StepCount > prev.StepCount {
		prev.StepCount = delta.StepCount
	}
	if delta.LastQuality != "" {
		prev.LastQuality = delta.LastQuality
	}
	if delta.LastReason != "" {
		prev.LastReason = delta.LastReason
	}
	if delta.ErrorStrategy != "" {
		prev.ErrorStrategy = delta.ErrorStrategy
	}
	if len(delta.ErrorMessages) > 0 {
		merged := make([]string, 0, len(prev.ErrorMessages)+len(delta.ErrorMessages))
		merged = append(merged, prev.ErrorMessages...)
		merged = append(merged, delta.ErrorMessages...)
		prev.ErrorMessages = merged
	}
	if delta.ClarificationRequest != "" {
		prev.ClarificationRequest = delta.ClarificationRequest
	}
	if delta.FinalResponse != "" {
		prev.FinalResponse = delta.FinalResponse
	}
	if delta.Thinking != "" {
		prev.Thinking = delta.Thinking
	}
	return prev
}

// ExecutedToolCalls counts actual tool executions, excluding the synthetic
// rejection record a denied approval appends.
func (s TurnState) ExecutedToolCalls() int {
	n := 0
	for _, r := range s.Results {
		if r.ErrorCategory != tools.ErrorRejected {
			n++
		}
	}
	return n
}

// LastResult returns the most recent tool result, if any.
func (s TurnState) LastResult() (tools.Result, bool) {
	if len(s.Results) == 0 {
		return tools.Result{}, false
	}
	return s.Results[len(s.Results)-1], true
}
