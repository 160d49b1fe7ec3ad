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

package agent

import (
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/careloop/careloop/pkg/graph"
	"github.com/careloop/careloop/pkg/tools"
)

// buildEngine wires the seven nodes into the turn graph:
//
//	input_assembly → intent_classify → {synthesize | tool_select}
//	tool_select → {synthesize | (interrupt) tool_execute}
//	tool_execute → result_classify → {error_handler | tool_select | synthesize}
//	error_handler → {tool_select | synthesize}
//	synthesize → End
//
// The tool loop is a real cycle, bounded by the step ceiling rather than
// cycle detection.
func buildEngine(n *nodes, tracer trace.Tracer) (*graph.Engine[TurnState], error) {
	e := graph.New(Reduce, graph.Options{Tracer: tracer})

	add := func(id, label string, fn graph.NodeFunc[TurnState]) error {
		return e.AddNode(id, label, fn)
	}
	if err := add(nodeInputAssembly, "Reading the request", n.inputAssembly); err != nil {
		return nil, err
	}
	if err := add(nodeIntentClassify, "Understanding the request", n.intentClassify); err != nil {
		return nil, err
	}
	if err := add(nodeToolSelect, "Planning the next step", n.toolSelect); err != nil {
		return nil, err
	}
	if err := add(nodeToolExecute, "Consulting sources", n.toolExecute); err != nil {
		return nil, err
	}
	if err := add(nodeResultClassify, "Reviewing findings", n.resultClassify); err != nil {
		return nil, err
	}
	if err := add(nodeErrorHandler, "Recovering", n.errorHandler); err != nil {
		return nil, err
	}
	if err := add(nodeSynthesize, "Writing the response", n.synthesize); err != nil {
		return nil, err
	}

	if err := e.AddEdge(nodeInputAssembly, nodeIntentClassify); err != nil {
		return nil, err
	}
	if err := e.AddConditionalEdge(nodeIntentClassify, routeAfterIntent); err != nil {
		return nil, err
	}
	if err := e.AddConditionalEdge(nodeToolSelect, routeAfterSelect); err != nil {
		return nil, err
	}
	if err := e.AddEdge(nodeToolExecute, nodeResultClassify); err != nil {
		return nil, err
	}
	if err := e.AddConditionalEdge(nodeResultClassify, n.routeAfterClassify); err != nil {
		return nil, err
	}
	if err := e.AddConditionalEdge(nodeErrorHandler, routeAfterError); err != nil {
		return nil, err
	}
	if err := e.AddEdge(nodeSynthesize, graph.End); err != nil {
		return nil, err
	}
	e.SetEntry(nodeInputAssembly)

	// Human approval gate: pause before executing a real tool call.
	approval := n.cfg.ApprovalRequired()
	e.InterruptBefore(nodeToolExecute, func(s TurnState) bool {
		return approval && s.CurrentTool != "" && s.CurrentTool != tools.SentinelNone
	})

	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func routeAfterIntent(s TurnState) string {
	if s.Intent == IntentDirect {
		return nodeSynthesize
	}
	return nodeToolSelect
}

func routeAfterSelect(s TurnState) string {
	if s.CurrentTool == "" || s.CurrentTool == tools.SentinelNone {
		return nodeSynthesize
	}
	return nodeToolExecute
}

// routeAfterClassify is the centralized "done?" decision. Errors and
// ambiguous partials go to the handler; otherwise the loop continues until
// the accumulated results cover the estimated sub-needs, nothing more is
// being found, or the ceiling is hit.
func (n *nodes) routeAfterClassify(s TurnState) string {
	switch s.LastQuality {
	case QualityErrorRetryable, QualityErrorFatal:
		return nodeErrorHandler
	case QualitySuccessPartial:
		if ambiguousPartial(s) {
			return nodeErrorHandler
		}
	}

	if s.StepCount >= n.cfg.MaxToolSteps {
		return nodeSynthesize
	}
	if s.LastQuality == QualityNoResults {
		return nodeToolSelect
	}
	if s.StepCount >= estimateSubNeeds(s.TaskSummary) {
		return nodeSynthesize
	}
	return nodeToolSelect
}

func routeAfterError(s TurnState) string {
	switch s.ErrorStrategy {
	case StrategyRetrySame, StrategyRetryNewArgs:
		return nodeToolSelect
	default:
		return nodeSynthesize
	}
}

// estimateSubNeeds approximates how many distinct lookups the task summary
// implies, from its conjunctions. Always at least one.
func estimateSubNeeds(summary string) int {
	lower := strings.ToLower(summary)
	needs := 1 + strings.Count(lower, " and ") + strings.Count(lower, "; ")
	if needs > 5 {
		needs = 5
	}
	return needs
}
