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
	"context"
	"time"

	"github.com/careloop/careloop/pkg/events"
	"github.com/careloop/careloop/pkg/tools"
)

// toolExecute runs the selected tool through the registry boundary, emits
// the tool execution events, appends the result record, and advances the
// step counter. The approval interrupt sits just ahead of this node; by
// the time it runs, the call is approved (or gating is off).
func (n *nodes) toolExecute(ctx context.Context, s TurnState) (TurnState, error) {
	label := s.CurrentTool
	if def, ok := n.registry.Get(s.CurrentTool); ok && def.Label != "" {
		label = def.Label
	}

	if err := emit(ctx, events.Event{
		Kind:     events.KindToolExecutionStart,
		ToolName: s.CurrentTool,
		Args:     s.CurrentArgs,
	}); err != nil {
		return TurnState{}, err
	}

	started := time.Now()
	raw := n.registry.Execute(ctx, s.CurrentTool, s.CurrentArgs)
	elapsed := time.Since(started)

	res := tools.Result{
		ToolName: s.CurrentTool,
		Label:    label,
		Args:     s.CurrentArgs,
		Raw:      raw,
		Duration: elapsed,
	}
	if msg, failed := raw["error"].(string); failed {
		res.ErrorMessage = msg
		res.ErrorCategory = tools.CategorizeError(msg)
	} else {
		res.Success = true
		res.Formatted = formatRaw(label, raw)
	}

	if err := emit(ctx, events.Event{
		Kind:     events.KindToolExecutionEnd,
		ToolName: s.CurrentTool,
		Success:  res.Success,
		Duration: elapsed,
		Result:   raw,
	}); err != nil {
		return TurnState{}, err
	}

	summary := "completed the " + label
	if !res.Success {
		summary = "the " + label + " failed"
	}
	traceFrom(ctx).ToolCall(s.CurrentTool, summary, elapsed)

	delta := TurnState{
		Results:       []tools.Result{res},
		StepCount:     s.StepCount + 1,
		ErrorStrategy: StrategyNone,
	}
	// Image analysis findings carry forward into synthesis and later turns.
	if findings, ok := raw["findings"].(string); ok && findings != "" {
		delta.ImageFindings = findings
	}
	return delta, nil
}
