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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/careloop/careloop/pkg/tools"
)

func TestReduce_ScalarsOverwriteWhenSet(t *testing.T) {
	prev := TurnState{Intent: IntentDirect, TaskSummary: "old", CurrentTool: "search_literature"}

	out := Reduce(prev, TurnState{TaskSummary: "new"})
	assert.Equal(t, "new", out.TaskSummary)
	assert.Equal(t, IntentDirect, out.Intent, "unset delta fields keep previous values")
	assert.Equal(t, "search_literature", out.CurrentTool)
}

func TestReduce_SentinelClearsTool(t *testing.T) {
	prev := TurnState{CurrentTool: "check_drug_safety", ErrorStrategy: StrategyRetrySame}

	out := Reduce(prev, TurnState{CurrentTool: tools.SentinelNone, ErrorStrategy: StrategyNone})
	assert.Equal(t, tools.SentinelNone, out.CurrentTool)
	assert.Equal(t, StrategyNone, out.ErrorStrategy)
}

func TestReduce_ResultsAppendWithFreshBacking(t *testing.T) {
	prev := TurnState{Results: []tools.Result{{ToolName: "a"}}}

	out := Reduce(prev, TurnState{Results: []tools.Result{{ToolName: "b"}}})
	assert.Len(t, out.Results, 2)
	assert.Equal(t, "a", out.Results[0].ToolName)
	assert.Equal(t, "b", out.Results[1].ToolName)

	// Appending again must not disturb the earlier merged snapshot.
	later := Reduce(out, TurnState{Results: []tools.Result{{ToolName: "c"}}})
	assert.Len(t, out.Results, 2)
	assert.Len(t, later.Results, 3)
}

func TestReduce_StepCountMonotonic(t *testing.T) {
	prev := TurnState{StepCount: 3}

	assert.Equal(t, 3, Reduce(prev, TurnState{}).StepCount)
	assert.Equal(t, 3, Reduce(prev, TurnState{StepCount: 2}).StepCount, "counter never moves backwards")
	assert.Equal(t, 4, Reduce(prev, TurnState{StepCount: 4}).StepCount)
}

func TestReduce_ErrorMessagesAppend(t *testing.T) {
	prev := TurnState{ErrorMessages: []string{"first"}}

	out := Reduce(prev, TurnState{ErrorMessages: []string{"second"}})
	assert.Equal(t, []string{"first", "second"}, out.ErrorMessages)
}

func TestExecutedToolCalls_ExcludesRejected(t *testing.T) {
	s := TurnState{Results: []tools.Result{
		{ToolName: "a", Success: true},
		{ToolName: "b", ErrorCategory: tools.ErrorRejected},
		{ToolName: "c", ErrorCategory: tools.ErrorTransport},
	}}
	assert.Equal(t, 2, s.ExecutedToolCalls())
}
