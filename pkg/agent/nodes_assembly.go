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

	"github.com/careloop/careloop/pkg/model"
)

// inputAssembly is the deterministic entry node: entity extraction over the
// query and history, plus the image-present flag. No model call.
func (n *nodes) inputAssembly(ctx context.Context, s TurnState) (TurnState, error) {
	ents := n.extractor.Extract(s.Query, s.History, len(s.Image) > 0)
	return TurnState{Entities: ents}, nil
}

type intentRecord struct {
	Intent      string `json:"intent" jsonschema:"enum=direct,enum=tool_needed,description=whether external tools are required"`
	TaskSummary string `json:"task_summary" jsonschema:"description=the task in at most 50 words"`
	ToolHint    string `json:"tool_hint,omitempty" jsonschema:"description=suggested tool name or empty"`
}

// intentClassify decides direct versus tool_needed. When the session has
// tool calling disabled the intent is forced to direct without a model
// call.
func (n *nodes) intentClassify(ctx context.Context, s TurnState) (TurnState, error) {
	if !s.ToolsEnabled {
		return TurnState{Intent: IntentDirect}, nil
	}

	started := time.Now()
	rec, err := model.Decode[intentRecord](ctx, n.provider, "intent_classification",
		intentMessages(s), model.Options{Temperature: 0})
	if err != nil {
		return TurnState{}, err
	}

	intent := IntentToolNeeded
	if rec.Intent == string(IntentDirect) {
		intent = IntentDirect
	}
	traceFrom(ctx).Thought(rec.TaskSummary, time.Since(started))
	return TurnState{Intent: intent, TaskSummary: rec.TaskSummary, ToolHint: rec.ToolHint}, nil
}
