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
	"github.com/careloop/careloop/pkg/config"
	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/tools"
)

// Node identifiers, stable across the event stream and the trace.
const (
	nodeInputAssembly  = "input_assembly"
	nodeIntentClassify = "intent_classify"
	nodeToolSelect     = "tool_select"
	nodeToolExecute    = "tool_execute"
	nodeResultClassify = "result_classify"
	nodeErrorHandler   = "error_handler"
	nodeSynthesize     = "synthesize"
)

// nodes bundles the collaborators every node implementation shares. One
// instance backs one graph; it is read-only after construction.
type nodes struct {
	provider  model.Provider
	registry  *tools.Registry
	cfg       config.AgentConfig
	extractor *Extractor

	// selectSchema is built once from the frozen registry.
	selectSchema *model.Schema
}
