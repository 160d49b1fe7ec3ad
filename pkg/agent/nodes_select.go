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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/tools"
)

// buildSelectionSchema derives the tool-selection output schema from the
// frozen registry: tool_name restricted to registered names plus "none",
// followed by the union of every tool's arguments as nullable fields in
// critical-first order (patient identifier fields ahead of the rest). The
// JSON is assembled by hand because property order matters to the endpoint
// and Go maps would scramble it.
func buildSelectionSchema(reg *tools.Registry) (*model.Schema, error) {
	names := reg.Names()
	enum := append(append([]string(nil), names...), tools.SentinelNone)

	type field struct {
		name, typ, desc string
	}
	var critical, rest []field
	seen := make(map[string]bool)
	for _, name := range names {
		def, _ := reg.Get(name)
		for _, a := range def.Args {
			if seen[a.Name] {
				continue
			}
			seen[a.Name] = true
			f := field{a.Name, a.Type, a.Description}
			if strings.HasPrefix(a.Name, "patient_") {
				critical = append(critical, f)
			} else {
				rest = append(rest, f)
			}
		}
	}
	ordered := append(critical, rest...)

	var b bytes.Buffer
	b.WriteString(`{"type":"object","properties":{"tool_name":{"type":"string","enum":`)
	enumJSON, err := json.Marshal(enum)
	if err != nil {
		return nil, err
	}
	b.Write(enumJSON)
	b.WriteString(`}`)
	for _, f := range ordered {
		fmt.Fprintf(&b, `,%q:{"type":[%q,"null"],"description":%q}`, f.name, f.typ, f.desc)
	}
	b.WriteString(`},"required":`)
	required := make([]string, 0, len(ordered)+1)
	required = append(required, "tool_name")
	for _, f := range ordered {
		required = append(required, f.name)
	}
	reqJSON, err := json.Marshal(required)
	if err != nil {
		return nil, err
	}
	b.Write(reqJSON)
	b.WriteString(`,"additionalProperties":false}`)

	return model.NewSchema("tool_selection", b.Bytes())
}

// toolSelect picks the next tool call, or the "none" sentinel. A pending
// retry_same strategy short-circuits the model call and re-issues the
// previous tool with the same arguments.
func (n *nodes) toolSelect(ctx context.Context, s TurnState) (TurnState, error) {
	if s.ErrorStrategy == StrategyRetrySame &&
		s.CurrentTool != "" && s.CurrentTool != tools.SentinelNone {
		return TurnState{}, nil
	}

	started := time.Now()
	raw, err := n.provider.GenerateStructured(ctx,
		toolSelectMessages(s, n.registry.PromptListing()), n.selectSchema,
		model.Options{Temperature: 0})
	if err != nil {
		return TurnState{}, err
	}

	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return TurnState{}, fmt.Errorf("%w: %v", model.ErrSchemaViolation, err)
	}

	name, _ := rec["tool_name"].(string)
	if name == "" {
		name = tools.SentinelNone
	}
	args := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == "tool_name" || v == nil {
			continue
		}
		args[k] = v
	}

	tr := traceFrom(ctx)
	if name == tools.SentinelNone {
		tr.Thought("no further lookups needed", time.Since(started))
	} else {
		label := name
		if def, ok := n.registry.Get(name); ok && def.Label != "" {
			label = def.Label
		}
		tr.Thought("decided to run the "+label, time.Since(started))
	}
	return TurnState{CurrentTool: name, CurrentArgs: args}, nil
}
