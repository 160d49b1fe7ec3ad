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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/careloop/careloop/pkg/model"
)

const intentSystemPrompt = `You are the triage step of a clinical assistant.
Decide whether the clinician's request can be answered directly from general
medical knowledge (intent "direct") or requires live data from external
tools such as drug safety databases, literature search, trial registries,
patient records, or image analysis (intent "tool_needed").

Summarize the task in at most 50 words. If a tool is clearly implied,
suggest its name; otherwise leave tool_hint empty.`

const toolSelectSystemPrompt = `You are the tool-selection step of a clinical
assistant. Choose the single next tool to call, or "none" when the
accumulated results already cover the task or no tool applies.

Rules:
- Pick exactly one tool from the list, or "none".
- Fill only the arguments that tool needs; leave every other field null.
- Patient identifiers look like PT followed by digits.
- Do not repeat a call that already succeeded with the same arguments.`

const resultClassifySystemPrompt = `You are the result-triage step of a
clinical assistant. Judge the most recent tool result:

- success_rich: substantive data that answers the need.
- success_partial: some data, but incomplete or ambiguous (for example
  multiple matching patient records).
- no_results: the tool succeeded but returned nothing useful.
- error_retryable: a transient failure such as a timeout or unavailable
  service.
- error_fatal: a failure retrying cannot fix, such as a missing or invalid
  argument.

Give one short sentence of reasoning.`

const synthesizeSystemPrompt = `You are a clinical decision-support
assistant speaking to a healthcare professional. Compose the final response
from the conversation, the findings below, and your medical knowledge.

Rules:
- Be concise and clinically precise.
- Never mention tool names, APIs, databases, or any internal process;
  present findings as your own knowledge.
- If a finding notes an error or unavailable source, acknowledge the
  limitation in plain language and suggest what the clinician can do.
- If a clarification is requested, ask the question clearly and list the
  options.
- This is decision support, not a diagnosis; flag uncertainty honestly.`

func intentMessages(s TurnState) []model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Clinician request: %s\n", s.Query)
	if len(s.Entities.PatientIDs) > 0 {
		fmt.Fprintf(&b, "Patient identifiers mentioned: %s\n", strings.Join(s.Entities.PatientIDs, ", "))
	}
	if len(s.Entities.Drugs) > 0 {
		fmt.Fprintf(&b, "Drugs mentioned: %s\n", strings.Join(s.Entities.Drugs, ", "))
	}
	if len(s.Entities.Actions) > 0 {
		fmt.Fprintf(&b, "Action verbs: %s\n", strings.Join(s.Entities.Actions, ", "))
	}
	if s.Entities.HasImage {
		b.WriteString("An image is attached to this request.\n")
	}
	if s.PatientHint != "" {
		fmt.Fprintf(&b, "Previously selected patient: %s\n", s.PatientHint)
	}

	msgs := historyTail(s.History, 6)
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: b.String()})
	return append([]model.Message{{Role: model.RoleSystem, Content: intentSystemPrompt}}, msgs...)
}

func toolSelectMessages(s TurnState, listing string) []model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", s.TaskSummary)
	fmt.Fprintf(&b, "Available tools:\n%s\n", listing)
	if s.ToolHint != "" {
		fmt.Fprintf(&b, "\nSuggested tool (non-binding): %s\n", s.ToolHint)
	}
	if s.PatientHint != "" {
		fmt.Fprintf(&b, "Previously selected patient: %s\n", s.PatientHint)
	}
	if len(s.Entities.PatientIDs) > 0 {
		fmt.Fprintf(&b, "Patient identifiers in the request: %s\n", strings.Join(s.Entities.PatientIDs, ", "))
	}
	if len(s.Results) > 0 {
		b.WriteString("\nResults so far:\n")
		for _, r := range s.Results {
			fmt.Fprintf(&b, "- %s: %s\n", r.ToolName, r.Formatted)
		}
	}
	if s.ErrorStrategy == StrategyRetryNewArgs || s.LastQuality == QualityNoResults {
		b.WriteString("\nThe previous call failed or returned nothing; vary the arguments or pick a different tool.\n")
	}
	return []model.Message{
		{Role: model.RoleSystem, Content: toolSelectSystemPrompt},
		{Role: model.RoleUser, Content: b.String()},
	}
}

func resultClassifyMessages(s TurnState) []model.Message {
	last, _ := s.LastResult()
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", s.TaskSummary)
	fmt.Fprintf(&b, "Tool: %s\n", last.ToolName)
	if last.Success {
		raw, _ := json.Marshal(last.Raw)
		fmt.Fprintf(&b, "Result:\n%s\n", raw)
	} else {
		fmt.Fprintf(&b, "The call failed (%s): %s\n", last.ErrorCategory, last.ErrorMessage)
	}
	return []model.Message{
		{Role: model.RoleSystem, Content: resultClassifySystemPrompt},
		{Role: model.RoleUser, Content: b.String()},
	}
}

func synthesizeMessages(s TurnState) []model.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Clinician request: %s\n", s.Query)
	if s.ImageFindings != "" {
		fmt.Fprintf(&b, "\nImage findings:\n%s\n", s.ImageFindings)
	}
	if formatted := formatResults(s.Results); formatted != "" {
		fmt.Fprintf(&b, "\nFindings:\n%s", formatted)
	}
	for _, e := range s.ErrorMessages {
		fmt.Fprintf(&b, "\nNote: %s\n", e)
	}
	if s.ClarificationRequest != "" {
		fmt.Fprintf(&b, "\nAsk the clinician to clarify: %s\n", s.ClarificationRequest)
	}

	msgs := historyTail(s.History, 6)
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: b.String()})
	return append([]model.Message{{Role: model.RoleSystem, Content: synthesizeSystemPrompt}}, msgs...)
}

// historyTail converts the most recent history entries to model messages.
func historyTail(history []HistoryEntry, n int) []model.Message {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	msgs := make([]model.Message, 0, len(history))
	for _, h := range history {
		role := model.RoleUser
		if h.Role == "assistant" {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.Message{Role: role, Content: h.Content})
	}
	return msgs
}
