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
	"sort"
	"strings"

	"github.com/careloop/careloop/pkg/tools"
)

// formatResults renders accumulated tool results as the clinician-friendly
// block the synthesis prompt consumes. Rejected synthetic records are
// phrased as declined actions; failures as unavailable sources.
func formatResults(results []tools.Result) string {
	var b strings.Builder
	for _, r := range results {
		switch {
		case r.ErrorCategory == tools.ErrorRejected:
			fmt.Fprintf(&b, "- The %s step was declined by the clinician and was not performed.\n", r.Label)
		case !r.Success:
			fmt.Fprintf(&b, "- %s\n", errorSurface(r))
		case r.Formatted != "":
			fmt.Fprintf(&b, "- %s\n", r.Formatted)
		default:
			raw, _ := json.Marshal(r.Raw)
			fmt.Fprintf(&b, "- %s\n", raw)
		}
	}
	return b.String()
}

// errorSurface turns a failed tool result into a pre-formatted sentence
// safe to show a clinician: no tool names, no transport detail.
func errorSurface(r tools.Result) string {
	label := r.Label
	if label == "" {
		label = "requested"
	}
	switch r.ErrorCategory {
	case tools.ErrorTransport:
		return fmt.Sprintf("The %s lookup is currently unavailable; please retry shortly.", label)
	case tools.ErrorValidation:
		return fmt.Sprintf("The %s lookup needs additional detail before it can run.", label)
	case tools.ErrorNotFound:
		return fmt.Sprintf("The %s lookup returned no matching records.", label)
	default:
		return fmt.Sprintf("The %s lookup could not be completed.", label)
	}
}

// formatRaw renders a successful tool result as a clinician-friendly
// string. Executors that return a "summary" field control their own
// wording; everything else falls back to compact JSON, truncated.
func formatRaw(label string, raw map[string]any) string {
	if s, ok := raw["summary"].(string); ok && s != "" {
		return s
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return label + " completed"
	}
	const maxLen = 600
	text := string(data)
	if len(text) > maxLen {
		text = text[:maxLen] + "…"
	}
	return text
}

// summarizeArgs renders tool arguments for trace and approval surfaces.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}
