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
	"fmt"
	"strings"
	"time"

	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/tools"
)

type qualityRecord struct {
	Quality   string `json:"quality" jsonschema:"enum=success_rich,enum=success_partial,enum=no_results,enum=error_retryable,enum=error_fatal"`
	Reasoning string `json:"reasoning" jsonschema:"description=one short sentence"`
}

// resultClassify judges the most recent tool result. Failed executions are
// classified deterministically from the error category; only successful
// payloads need the model's judgment.
func (n *nodes) resultClassify(ctx context.Context, s TurnState) (TurnState, error) {
	last, ok := s.LastResult()
	if !ok {
		return TurnState{}, fmt.Errorf("no tool result to classify")
	}

	if !last.Success {
		quality, reason := classifyFailure(last)
		traceFrom(ctx).Thought(reason, 0)
		return TurnState{LastQuality: quality, LastReason: reason}, nil
	}

	started := time.Now()
	rec, err := model.Decode[qualityRecord](ctx, n.provider, "result_classification",
		resultClassifyMessages(s), model.Options{Temperature: 0})
	if err != nil {
		return TurnState{}, err
	}
	traceFrom(ctx).Thought(rec.Reasoning, time.Since(started))
	return TurnState{LastQuality: Quality(rec.Quality), LastReason: rec.Reasoning}, nil
}

func classifyFailure(r tools.Result) (Quality, string) {
	switch r.ErrorCategory {
	case tools.ErrorTransport:
		return QualityErrorRetryable, "the call failed with a transient error"
	case tools.ErrorNotFound:
		return QualityNoResults, "the lookup found no matching records"
	case tools.ErrorValidation:
		return QualityErrorFatal, "the call was missing or given invalid detail"
	default:
		return QualityErrorFatal, "the call failed"
	}
}

// errorHandler picks a recovery strategy after an error classification or
// an ambiguous partial result. Deterministic; no model call.
func (n *nodes) errorHandler(ctx context.Context, s TurnState) (TurnState, error) {
	last, ok := s.LastResult()
	if !ok {
		return TurnState{}, fmt.Errorf("error handler entered with no tool result")
	}

	// At the ceiling, every strategy collapses to giving up gracefully.
	if s.StepCount >= n.cfg.MaxToolSteps {
		return TurnState{
			ErrorStrategy: StrategySkipContinue,
			ErrorMessages: []string{errorSurface(last)},
		}, nil
	}

	switch s.LastQuality {
	case QualityErrorRetryable:
		if consecutiveFailures(s, last.ToolName) <= n.cfg.MaxRetries {
			traceFrom(ctx).Thought("retrying the "+last.Label, 0)
			return TurnState{ErrorStrategy: StrategyRetrySame}, nil
		}
		return TurnState{
			ErrorStrategy: StrategySkipContinue,
			ErrorMessages: []string{errorSurface(last)},
		}, nil

	case QualitySuccessPartial:
		// Entered only for ambiguous partials (routing checks the marker).
		traceFrom(ctx).Thought("asking the clinician to disambiguate", 0)
		return TurnState{
			ErrorStrategy:        StrategyAskUser,
			ClarificationRequest: clarificationFrom(last, s.LastReason),
		}, nil

	default: // error_fatal
		if last.ErrorCategory == tools.ErrorValidation {
			// Bad arguments are the model's to fix: reselect with different
			// ones while the retry budget lasts, then ask the clinician.
			if consecutiveFailures(s, last.ToolName) <= n.cfg.MaxRetries {
				traceFrom(ctx).Thought("retrying the "+last.Label+" with different arguments", 0)
				return TurnState{ErrorStrategy: StrategyRetryNewArgs}, nil
			}
			traceFrom(ctx).Thought("asking the clinician for missing detail", 0)
			return TurnState{
				ErrorStrategy:        StrategyAskUser,
				ClarificationRequest: clarificationFrom(last, s.LastReason),
			}, nil
		}
		return TurnState{
			ErrorStrategy: StrategySkipContinue,
			ErrorMessages: []string{errorSurface(last)},
		}, nil
	}
}

// consecutiveFailures counts the unbroken run of failed results for tool
// at the tail of the result list.
func consecutiveFailures(s TurnState, tool string) int {
	count := 0
	for i := len(s.Results) - 1; i >= 0; i-- {
		r := s.Results[i]
		if r.ToolName != tool || r.Success {
			break
		}
		count++
	}
	return count
}

// clarificationFrom builds the question synthesize relays to the
// clinician. Candidate lists from ambiguous lookups are spelled out.
func clarificationFrom(last tools.Result, reason string) string {
	if cands := candidateNames(last.Raw); len(cands) > 0 {
		return fmt.Sprintf("Multiple matching patient records were found: %s. Which one did you mean?",
			strings.Join(cands, "; "))
	}
	if reason != "" {
		return reason
	}
	return "Additional detail is needed to continue."
}

func candidateNames(raw map[string]any) []string {
	list, ok := raw["candidates"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(list))
	for _, c := range list {
		m, ok := c.(map[string]any)
		if !ok {
			names = append(names, fmt.Sprintf("%v", c))
			continue
		}
		name, _ := m["name"].(string)
		id, _ := m["patient_id"].(string)
		switch {
		case name != "" && id != "":
			names = append(names, fmt.Sprintf("%s (%s)", name, id))
		case name != "":
			names = append(names, name)
		case id != "":
			names = append(names, id)
		}
	}
	return names
}

// ambiguousPartial reports whether a success_partial classification stems
// from an ambiguous match rather than merely thin data.
func ambiguousPartial(s TurnState) bool {
	last, ok := s.LastResult()
	if !ok {
		return false
	}
	if len(candidateNames(last.Raw)) > 1 {
		return true
	}
	lower := strings.ToLower(s.LastReason)
	return strings.Contains(lower, "ambiguous") || strings.Contains(lower, "multiple match")
}
