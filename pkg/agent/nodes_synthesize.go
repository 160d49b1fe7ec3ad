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
	"github.com/careloop/careloop/pkg/model"
)

// synthesize composes the final clinician-facing response. Free-form
// generation; the prompt, not the runtime, enforces the tool-name-free
// contract.
func (n *nodes) synthesize(ctx context.Context, s TurnState) (TurnState, error) {
	started := time.Now()

	opts := model.Options{
		Temperature: 0.5,
		MaxTokens:   n.cfg.SynthesisMaxTokens,
	}
	if n.cfg.EnableThinking && s.ThinkingEnabled {
		opts.Prefill = "<think>"
	}

	out, err := n.provider.Generate(ctx, synthesizeMessages(s), opts)
	if err != nil {
		return TurnState{}, err
	}
	thinking, visible := model.SplitThinking(out)

	if err := emit(ctx, events.Event{
		Kind:   events.KindStreamingText,
		NodeID: nodeSynthesize,
		Chunk:  visible,
	}); err != nil {
		return TurnState{}, err
	}

	traceFrom(ctx).Synthesis("composed the response", time.Since(started))
	return TurnState{FinalResponse: visible, Thinking: thinking}, nil
}
