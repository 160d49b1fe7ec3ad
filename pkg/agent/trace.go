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
	"sync"
	"time"

	"github.com/careloop/careloop/pkg/events"
)

// TraceBuilder accumulates the clinical trace of one turn: the ordered,
// human-readable summary of reasoning and tool use attached to the
// completion event. Nodes append; the runner reads it once at the end.
type TraceBuilder struct {
	mu    sync.Mutex
	steps []events.TraceStep
}

func (t *TraceBuilder) add(step events.TraceStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.steps = append(t.steps, step)
}

// Thought records a reasoning step.
func (t *TraceBuilder) Thought(summary string, d time.Duration) {
	t.add(events.TraceStep{Kind: events.TraceThought, Summary: summary, Duration: d})
}

// ToolCall records a tool execution step.
func (t *TraceBuilder) ToolCall(tool, summary string, d time.Duration) {
	t.add(events.TraceStep{Kind: events.TraceToolCall, Tool: tool, Summary: summary, Duration: d})
}

// Synthesis records the final composition step.
func (t *TraceBuilder) Synthesis(summary string, d time.Duration) {
	t.add(events.TraceStep{Kind: events.TraceSynthesis, Summary: summary, Duration: d})
}

// Steps returns a copy of the accumulated trace.
func (t *TraceBuilder) Steps() []events.TraceStep {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]events.TraceStep(nil), t.steps...)
}

// turnEnv is the per-turn plumbing nodes reach through the context: the
// event stream and the trace builder. The graph engine only carries state,
// so the runner threads these via the context it passes to Run/Resume.
type turnEnv struct {
	stream *events.Stream
	trace  *TraceBuilder
}

type turnEnvKey struct{}

func withTurnEnv(ctx context.Context, env *turnEnv) context.Context {
	return context.WithValue(ctx, turnEnvKey{}, env)
}

func envFrom(ctx context.Context) *turnEnv {
	env, _ := ctx.Value(turnEnvKey{}).(*turnEnv)
	return env
}

// emit sends an event on the turn stream when one is attached. It respects
// the stream's backpressure and the context's cancellation.
func emit(ctx context.Context, ev events.Event) error {
	env := envFrom(ctx)
	if env == nil || env.stream == nil {
		return nil
	}
	return env.stream.Emit(ctx, ev)
}

// traceFrom returns the turn's trace builder, or a discard builder when
// none is attached (unit tests drive nodes bare).
func traceFrom(ctx context.Context) *TraceBuilder {
	env := envFrom(ctx)
	if env == nil || env.trace == nil {
		return &TraceBuilder{}
	}
	return env.trace
}
