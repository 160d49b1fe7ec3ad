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

package graph

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures an Engine.
type Options struct {
	// MaxSteps bounds total node evaluations per run, guarding against a
	// routing bug producing an unguarded cycle. Zero means the default (64).
	MaxSteps int

	// Tracer, when set, wraps every node evaluation in a span.
	Tracer trace.Tracer
}

// Engine executes a declared graph. The topology is built once during
// startup and read-only afterwards; per-run state lives on the stack of
// Run/Resume plus the checkpoint table.
type Engine[S any] struct {
	reducer    Reducer[S]
	nodes      map[string]node[S]
	static     map[string]string
	cond       map[string]Predicate[S]
	interrupts map[string]InterruptCond[S]
	entry      string
	maxSteps   int
	tracer     trace.Tracer

	ckptMu      sync.Mutex
	checkpoints map[string]checkpoint[S]
	newID       func() string
}

// New creates an engine with the given reducer.
func New[S any](reducer Reducer[S], opts Options) *Engine[S] {
	if reducer == nil {
		panic("graph: reducer is required")
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 64
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("careloop")
	}
	return &Engine[S]{
		reducer:     reducer,
		nodes:       make(map[string]node[S]),
		static:      make(map[string]string),
		cond:        make(map[string]Predicate[S]),
		interrupts:  make(map[string]InterruptCond[S]),
		maxSteps:    maxSteps,
		tracer:      tracer,
		checkpoints: make(map[string]checkpoint[S]),
		newID:       newCheckpointID,
	}
}

// AddNode registers a node.
func (e *Engine[S]) AddNode(id, label string, fn NodeFunc[S]) error {
	if id == "" || id == End {
		return fmt.Errorf("graph: invalid node id %q", id)
	}
	if fn == nil {
		return fmt.Errorf("graph: node %s has no function", id)
	}
	if _, exists := e.nodes[id]; exists {
		return fmt.Errorf("graph: node %s already defined", id)
	}
	e.nodes[id] = node[S]{id: id, label: label, fn: fn}
	return nil
}

// AddEdge declares an unconditional edge.
func (e *Engine[S]) AddEdge(from, to string) error {
	if _, exists := e.cond[from]; exists {
		return fmt.Errorf("graph: node %s already has a conditional edge", from)
	}
	e.static[from] = to
	return nil
}

// AddConditionalEdge declares a predicate-routed edge.
func (e *Engine[S]) AddConditionalEdge(from string, p Predicate[S]) error {
	if _, exists := e.static[from]; exists {
		return fmt.Errorf("graph: node %s already has a static edge", from)
	}
	if p == nil {
		return fmt.Errorf("graph: nil predicate for node %s", from)
	}
	e.cond[from] = p
	return nil
}

// SetEntry designates the entry node.
func (e *Engine[S]) SetEntry(id string) { e.entry = id }

// InterruptBefore declares an interrupt boundary ahead of node id. A nil
// condition pauses unconditionally.
func (e *Engine[S]) InterruptBefore(id string, cond InterruptCond[S]) {
	e.interrupts[id] = cond
}

// Validate checks the topology: entry set, every edge target defined.
func (e *Engine[S]) Validate() error {
	if e.entry == "" {
		return fmt.Errorf("graph: no entry node")
	}
	if _, ok := e.nodes[e.entry]; !ok {
		return fmt.Errorf("graph: entry node %s not defined", e.entry)
	}
	for from, to := range e.static {
		if _, ok := e.nodes[from]; !ok {
			return fmt.Errorf("graph: edge from undefined node %s", from)
		}
		if to != End {
			if _, ok := e.nodes[to]; !ok {
				return fmt.Errorf("graph: edge %s -> undefined node %s", from, to)
			}
		}
	}
	for from := range e.cond {
		if _, ok := e.nodes[from]; !ok {
			return fmt.Errorf("graph: conditional edge from undefined node %s", from)
		}
	}
	return nil
}

// Run executes the graph from the entry node.
func (e *Engine[S]) Run(ctx context.Context, initial S, em Emitter) (Outcome[S], error) {
	return e.loop(ctx, e.entry, initial, em, true)
}

// ResumeOptions control Resume.
type ResumeOptions[S any] struct {
	// Patch, when set, transforms the restored state before continuing.
	Patch func(S) S

	// StartAt overrides the paused node, rerouting the resumed run (used
	// to skip a rejected tool execution). Empty means continue from the
	// node the run paused before.
	StartAt string
}

// Resume continues a paused run from its checkpoint. The checkpoint is
// consumed whether or not the resumed run succeeds.
func (e *Engine[S]) Resume(ctx context.Context, checkpointID string, opts ResumeOptions[S], em Emitter) (Outcome[S], error) {
	ckpt, ok := e.takeCheckpoint(checkpointID)
	if !ok {
		var zero Outcome[S]
		return zero, fmt.Errorf("graph: unknown checkpoint %s", checkpointID)
	}

	state := ckpt.state
	if opts.Patch != nil {
		state = opts.Patch(state)
	}

	start := ckpt.next
	if opts.StartAt != "" {
		start = opts.StartAt
	}

	// The paused boundary was already announced; do not re-interrupt on
	// the first node.
	return e.loop(ctx, start, state, em, false)
}

// loop is the execution core. checkFirstInterrupt guards whether the first
// node's interrupt boundary applies; it does not when resuming, since the
// paused boundary was already announced.
func (e *Engine[S]) loop(ctx context.Context, current string, state S, em Emitter, checkFirstInterrupt bool) (Outcome[S], error) {
	var zero Outcome[S]

	if checkFirstInterrupt {
		if outcome, paused := e.maybeInterrupt(current, state); paused {
			return outcome, nil
		}
	}

	for steps := 0; ; steps++ {
		if steps >= e.maxSteps {
			return zero, fmt.Errorf("graph: exceeded %d steps at node %s", e.maxSteps, current)
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		n, ok := e.nodes[current]
		if !ok {
			return zero, fmt.Errorf("graph: routed to undefined node %s", current)
		}

		delta, err := e.evalNode(ctx, n, state, em)
		if err != nil {
			return zero, err
		}
		state = e.reducer(state, delta)

		next, err := e.route(current, state)
		if err != nil {
			return zero, err
		}
		if next == End {
			return Outcome[S]{State: state}, nil
		}

		if outcome, paused := e.maybeInterrupt(next, state); paused {
			return outcome, nil
		}
		current = next
	}
}

func (e *Engine[S]) evalNode(ctx context.Context, n node[S], state S, em Emitter) (S, error) {
	var zero S

	nodeCtx, span := e.tracer.Start(ctx, "graph.node",
		trace.WithAttributes(attribute.String("node.id", n.id)))
	defer span.End()

	if em != nil {
		if err := em.NodeStart(nodeCtx, n.id, n.label); err != nil {
			return zero, err
		}
	}

	started := time.Now()
	delta, err := n.fn(nodeCtx, state)
	elapsed := time.Since(started)
	if err != nil {
		return zero, &NodeError{Node: n.id, Err: err}
	}

	if em != nil {
		if err := em.NodeEnd(nodeCtx, n.id, n.label, elapsed); err != nil {
			return zero, err
		}
	}
	return delta, nil
}

func (e *Engine[S]) route(current string, state S) (string, error) {
	if p, ok := e.cond[current]; ok {
		next := p(state)
		if next == "" {
			return "", fmt.Errorf("graph: predicate at %s returned no successor", current)
		}
		return next, nil
	}
	if next, ok := e.static[current]; ok {
		return next, nil
	}
	return "", fmt.Errorf("graph: node %s has no outgoing edge", current)
}

// maybeInterrupt pauses ahead of next when its interrupt boundary applies,
// saving a checkpoint the caller resumes from.
func (e *Engine[S]) maybeInterrupt(next string, state S) (Outcome[S], bool) {
	cond, ok := e.interrupts[next]
	if !ok || (cond != nil && !cond(state)) {
		var zero Outcome[S]
		return zero, false
	}

	id := e.saveCheckpoint(state, next)
	return Outcome[S]{
		State:        state,
		Interrupted:  true,
		CheckpointID: id,
		NodeID:       next,
	}, true
}
