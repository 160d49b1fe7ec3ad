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

// Package graph implements the declarative node/edge runtime that drives a
// turn.
//
// A graph is a set of named nodes, each a function from state to a partial
// state update, connected by static or conditional edges. The engine merges
// updates through a caller-supplied reducer, emits node boundaries to an
// observer, and supports interrupt-before boundaries: before entering a
// designated node it can pause, snapshot the state as a checkpoint, and
// hand control back to the caller, who later resumes from the checkpoint
// with an optional state patch.
//
// Cycles are legal and expected (the tool loop is one); termination is the
// responsibility of routing predicates plus the engine's step ceiling.
package graph

import (
	"context"
	"fmt"
	"time"
)

// End is the terminal routing target.
const End = "__end__"

// NodeFunc evaluates a node: it receives the merged state and returns a
// partial update (a delta), never a mutation of the input.
type NodeFunc[S any] func(ctx context.Context, state S) (S, error)

// Reducer merges a delta into the previous state. It must not mutate
// either argument's backing storage; appended slices are freshly
// allocated so checkpoint snapshots stay isolated.
type Reducer[S any] func(prev, delta S) S

// Predicate routes a conditional edge: given the merged state it names the
// successor node, or End.
type Predicate[S any] func(state S) string

// InterruptCond gates an interrupt-before boundary. A nil condition always
// interrupts.
type InterruptCond[S any] func(state S) bool

// Emitter observes node boundaries. Implementations may block (the event
// stream is backpressured); an emitter error aborts the run.
type Emitter interface {
	NodeStart(ctx context.Context, nodeID, label string) error
	NodeEnd(ctx context.Context, nodeID, label string, d time.Duration) error
}

// NodeError wraps a node evaluation failure with the node's identity.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Outcome is the result of Run or Resume.
type Outcome[S any] struct {
	// State is the merged state at return time.
	State S

	// Interrupted is true when the run paused at an interrupt-before
	// boundary instead of reaching End.
	Interrupted bool

	// CheckpointID identifies the saved checkpoint when Interrupted.
	CheckpointID string

	// NodeID is the node the run paused before, when Interrupted.
	NodeID string
}

type node[S any] struct {
	id    string
	label string
	fn    NodeFunc[S]
}
