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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counterState exercises the reducer contract: Log is append-only, N is a
// scalar overwrite, Route steers the conditional edge.
type counterState struct {
	N     int
	Log   []string
	Route string
}

func reduce(prev, delta counterState) counterState {
	if delta.N != 0 {
		prev.N = delta.N
	}
	if delta.Route != "" {
		prev.Route = delta.Route
	}
	if len(delta.Log) > 0 {
		merged := make([]string, 0, len(prev.Log)+len(delta.Log))
		merged = append(merged, prev.Log...)
		merged = append(merged, delta.Log...)
		prev.Log = merged
	}
	return prev
}

type recordingEmitter struct {
	events []string
}

func (r *recordingEmitter) NodeStart(ctx context.Context, nodeID, label string) error {
	r.events = append(r.events, "start:"+nodeID)
	return nil
}

func (r *recordingEmitter) NodeEnd(ctx context.Context, nodeID, label string, d time.Duration) error {
	r.events = append(r.events, "end:"+nodeID)
	return nil
}

func appendNode(name string) NodeFunc[counterState] {
	return func(ctx context.Context, s counterState) (counterState, error) {
		return counterState{Log: []string{name}}, nil
	}
}

func TestEngine_SequentialRun(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("a", "A", appendNode("a")))
	require.NoError(t, e.AddNode("b", "B", appendNode("b")))
	require.NoError(t, e.AddEdge("a", "b"))
	require.NoError(t, e.AddEdge("b", End))
	e.SetEntry("a")
	require.NoError(t, e.Validate())

	em := &recordingEmitter{}
	out, err := e.Run(context.Background(), counterState{}, em)
	require.NoError(t, err)

	assert.False(t, out.Interrupted)
	assert.Equal(t, []string{"a", "b"}, out.State.Log)
	assert.Equal(t, []string{"start:a", "end:a", "start:b", "end:b"}, em.events)
}

func TestEngine_ConditionalRouting(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("decide", "", func(ctx context.Context, s counterState) (counterState, error) {
		return counterState{Route: "right"}, nil
	}))
	require.NoError(t, e.AddNode("left", "", appendNode("left")))
	require.NoError(t, e.AddNode("right", "", appendNode("right")))
	require.NoError(t, e.AddConditionalEdge("decide", func(s counterState) string { return s.Route }))
	require.NoError(t, e.AddEdge("left", End))
	require.NoError(t, e.AddEdge("right", End))
	e.SetEntry("decide")

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"right"}, out.State.Log)
}

func TestEngine_CyclicLoopBoundedByPredicate(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("work", "", func(ctx context.Context, s counterState) (counterState, error) {
		return counterState{N: s.N + 1, Log: []string{"tick"}}, nil
	}))
	require.NoError(t, e.AddConditionalEdge("work", func(s counterState) string {
		if s.N >= 3 {
			return End
		}
		return "work"
	}))
	e.SetEntry("work")

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, out.State.N)
	assert.Len(t, out.State.Log, 3)
}

func TestEngine_MaxStepsGuard(t *testing.T) {
	e := New(reduce, Options{MaxSteps: 5})
	require.NoError(t, e.AddNode("spin", "", appendNode("spin")))
	require.NoError(t, e.AddEdge("spin", "spin"))
	e.SetEntry("spin")

	_, err := e.Run(context.Background(), counterState{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded")
}

func TestEngine_NodeErrorWrapped(t *testing.T) {
	boom := errors.New("boom")
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("bad", "", func(ctx context.Context, s counterState) (counterState, error) {
		return counterState{}, boom
	}))
	require.NoError(t, e.AddEdge("bad", End))
	e.SetEntry("bad")

	_, err := e.Run(context.Background(), counterState{}, nil)
	require.Error(t, err)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "bad", nodeErr.Node)
	assert.ErrorIs(t, err, boom)
}

func TestEngine_InterruptAndResume(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("prepare", "", appendNode("prepare")))
	require.NoError(t, e.AddNode("guarded", "", appendNode("guarded")))
	require.NoError(t, e.AddEdge("prepare", "guarded"))
	require.NoError(t, e.AddEdge("guarded", End))
	e.SetEntry("prepare")
	e.InterruptBefore("guarded", nil)

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	require.True(t, out.Interrupted)
	assert.Equal(t, "guarded", out.NodeID)
	assert.NotEmpty(t, out.CheckpointID)
	assert.Equal(t, []string{"prepare"}, out.State.Log)

	resumed, err := e.Resume(context.Background(), out.CheckpointID, ResumeOptions[counterState]{}, nil)
	require.NoError(t, err)
	assert.False(t, resumed.Interrupted)
	assert.Equal(t, []string{"prepare", "guarded"}, resumed.State.Log)

	// The checkpoint is consumed.
	_, err = e.Resume(context.Background(), out.CheckpointID, ResumeOptions[counterState]{}, nil)
	assert.Error(t, err)
}

func TestEngine_InterruptCondition(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("prepare", "", func(ctx context.Context, s counterState) (counterState, error) {
		return counterState{N: 1}, nil
	}))
	require.NoError(t, e.AddNode("guarded", "", appendNode("guarded")))
	require.NoError(t, e.AddEdge("prepare", "guarded"))
	require.NoError(t, e.AddEdge("guarded", End))
	e.SetEntry("prepare")
	e.InterruptBefore("guarded", func(s counterState) bool { return s.N > 1 })

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	assert.False(t, out.Interrupted, "condition false must not pause")
	assert.Equal(t, []string{"guarded"}, out.State.Log)
}

func TestEngine_ResumeWithPatchAndReroute(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("prepare", "", appendNode("prepare")))
	require.NoError(t, e.AddNode("guarded", "", appendNode("guarded")))
	require.NoError(t, e.AddNode("fallback", "", appendNode("fallback")))
	require.NoError(t, e.AddEdge("prepare", "guarded"))
	require.NoError(t, e.AddEdge("guarded", End))
	require.NoError(t, e.AddEdge("fallback", End))
	e.SetEntry("prepare")
	e.InterruptBefore("guarded", nil)

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	require.True(t, out.Interrupted)

	resumed, err := e.Resume(context.Background(), out.CheckpointID, ResumeOptions[counterState]{
		Patch:   func(s counterState) counterState { s.N = 99; return s },
		StartAt: "fallback",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 99, resumed.State.N)
	assert.Equal(t, []string{"prepare", "fallback"}, resumed.State.Log, "rejected node must not run")
}

func TestEngine_DiscardCheckpoint(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("prepare", "", appendNode("prepare")))
	require.NoError(t, e.AddNode("guarded", "", appendNode("guarded")))
	require.NoError(t, e.AddEdge("prepare", "guarded"))
	require.NoError(t, e.AddEdge("guarded", End))
	e.SetEntry("prepare")
	e.InterruptBefore("guarded", nil)

	out, err := e.Run(context.Background(), counterState{}, nil)
	require.NoError(t, err)
	require.True(t, out.Interrupted)

	e.DiscardCheckpoint(out.CheckpointID)
	_, err = e.Resume(context.Background(), out.CheckpointID, ResumeOptions[counterState]{}, nil)
	assert.Error(t, err)
}

func TestEngine_ContextCancellation(t *testing.T) {
	e := New(reduce, Options{})
	require.NoError(t, e.AddNode("spin", "", appendNode("spin")))
	require.NoError(t, e.AddEdge("spin", "spin"))
	e.SetEntry("spin")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, counterState{}, nil)
	require.ErrorIs(t, err, context.Canceled)
}
