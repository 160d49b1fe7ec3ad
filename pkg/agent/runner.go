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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/careloop/careloop/pkg/config"
	"github.com/careloop/careloop/pkg/events"
	"github.com/careloop/careloop/pkg/graph"
	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/observability"
	"github.com/careloop/careloop/pkg/session"
	"github.com/careloop/careloop/pkg/tools"
)

var (
	// ErrTurnInProgress is returned when a session already has a running turn.
	ErrTurnInProgress = errors.New("a turn is already in progress for this session")

	// ErrNoPendingApproval is returned by ResumeDecision when the session has
	// nothing to decide.
	ErrNoPendingApproval = errors.New("no pending tool approval")

	// ErrTurnNotResumable is returned when the pending approval's checkpoint
	// is gone (typically after a process restart).
	ErrTurnNotResumable = errors.New("turn can no longer be resumed")
)

// TurnOptions tune one turn.
type TurnOptions struct {
	// Image is an optional attached medical image.
	Image []byte

	// DisableTools forces the direct path: no tool selection, no approval.
	DisableTools bool
}

// Runner drives turns: it owns the graph engine, translates runtime events
// to the external stream, and is the only writer of the session store.
type Runner struct {
	store   session.Store
	engine  *graph.Engine[TurnState]
	nodes   *nodes
	cfg     config.AgentConfig
	metrics *observability.Metrics
	tracer  trace.Tracer

	mu     sync.Mutex
	active map[string]*activeTurn

	// lastFindings carries image-analysis findings across turns per session
	// when the next turn attaches no new image.
	lastFindings map[string]string
}

// activeTurn is the in-flight turn of one session: its stream and trace
// survive an approval pause so the resumed run keeps emitting in order.
// Every field after env is guarded by Runner.mu. pauseDone closes once the
// approval request event has been delivered (or abandoned); whoever takes
// over a paused turn waits on it before emitting or closing the stream.
type activeTurn struct {
	env          *turnEnv
	cancel       context.CancelFunc
	checkpointID string
	paused       bool
	pauseDone    chan struct{}
}

// NewRunner builds a Runner over a frozen registry.
func NewRunner(provider model.Provider, registry *tools.Registry, store session.Store,
	cfg config.AgentConfig, obs *observability.Manager) (*Runner, error) {

	selectSchema, err := buildSelectionSchema(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool selection schema: %w", err)
	}

	tracer := noop.NewTracerProvider().Tracer("careloop")
	var metrics *observability.Metrics
	if obs != nil {
		tracer = obs.Tracer()
		metrics = obs.Metrics()
	}

	n := &nodes{
		provider:     provider,
		registry:     registry,
		cfg:          cfg,
		extractor:    NewExtractor(ExtractorOptions{ExtraDrugs: cfg.ExtraDrugs}),
		selectSchema: selectSchema,
	}
	engine, err := buildEngine(n, tracer)
	if err != nil {
		return nil, err
	}

	return &Runner{
		store:        store,
		engine:       engine,
		nodes:        n,
		cfg:          cfg,
		metrics:      metrics,
		tracer:       tracer,
		active:       make(map[string]*activeTurn),
		lastFindings: make(map[string]string),
	}, nil
}

// StartTurn begins a new turn for the session and returns its event
// stream. The stream closes after the terminal event; an approval pause
// leaves it open until ResumeDecision finishes the turn.
func (r *Runner) StartTurn(ctx context.Context, sessionID, text string, opts TurnOptions) (*events.Stream, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// The loop exits holding r.mu with no active turn for the session.
	for {
		r.mu.Lock()
		prev, busy := r.active[sessionID]
		if !busy {
			break
		}
		if !prev.paused {
			r.mu.Unlock()
			return nil, ErrTurnInProgress
		}
		// A new message supersedes a paused turn: claim the pause, drop its
		// checkpoint, and release its stream once the approval request event
		// has settled.
		prev.paused = false
		delete(r.active, sessionID)
		ckpt, prevCancel, pauseDone := prev.checkpointID, prev.cancel, prev.pauseDone
		r.mu.Unlock()

		r.engine.DiscardCheckpoint(ckpt)
		prevCancel()
		if pauseDone != nil {
			<-pauseDone
		}
		prev.env.stream.Close()
	}
	turnCtx, cancel := context.WithCancel(ctx)
	turn := &activeTurn{
		env:    &turnEnv{stream: events.NewStream(), trace: &TraceBuilder{}},
		cancel: cancel,
	}
	r.active[sessionID] = turn
	r.mu.Unlock()

	fail := func(err error) error {
		r.finish(sessionID, turn)
		cancel()
		return err
	}

	if err := r.store.ResetForNewTurn(ctx, sessionID); err != nil {
		return nil, fail(err)
	}
	if err := r.store.AppendMessage(ctx, sessionID, session.Message{
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return nil, fail(err)
	}

	initial := TurnState{
		Query:           text,
		Image:           opts.Image,
		History:         historyFrom(sess.Messages),
		PatientHint:     sess.PatientHint,
		ToolsEnabled:    !opts.DisableTools,
		ThinkingEnabled: r.cfg.EnableThinking,
	}
	if len(opts.Image) == 0 {
		r.mu.Lock()
		initial.ImageFindings = r.lastFindings[sessionID]
		r.mu.Unlock()
	}

	go r.drive(withTurnEnv(turnCtx, turn.env), sessionID, turn, func(c context.Context) (graph.Outcome[TurnState], error) {
		return r.engine.Run(c, initial, r.emitter(turn.env))
	})
	return turn.env.stream, nil
}

// ResumeDecision applies a human approval decision to the session's paused
// turn and returns the same stream StartTurn handed out.
func (r *Runner) ResumeDecision(ctx context.Context, sessionID string, approved bool, reason string) (*events.Stream, error) {
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PendingApproval == nil {
		return nil, ErrNoPendingApproval
	}
	pending := *sess.PendingApproval

	r.mu.Lock()
	turn, ok := r.active[sessionID]
	if !ok || !turn.paused || turn.checkpointID != pending.CheckpointID {
		r.mu.Unlock()
		// The checkpoint is gone; clean up the stale approval.
		_ = r.store.SetStatus(ctx, sessionID, session.StatusIdle)
		return nil, ErrTurnNotResumable
	}
	turn.paused = false
	pauseDone := turn.pauseDone
	r.mu.Unlock()

	// The approval request event may still be in flight on the stream; wait
	// for its delivery so resumed emissions cannot overtake it.
	restore := func() {
		r.mu.Lock()
		turn.paused = true
		r.mu.Unlock()
	}
	select {
	case <-pauseDone:
	case <-ctx.Done():
		restore()
		return nil, ctx.Err()
	}

	if err := r.store.ClearPendingApproval(ctx, sessionID); err != nil {
		restore()
		return nil, err
	}

	resumeOpts := graph.ResumeOptions[TurnState]{}
	if !approved {
		resumeOpts = rejectionResume(r.nodes.registry, pending, reason)
	}

	turnCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	turn.cancel = cancel
	r.mu.Unlock()
	go r.drive(withTurnEnv(turnCtx, turn.env), sessionID, turn, func(c context.Context) (graph.Outcome[TurnState], error) {
		return r.engine.Resume(c, pending.CheckpointID, resumeOpts, r.emitter(turn.env))
	})
	return turn.env.stream, nil
}

// rejectionResume patches the paused state for a denied tool call: the
// pending call is cleared, a synthetic rejected result is appended, and
// the run reroutes straight to synthesis so the rejected node never runs.
func rejectionResume(reg *tools.Registry, pending session.PendingApproval, reason string) graph.ResumeOptions[TurnState] {
	label := pending.ToolName
	if def, ok := reg.Get(pending.ToolName); ok && def.Label != "" {
		label = def.Label
	}
	msg := "the clinician declined this action"
	if reason != "" {
		msg = reason
	}
	return graph.ResumeOptions[TurnState]{
		Patch: func(s TurnState) TurnState {
			s.CurrentTool = tools.SentinelNone
			s.CurrentArgs = map[string]any{}
			s.Results = append(append([]tools.Result(nil), s.Results...), tools.Result{
				ToolName:      pending.ToolName,
				Label:         label,
				Args:          pending.Args,
				Success:       false,
				ErrorCategory: tools.ErrorRejected,
				ErrorMessage:  msg,
			})
			return s
		},
		StartAt: nodeSynthesize,
	}
}

// CancelTurn aborts the session's in-flight or paused turn, if any. A
// paused turn is claimed under the lock, so a concurrent ResumeDecision
// and CancelTurn settle the turn exactly once between them.
func (r *Runner) CancelTurn(sessionID string) {
	r.mu.Lock()
	turn, ok := r.active[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	claimedPause := turn.paused
	turn.paused = false
	ckpt, cancel, pauseDone := turn.checkpointID, turn.cancel, turn.pauseDone
	r.mu.Unlock()

	// Aborts a running turn, or unblocks an in-flight approval emit.
	cancel()
	if !claimedPause {
		return
	}

	r.engine.DiscardCheckpoint(ckpt)
	if pauseDone != nil {
		<-pauseDone
	}
	_ = r.store.SetStatus(context.Background(), sessionID, session.StatusIdle)
	r.emitTerminal(turn.env.stream, events.Event{
		Kind:        events.KindError,
		ErrorKind:   events.ErrorKindCancelled,
		Message:     "the turn was cancelled",
		Recoverable: true,
	})
	r.finish(sessionID, turn)
}

// drive executes one run (fresh or resumed) and settles the turn: pause on
// interrupt, completion on End, error classification otherwise.
func (r *Runner) drive(ctx context.Context, sessionID string, turn *activeTurn,
	run func(context.Context) (graph.Outcome[TurnState], error)) {

	outcome, err := run(ctx)
	switch {
	case err != nil:
		r.settleError(ctx, sessionID, turn, err)
	case outcome.Interrupted:
		r.settlePause(ctx, sessionID, turn, outcome)
	default:
		r.settleCompletion(ctx, sessionID, turn, outcome.State)
	}
}

// settlePause parks a turn on its approval checkpoint. The pause is marked
// before the approval is persisted, so a ResumeDecision racing this method
// either sees no pending approval yet, or sees a fully paused turn and
// waits for the approval request event to be delivered before resuming.
func (r *Runner) settlePause(ctx context.Context, sessionID string, turn *activeTurn, outcome graph.Outcome[TurnState]) {
	state := outcome.State

	pauseDone := make(chan struct{})
	r.mu.Lock()
	turn.checkpointID = outcome.CheckpointID
	turn.paused = true
	turn.pauseDone = pauseDone
	r.mu.Unlock()

	pa := &session.PendingApproval{
		ToolName:     state.CurrentTool,
		Args:         state.CurrentArgs,
		Intent:       state.TaskSummary,
		CheckpointID: outcome.CheckpointID,
	}
	if err := r.store.SetPendingApproval(ctx, sessionID, pa); err != nil {
		close(pauseDone)
		r.mu.Lock()
		turn.paused = false
		r.mu.Unlock()
		r.engine.DiscardCheckpoint(outcome.CheckpointID)
		r.settleError(ctx, sessionID, turn, err)
		return
	}

	slog.Info("tool approval requested",
		"session", sessionID, "tool", state.CurrentTool, "args", summarizeArgs(state.CurrentArgs))

	if err := turn.env.stream.Emit(ctx, events.Event{
		Kind:     events.KindToolApprovalRequest,
		ToolName: state.CurrentTool,
		Args:     state.CurrentArgs,
		Intent:   state.TaskSummary,
	}); err != nil {
		slog.Warn("approval request not delivered", "session", sessionID, "error", err)
	}
	close(pauseDone)
	// The stream stays open; ResumeDecision picks the turn back up.
}

func (r *Runner) settleCompletion(ctx context.Context, sessionID string, turn *activeTurn, state TurnState) {
	if err := r.store.AppendMessage(ctx, sessionID, session.Message{
		Role:      session.RoleAssistant,
		Content:   state.FinalResponse,
		Timestamp: time.Now().UTC(),
		Metadata:  map[string]any{"tool_calls_made": state.ExecutedToolCalls()},
	}); err != nil {
		r.settleError(ctx, sessionID, turn, err)
		return
	}
	if hint := selectedPatient(state); hint != "" {
		if err := r.store.SetPatientHint(ctx, sessionID, hint); err != nil {
			slog.Warn("failed to persist patient hint", "session", sessionID, "error", err)
		}
	}
	if err := r.store.SetStatus(ctx, sessionID, session.StatusIdle); err != nil {
		slog.Warn("failed to settle session status", "session", sessionID, "error", err)
	}

	r.mu.Lock()
	if state.ImageFindings != "" {
		r.lastFindings[sessionID] = state.ImageFindings
	}
	r.mu.Unlock()

	r.countTurn("completed")
	r.emitTerminal(turn.env.stream, events.Event{
		Kind:          events.KindCompletion,
		FinalResponse: state.FinalResponse,
		ToolCallsMade: state.ExecutedToolCalls(),
		Trace:         turn.env.trace.Steps(),
		ModelThinking: state.Thinking,
		ToolResults:   state.Results,
	})
	r.finish(sessionID, turn)
}

func (r *Runner) settleError(ctx context.Context, sessionID string, turn *activeTurn, err error) {
	ev := events.Event{Kind: events.KindError, Recoverable: true}
	status := session.StatusError

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		ev.ErrorKind = events.ErrorKindCancelled
		ev.Message = "the turn was cancelled"
		status = session.StatusIdle
	case errors.Is(err, model.ErrSchemaViolation):
		ev.ErrorKind = events.ErrorKindSchemaViolation
		ev.Message = "the model produced an unusable answer; please try again"
	default:
		ev.ErrorKind = events.ErrorKindInternal
		ev.Message = "something went wrong while handling the request; please try again"
	}

	var nodeErr *graph.NodeError
	if errors.As(err, &nodeErr) {
		slog.Error("turn failed", "session", sessionID, "node", nodeErr.Node, "error", err)
	} else {
		slog.Error("turn failed", "session", sessionID, "error", err)
	}

	if serr := r.store.SetStatus(context.WithoutCancel(ctx), sessionID, status); serr != nil {
		slog.Warn("failed to settle session status", "session", sessionID, "error", serr)
	}

	r.countTurn(string(ev.ErrorKind))
	r.emitTerminal(turn.env.stream, ev)
	r.finish(sessionID, turn)
}

// emitTerminal delivers the terminal event on a detached context: the
// turn's own context may already be cancelled, but the consumer still
// deserves the final event. Delivery is bounded, then the stream closes.
func (r *Runner) emitTerminal(stream *events.Stream, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := stream.Emit(ctx, ev); err != nil {
		slog.Warn("terminal event not delivered", "event", ev.Kind, "error", err)
	}
	stream.Close()
}

func (r *Runner) finish(sessionID string, turn *activeTurn) {
	r.mu.Lock()
	if r.active[sessionID] == turn {
		delete(r.active, sessionID)
	}
	r.mu.Unlock()
}

func (r *Runner) countTurn(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

// emitter bridges graph node boundaries onto the turn stream.
func (r *Runner) emitter(env *turnEnv) graph.Emitter {
	return &streamEmitter{env: env, metrics: r.metrics}
}

type streamEmitter struct {
	env     *turnEnv
	metrics *observability.Metrics
}

func (e *streamEmitter) NodeStart(ctx context.Context, nodeID, label string) error {
	return e.env.stream.Emit(ctx, events.Event{Kind: events.KindNodeStart, NodeID: nodeID, Label: label})
}

func (e *streamEmitter) NodeEnd(ctx context.Context, nodeID, label string, d time.Duration) error {
	if e.metrics != nil {
		e.metrics.NodeDuration.WithLabelValues(nodeID).Observe(d.Seconds())
	}
	return e.env.stream.Emit(ctx, events.Event{Kind: events.KindNodeEnd, NodeID: nodeID, Label: label, Duration: d})
}

// historyFrom converts the session log to model history, dropping tool
// messages.
func historyFrom(msgs []session.Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != session.RoleUser && m.Role != session.RoleAssistant {
			continue
		}
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// selectedPatient derives the patient hint to persist: an unambiguous
// record lookup wins, otherwise a single extracted identifier.
func selectedPatient(state TurnState) string {
	for i := len(state.Results) - 1; i >= 0; i-- {
		r := state.Results[i]
		if !r.Success {
			continue
		}
		if id, ok := r.Raw["patient_id"].(string); ok && id != "" {
			return id
		}
	}
	if len(state.Entities.PatientIDs) == 1 {
		return state.Entities.PatientIDs[0]
	}
	return ""
}
