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

// Package session provides durable per-session turn state.
//
// A session is the unit of conversation: an ordered, append-only message
// log plus turn status and an optional pending tool approval. Stores
// persist write-through on every mutation. The status/approval invariant
// holds at every boundary: status is waiting_approval exactly when a
// pending approval is set.
package session

import (
	"context"
	"errors"
	"time"
)

// Status of a session's current turn.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusProcessing      Status = "processing"
	StatusWaitingApproval Status = "waiting_approval"
	StatusError           Status = "error"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrNotFound is returned when a session doesn't exist.
var ErrNotFound = errors.New("session not found")

// ErrInvalidStatus is returned for status transitions that would break the
// pending-approval invariant.
var ErrInvalidStatus = errors.New("invalid status transition")

// Message is one entry of the session's ordered message log.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// PendingApproval records a proposed tool call awaiting a human decision.
// CheckpointID is the opaque graph-runtime handle used to resume.
type PendingApproval struct {
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"args,omitempty"`
	Intent       string         `json:"intent"`
	CheckpointID string         `json:"checkpoint_id"`
}

// Session is the durable record.
type Session struct {
	ID              string           `json:"id"`
	Status          Status           `json:"status"`
	Messages        []Message        `json:"messages"`
	PendingApproval *PendingApproval `json:"pending_approval,omitempty"`
	PatientHint     string           `json:"selected_patient,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Clone returns a copy safe to hand to callers while the store keeps
// mutating the original.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	if s.PendingApproval != nil {
		pa := *s.PendingApproval
		out.PendingApproval = &pa
	}
	return &out
}

// Store manages session lifecycle and persistence. Mutations on the same
// session are serialized by the implementation; every mutation is
// persisted before the call returns.
type Store interface {
	// Create allocates an empty session.
	Create(ctx context.Context) (*Session, error)

	// Get retrieves a session.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns all sessions.
	List(ctx context.Context) ([]*Session, error)

	// Delete removes a session and its persisted file.
	Delete(ctx context.Context, id string) error

	// AppendMessage appends to the ordered message log.
	AppendMessage(ctx context.Context, id string, msg Message) error

	// SetStatus transitions the session status. waiting_approval is not a
	// valid target here; use SetPendingApproval. Transitioning to any other
	// status clears a pending approval.
	SetStatus(ctx context.Context, id string, status Status) error

	// SetPendingApproval records the pending approval and moves the session
	// to waiting_approval in one step.
	SetPendingApproval(ctx context.Context, id string, pa *PendingApproval) error

	// ClearPendingApproval drops the pending approval and returns the
	// session to processing.
	ClearPendingApproval(ctx context.Context, id string) error

	// SetPatientHint persists the selected-patient hint.
	SetPatientHint(ctx context.Context, id string, hint string) error

	// ResetForNewTurn clears any pending approval and marks the session
	// processing for a fresh turn.
	ResetForNewTurn(ctx context.Context, id string) error
}
