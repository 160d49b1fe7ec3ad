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

package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory Store used for tests and as the base layer
// of the file store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// persist, when set, is invoked under the lock after every mutation.
	persist func(s *Session) error
	remove  func(id string) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Create(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	s := &Session{
		ID:        uuid.NewString(),
		Status:    StatusIdle,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[s.ID] = s

	if err := m.flush(s); err != nil {
		delete(m.sessions, s.ID)
		return nil, err
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, id)

	if m.remove != nil {
		return m.remove(id)
	}
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, id string, msg Message) error {
	return m.mutate(id, func(s *Session) error {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now().UTC()
		}
		s.Messages = append(s.Messages, msg)
		return nil
	})
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	if status == StatusWaitingApproval {
		return ErrInvalidStatus
	}
	return m.mutate(id, func(s *Session) error {
		s.Status = status
		s.PendingApproval = nil
		return nil
	})
}

func (m *MemoryStore) SetPendingApproval(ctx context.Context, id string, pa *PendingApproval) error {
	if pa == nil {
		return ErrInvalidStatus
	}
	return m.mutate(id, func(s *Session) error {
		s.Status = StatusWaitingApproval
		s.PendingApproval = pa
		return nil
	})
}

func (m *MemoryStore) ClearPendingApproval(ctx context.Context, id string) error {
	return m.mutate(id, func(s *Session) error {
		s.Status = StatusProcessing
		s.PendingApproval = nil
		return nil
	})
}

func (m *MemoryStore) SetPatientHint(ctx context.Context, id string, hint string) error {
	return m.mutate(id, func(s *Session) error {
		s.PatientHint = hint
		return nil
	})
}

func (m *MemoryStore) ResetForNewTurn(ctx context.Context, id string) error {
	return m.mutate(id, func(s *Session) error {
		s.Status = StatusProcessing
		s.PendingApproval = nil
		return nil
	})
}

// mutate applies fn to the session under the lock and persists the result.
func (m *MemoryStore) mutate(id string, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(s); err != nil {
		return err
	}
	s.UpdatedAt = time.Now().UTC()
	return m.flush(s)
}

func (m *MemoryStore) flush(s *Session) error {
	if m.persist == nil {
		return nil
	}
	return m.persist(s)
}

// load installs a session without persisting, for file-store startup.
func (m *MemoryStore) load(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

var _ Store = (*MemoryStore)(nil)
