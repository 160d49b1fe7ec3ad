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
	"time"

	"github.com/google/uuid"
)

// checkpoint is an in-memory snapshot taken at an interrupt boundary:
// the merged state plus the node the run paused before. Checkpoints do not
// survive process restarts.
type checkpoint[S any] struct {
	state   S
	next    string
	created time.Time
}

func newCheckpointID() string {
	return "ckpt-" + uuid.NewString()
}

func (e *Engine[S]) saveCheckpoint(state S, next string) string {
	e.ckptMu.Lock()
	defer e.ckptMu.Unlock()

	id := e.newID()
	e.checkpoints[id] = checkpoint[S]{state: state, next: next, created: time.Now()}
	return id
}

// takeCheckpoint removes and returns a checkpoint.
func (e *Engine[S]) takeCheckpoint(id string) (checkpoint[S], bool) {
	e.ckptMu.Lock()
	defer e.ckptMu.Unlock()

	ckpt, ok := e.checkpoints[id]
	if ok {
		delete(e.checkpoints, id)
	}
	return ckpt, ok
}

// DiscardCheckpoint drops a checkpoint without resuming (turn cancelled or
// superseded).
func (e *Engine[S]) DiscardCheckpoint(id string) {
	e.ckptMu.Lock()
	defer e.ckptMu.Unlock()
	delete(e.checkpoints, id)
}
