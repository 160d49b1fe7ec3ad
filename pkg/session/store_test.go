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
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Empty(t, s.Messages)

	require.NoError(t, store.AppendMessage(ctx, s.ID, Message{Role: RoleUser, Content: "hello"}))
	require.NoError(t, store.AppendMessage(ctx, s.ID, Message{Role: RoleAssistant, Content: "hi"}))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "hello", got.Messages[0].Content)
	assert.False(t, got.Messages[0].Timestamp.IsZero())

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = store.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_PendingApprovalInvariant(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Create(ctx)
	require.NoError(t, err)

	// waiting_approval is only reachable through SetPendingApproval.
	assert.ErrorIs(t, store.SetStatus(ctx, s.ID, StatusWaitingApproval), ErrInvalidStatus)

	pa := &PendingApproval{ToolName: "check_drug_safety", Intent: "verify warnings", CheckpointID: "ckpt-1"}
	require.NoError(t, store.SetPendingApproval(ctx, s.ID, pa))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaitingApproval, got.Status)
	require.NotNil(t, got.PendingApproval)
	assert.Equal(t, "ckpt-1", got.PendingApproval.CheckpointID)

	// Any other status clears the approval.
	require.NoError(t, store.SetStatus(ctx, s.ID, StatusError))
	got, err = store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PendingApproval)

	require.NoError(t, store.SetPendingApproval(ctx, s.ID, pa))
	require.NoError(t, store.ClearPendingApproval(ctx, s.ID))
	got, err = store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
	assert.Nil(t, got.PendingApproval)
}

func TestMemoryStore_CloneIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, s.ID, Message{Role: RoleUser, Content: "a"}))

	got, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	got.Messages[0].Content = "mutated"

	again, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", again.Messages[0].Content)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.AppendMessage(ctx, s.ID, Message{Role: RoleUser, Content: "check dofetilide"}))
	require.NoError(t, store.SetPatientHint(ctx, s.ID, "PT1042"))

	// Reload from disk into a fresh store.
	reloaded, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "PT1042", got.PatientHint)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "check dofetilide", got.Messages[0].Content)

	// Serialized form is equivalent after the round trip.
	before, err := store.Get(ctx, s.ID)
	require.NoError(t, err)
	bj, err := json.Marshal(before)
	require.NoError(t, err)
	gj, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(bj), string(gj))
}

func TestFileStore_ClearsPendingApprovalOnLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetPendingApproval(ctx, s.ID, &PendingApproval{
		ToolName:     "check_drug_safety",
		Intent:       "verify boxed warnings",
		CheckpointID: "ckpt-gone",
	}))

	reloaded, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.PendingApproval)
	assert.Equal(t, StatusIdle, got.Status)

	// The wipe is persisted, not just in-memory.
	data, err := os.ReadFile(filepath.Join(dir, s.ID+".json"))
	require.NoError(t, err)
	var onDisk Session
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Nil(t, onDisk.PendingApproval)
	assert.NotEqual(t, StatusWaitingApproval, onDisk.Status)
}

func TestFileStore_ResetsProcessingStatusOnLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(ctx, s.ID, StatusProcessing))

	reloaded, err := NewFileStore(dir)
	require.NoError(t, err)

	got, err := reloaded.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, got.Status)

	// The reset is persisted, not just in-memory.
	data, err := os.ReadFile(filepath.Join(dir, s.ID+".json"))
	require.NoError(t, err)
	var onDisk Session
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, StatusIdle, onDisk.Status)
}

func TestFileStore_DeleteRemovesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	s, err := store.Create(ctx)
	require.NoError(t, err)

	path := filepath.Join(dir, s.ID+".json")
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, s.ID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	s, err := store.Create(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.AppendMessage(ctx, s.ID, Message{Role: RoleUser, Content: "m"}))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, filepath.Ext(e.Name()) == ".tmp", "temp file left behind: %s", e.Name())
	}
}
