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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// FileStore persists one {session_id}.json per session under dir.
// Every mutation writes through a sibling temp file and rename, so a crash
// never leaves a torn session document on disk.
type FileStore struct {
	*MemoryStore
	dir string
}

// NewFileStore loads every session file in dir. Checkpoints are in-memory
// only, so any session loaded mid-approval has its pending approval
// cleared and its status reset to idle.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory %s: %w", dir, err)
	}

	fs := &FileStore{MemoryStore: NewMemoryStore(), dir: dir}
	fs.MemoryStore.persist = fs.write
	fs.MemoryStore.remove = fs.removeFile

	if err := fs.loadAll(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) loadAll() error {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return fmt.Errorf("failed to read session directory %s: %w", f.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(f.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read session file %s: %w", path, err)
		}

		var s Session
		if err := json.Unmarshal(data, &s); err != nil {
			slog.Warn("skipping unreadable session file", "path", path, "error", err)
			continue
		}
		if s.ID == "" {
			slog.Warn("skipping session file without id", "path", path)
			continue
		}

		// The paused checkpoint did not survive the restart.
		if s.PendingApproval != nil || s.Status == StatusWaitingApproval {
			slog.Info("clearing stale pending approval on load", "session", s.ID)
			s.PendingApproval = nil
			s.Status = StatusIdle
			if err := f.write(&s); err != nil {
				return err
			}
		}
		// An interrupted turn is not resumable either.
		if s.Status == StatusProcessing {
			s.Status = StatusIdle
			if err := f.write(&s); err != nil {
				return err
			}
		}

		f.MemoryStore.load(&s)
	}
	return nil
}

func (f *FileStore) write(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", s.ID, err)
	}

	tmp, err := os.CreateTemp(f.dir, s.ID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", s.ID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp session file: %w", err)
	}

	final := filepath.Join(f.dir, s.ID+".json")
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace session file %s: %w", final, err)
	}
	return nil
}

func (f *FileStore) removeFile(id string) error {
	path := filepath.Join(f.dir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file %s: %w", path, err)
	}
	return nil
}

var _ Store = (*FileStore)(nil)
