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

package clinical

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PatientRecord is the on-disk shape of one patient chart.
type PatientRecord struct {
	PatientID    string         `json:"patient_id"`
	Name         string         `json:"name"`
	DateOfBirth  string         `json:"date_of_birth,omitempty"`
	Conditions   []string       `json:"conditions,omitempty"`
	Medications  []string       `json:"medications,omitempty"`
	Observations map[string]any `json:"observations,omitempty"`
	Notes        []RecordNote   `json:"notes,omitempty"`
}

// RecordNote is one appended note or observation.
type RecordNote struct {
	Category string    `json:"category,omitempty"`
	Content  string    `json:"content"`
	AddedAt  time.Time `json:"added_at"`
}

// RecordStore keeps patient charts as one JSON file per patient.
// Name lookups that match more than one chart return the candidate list
// instead of picking one, so the caller can ask which patient was meant.
type RecordStore struct {
	dir string
	mu  sync.Mutex
}

// NewRecordStore opens (creating if needed) the record directory.
func NewRecordStore(dir string) (*RecordStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}
	return &RecordStore{dir: dir}, nil
}

func (s *RecordStore) path(patientID string) string {
	return filepath.Join(s.dir, patientID+".json")
}

// Put writes a full chart, replacing any existing one.
func (s *RecordStore) Put(rec PatientRecord) error {
	if rec.PatientID == "" {
		return fmt.Errorf("missing patient_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(rec)
}

func (s *RecordStore) write(rec PatientRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path(rec.PatientID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path(rec.PatientID))
}

func (s *RecordStore) load(patientID string) (*PatientRecord, error) {
	data, err := os.ReadFile(s.path(patientID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no records found for patient %s", patientID)
		}
		return nil, err
	}
	var rec PatientRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record for patient %s: %w", patientID, err)
	}
	return &rec, nil
}

// Lookup resolves a chart by patient_id, or by patient_name when no id is
// given. An ambiguous name returns the candidates rather than an error.
func (s *RecordStore) Lookup(ctx context.Context, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := stringArg(args, "patient_id")
	if id == "" {
		name := stringArg(args, "patient_name")
		if name == "" {
			return nil, fmt.Errorf("missing patient_id or patient_name")
		}
		matches, err := s.matchByName(name)
		if err != nil {
			return nil, err
		}
		switch len(matches) {
		case 0:
			return nil, fmt.Errorf("no records found for %q", name)
		case 1:
			id = matches[0].PatientID
		default:
			candidates := make([]map[string]any, len(matches))
			for i, m := range matches {
				candidates[i] = map[string]any{"patient_id": m.PatientID, "name": m.Name}
			}
			return map[string]any{
				"candidates": candidates,
				"summary":    fmt.Sprintf("%d patients match %q", len(matches), name),
			}, nil
		}
	}

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	return recordView(rec, stringArg(args, "section")), nil
}

func (s *RecordStore) matchByName(name string) ([]PatientRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(name)
	var matches []PatientRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(rec.Name), needle) {
			matches = append(matches, *rec)
		}
	}
	return matches, nil
}

func recordView(rec *PatientRecord, section string) map[string]any {
	out := map[string]any{
		"patient_id": rec.PatientID,
		"name":       rec.Name,
	}
	switch strings.ToLower(section) {
	case "medications":
		out["medications"] = rec.Medications
	case "conditions":
		out["conditions"] = rec.Conditions
	case "labs", "observations":
		out["observations"] = rec.Observations
	case "notes":
		out["notes"] = rec.Notes
	default:
		out["date_of_birth"] = rec.DateOfBirth
		out["conditions"] = rec.Conditions
		out["medications"] = rec.Medications
		out["observations"] = rec.Observations
		out["notes"] = rec.Notes
	}
	out["summary"] = fmt.Sprintf("%s (%s): %d conditions, %d active medications",
		rec.Name, rec.PatientID, len(rec.Conditions), len(rec.Medications))
	return out
}

// AppendNote adds a note to an existing chart.
func (s *RecordStore) AppendNote(ctx context.Context, args map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := stringArg(args, "patient_id")
	if id == "" {
		return nil, fmt.Errorf("missing patient_id")
	}
	content := stringArg(args, "content")
	if content == "" {
		return nil, fmt.Errorf("missing content")
	}

	rec, err := s.load(id)
	if err != nil {
		return nil, err
	}
	rec.Notes = append(rec.Notes, RecordNote{
		Category: stringArg(args, "category"),
		Content:  content,
		AddedAt:  time.Now().UTC(),
	})
	if err := s.write(*rec); err != nil {
		return nil, fmt.Errorf("failed to save note: %w", err)
	}
	return map[string]any{
		"patient_id": id,
		"summary":    fmt.Sprintf("note saved to the record of %s (%s)", rec.Name, id),
	}, nil
}
