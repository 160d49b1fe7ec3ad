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

// Package clinical registers the clinical tool set.
//
// The per-tool HTTP plumbing lives behind the Endpoints interface; this
// package owns the names, clinician-facing labels, argument schemas, and
// remaps the rest of the engine depends on. Argument order is
// critical-first: patient identifier fields come before everything else,
// matching the tool-selection schema contract.
package clinical

import (
	"context"

	"github.com/careloop/careloop/pkg/tools"
)

// Tool names as registered.
const (
	ToolCheckDrugSafety  = "check_drug_safety"
	ToolSearchLiterature = "search_literature"
	ToolSearchTrials     = "search_trials"
	ToolGetPatientRecord = "get_patient_record"
	ToolSaveToRecord     = "save_to_record"
	ToolAnalyzeImage     = "analyze_image"
)

// Endpoints is the external collaborator boundary: one method per medical
// data source. Implementations convert their internal failures to errors;
// the registry turns those into error-shaped results.
type Endpoints interface {
	CheckDrugSafety(ctx context.Context, args map[string]any) (map[string]any, error)
	SearchLiterature(ctx context.Context, args map[string]any) (map[string]any, error)
	SearchTrials(ctx context.Context, args map[string]any) (map[string]any, error)
	GetPatientRecord(ctx context.Context, args map[string]any) (map[string]any, error)
	SaveToRecord(ctx context.Context, args map[string]any) (map[string]any, error)
	AnalyzeImage(ctx context.Context, args map[string]any) (map[string]any, error)
}

// RegisterAll adds the six clinical tools to the registry.
func RegisterAll(reg *tools.Registry, ep Endpoints) error {
	defs := []tools.Definition{
		{
			Name:        ToolCheckDrugSafety,
			Label:       "drug safety lookup",
			Description: "boxed warnings, contraindications and interactions for a drug",
			Args: []tools.ArgSpec{
				{Name: "drug_name", Type: "string", Description: "generic or brand drug name"},
				{Name: "interacting_drug", Type: "string", Description: "optional second drug to check interactions against"},
			},
			Execute: ep.CheckDrugSafety,
		},
		{
			Name:        ToolSearchLiterature,
			Label:       "literature search",
			Description: "peer-reviewed literature search",
			Args: []tools.ArgSpec{
				{Name: "query", Type: "string", Description: "clinical question or keywords"},
				{Name: "max_results", Type: "integer", Description: "maximum number of citations"},
			},
			Remap:   map[string]string{"max_results": "limit"},
			Execute: ep.SearchLiterature,
		},
		{
			Name:        ToolSearchTrials,
			Label:       "trial registry search",
			Description: "recruiting and completed clinical trials",
			Args: []tools.ArgSpec{
				{Name: "condition", Type: "string", Description: "condition or disease"},
				{Name: "intervention", Type: "string", Description: "optional drug or procedure"},
				{Name: "status", Type: "string", Description: "optional recruitment status filter"},
			},
			Execute: ep.SearchTrials,
		},
		{
			Name:        ToolGetPatientRecord,
			Label:       "patient record lookup",
			Description: "demographics, conditions, medications and observations from the record store",
			Args: []tools.ArgSpec{
				{Name: "patient_id", Type: "string", Description: "patient identifier"},
				{Name: "patient_name", Type: "string", Description: "patient name when no identifier is known"},
				{Name: "section", Type: "string", Description: "optional record section (medications, conditions, labs)"},
			},
			Execute: ep.GetPatientRecord,
		},
		{
			Name:        ToolSaveToRecord,
			Label:       "record update",
			Description: "append a clinical note or observation to a patient record",
			Args: []tools.ArgSpec{
				{Name: "patient_id", Type: "string", Description: "patient identifier"},
				{Name: "content", Type: "string", Description: "note or observation text"},
				{Name: "category", Type: "string", Description: "optional note category"},
			},
			Execute: ep.SaveToRecord,
		},
		{
			Name:        ToolAnalyzeImage,
			Label:       "image analysis",
			Description: "findings from an attached medical image",
			Args: []tools.ArgSpec{
				{Name: "patient_id", Type: "string", Description: "optional patient identifier for context"},
				{Name: "question", Type: "string", Description: "what to look for in the image"},
			},
			Execute: ep.AnalyzeImage,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}
