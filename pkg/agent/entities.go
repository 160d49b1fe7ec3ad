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
	"regexp"
	"sort"
	"strings"
)

// patientIDPattern matches chart identifiers like PT001, PT-4521, pt99310.
var patientIDPattern = regexp.MustCompile(`(?i)\bPT-?(\d{3,6})\b`)

// defaultDrugVocabulary is the built-in drug lexicon. Deployments extend
// it through agent.extra_drugs in the configuration.
var defaultDrugVocabulary = []string{
	"amiodarone",
	"apixaban",
	"aspirin",
	"atorvastatin",
	"digoxin",
	"diltiazem",
	"dofetilide",
	"enalapril",
	"furosemide",
	"heparin",
	"ibuprofen",
	"insulin",
	"lisinopril",
	"metformin",
	"metoprolol",
	"omeprazole",
	"prednisone",
	"rivaroxaban",
	"sotalol",
	"spironolactone",
	"warfarin",
}

// actionVerbs are the intents a clinician phrases as imperatives. Matching
// is on word boundaries over the lowercased query.
var actionVerbs = []string{
	"analyze",
	"check",
	"document",
	"find",
	"get",
	"look up",
	"lookup",
	"prescribe",
	"record",
	"retrieve",
	"save",
	"search",
	"show",
	"verify",
}

// ExtractorOptions tune entity extraction.
type ExtractorOptions struct {
	// ExtraDrugs augments the built-in drug vocabulary.
	ExtraDrugs []string
}

// Extractor performs the deterministic scans of the input-assembly node.
// It makes no model calls and holds no mutable state after construction.
type Extractor struct {
	drugs     []string
	wordBound map[string]*regexp.Regexp
}

// NewExtractor builds an extractor over the default vocabulary plus any
// configured extras.
func NewExtractor(opts ExtractorOptions) *Extractor {
	seen := make(map[string]bool, len(defaultDrugVocabulary)+len(opts.ExtraDrugs))
	drugs := make([]string, 0, len(defaultDrugVocabulary)+len(opts.ExtraDrugs))
	for _, d := range defaultDrugVocabulary {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !seen[d] {
			seen[d] = true
			drugs = append(drugs, d)
		}
	}
	for _, d := range opts.ExtraDrugs {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && !seen[d] {
			seen[d] = true
			drugs = append(drugs, d)
		}
	}
	sort.Strings(drugs)

	bounds := make(map[string]*regexp.Regexp, len(drugs)+len(actionVerbs))
	for _, w := range drugs {
		bounds[w] = wordPattern(w)
	}
	for _, w := range actionVerbs {
		bounds[w] = wordPattern(w)
	}
	return &Extractor{drugs: drugs, wordBound: bounds}
}

func wordPattern(word string) *regexp.Regexp {
	return regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
}

// Extract scans the query and conversation history for patient identifiers,
// drug mentions, and action verbs, and flags image presence.
func (x *Extractor) Extract(query string, history []HistoryEntry, hasImage bool) Entities {
	var b strings.Builder
	b.WriteString(query)
	for _, h := range history {
		b.WriteByte('\n')
		b.WriteString(h.Content)
	}
	text := b.String()
	lower := strings.ToLower(text)

	var ents Entities
	ents.HasImage = hasImage

	seen := make(map[string]bool)
	for _, m := range patientIDPattern.FindAllStringSubmatch(text, -1) {
		id := "PT" + m[1]
		if !seen[id] {
			seen[id] = true
			ents.PatientIDs = append(ents.PatientIDs, id)
		}
	}

	for _, d := range x.drugs {
		if x.wordBound[d].MatchString(lower) {
			ents.Drugs = append(ents.Drugs, d)
		}
	}

	// Verbs only count in the current query, not the history; an earlier
	// turn's "check" must not re-trigger action intent.
	queryLower := strings.ToLower(query)
	for _, v := range actionVerbs {
		if x.wordBound[v].MatchString(queryLower) {
			ents.Actions = append(ents.Actions, v)
		}
	}
	return ents
}
