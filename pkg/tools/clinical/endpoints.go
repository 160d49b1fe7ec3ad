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
	"fmt"
	"net/url"
	"strings"

	"github.com/careloop/careloop/pkg/httpclient"
)

// RemoteConfig names the public medical data sources.
type RemoteConfig struct {
	FDABaseURL    string `yaml:"fda_base_url,omitempty" koanf:"fda_base_url"`
	PubMedBaseURL string `yaml:"pubmed_base_url,omitempty" koanf:"pubmed_base_url"`
	TrialsBaseURL string `yaml:"trials_base_url,omitempty" koanf:"trials_base_url"`
}

// SetDefaults fills in the public endpoints.
func (c *RemoteConfig) SetDefaults() {
	if c.FDABaseURL == "" {
		c.FDABaseURL = "https://api.fda.gov"
	}
	if c.PubMedBaseURL == "" {
		c.PubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if c.TrialsBaseURL == "" {
		c.TrialsBaseURL = "https://clinicaltrials.gov/api/v2"
	}
}

// RemoteEndpoints implements Endpoints against openFDA, PubMed and
// ClinicalTrials.gov, with patient records served from the local store.
// Executor errors carry clinician-safe wording; transport failures keep
// their transient phrasing so classification can route a retry.
type RemoteEndpoints struct {
	http    *httpclient.Client
	cfg     RemoteConfig
	records *RecordStore
}

// NewRemoteEndpoints builds the live endpoint set.
func NewRemoteEndpoints(cfg RemoteConfig, records *RecordStore, hc *httpclient.Client) *RemoteEndpoints {
	cfg.SetDefaults()
	if hc == nil {
		hc = httpclient.New()
	}
	return &RemoteEndpoints{http: hc, cfg: cfg, records: records}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func (e *RemoteEndpoints) CheckDrugSafety(ctx context.Context, args map[string]any) (map[string]any, error) {
	drug := stringArg(args, "drug_name")
	if drug == "" {
		return nil, fmt.Errorf("missing drug_name")
	}

	var resp struct {
		Results []struct {
			BoxedWarning      []string `json:"boxed_warning"`
			Warnings          []string `json:"warnings"`
			DrugInteractions  []string `json:"drug_interactions"`
			Contraindications []string `json:"contraindications"`
		} `json:"results"`
	}
	u := fmt.Sprintf("%s/drug/label.json?search=openfda.generic_name:%s&limit=1",
		e.cfg.FDABaseURL, url.QueryEscape(fmt.Sprintf("%q", drug)))
	if err := e.http.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("no safety records found for %s", drug)
	}

	label := resp.Results[0]
	out := map[string]any{
		"drug_name":         drug,
		"boxed_warning":     firstOrEmpty(label.BoxedWarning),
		"warnings":          firstOrEmpty(label.Warnings),
		"contraindications": firstOrEmpty(label.Contraindications),
	}
	if interacting := stringArg(args, "interacting_drug"); interacting != "" {
		out["interactions"] = filterMentions(label.DrugInteractions, interacting)
	}
	out["summary"] = safetySummary(drug, label.BoxedWarning, label.Warnings)
	return out, nil
}

func (e *RemoteEndpoints) SearchLiterature(ctx context.Context, args map[string]any) (map[string]any, error) {
	query := stringArg(args, "query")
	if query == "" {
		return nil, fmt.Errorf("missing query")
	}
	limit := intArg(args, "limit", 5)

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	u := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&retmode=json&retmax=%d&term=%s",
		e.cfg.PubMedBaseURL, limit, url.QueryEscape(query))
	if err := e.http.GetJSON(ctx, u, &search); err != nil {
		return nil, err
	}
	ids := search.ESearchResult.IDList
	if len(ids) == 0 {
		return nil, fmt.Errorf("no results found for the literature query")
	}

	var summary struct {
		Result map[string]any `json:"result"`
	}
	u = fmt.Sprintf("%s/esummary.fcgi?db=pubmed&retmode=json&id=%s",
		e.cfg.PubMedBaseURL, strings.Join(ids, ","))
	if err := e.http.GetJSON(ctx, u, &summary); err != nil {
		return nil, err
	}

	citations := make([]map[string]any, 0, len(ids))
	titles := make([]string, 0, len(ids))
	for _, id := range ids {
		entry, ok := summary.Result[id].(map[string]any)
		if !ok {
			continue
		}
		title, _ := entry["title"].(string)
		source, _ := entry["source"].(string)
		pubdate, _ := entry["pubdate"].(string)
		citations = append(citations, map[string]any{
			"pmid": id, "title": title, "journal": source, "published": pubdate,
		})
		titles = append(titles, title)
	}
	return map[string]any{
		"citations": citations,
		"summary":   fmt.Sprintf("%d publications found, most relevant: %s", len(citations), strings.Join(titles, "; ")),
	}, nil
}

func (e *RemoteEndpoints) SearchTrials(ctx context.Context, args map[string]any) (map[string]any, error) {
	condition := stringArg(args, "condition")
	if condition == "" {
		return nil, fmt.Errorf("missing condition")
	}

	params := url.Values{}
	params.Set("query.cond", condition)
	params.Set("pageSize", "5")
	if intervention := stringArg(args, "intervention"); intervention != "" {
		params.Set("query.intr", intervention)
	}
	if status := stringArg(args, "status"); status != "" {
		params.Set("filter.overallStatus", strings.ToUpper(status))
	}

	var resp struct {
		Studies []struct {
			ProtocolSection struct {
				IdentificationModule struct {
					NCTID      string `json:"nctId"`
					BriefTitle string `json:"briefTitle"`
				} `json:"identificationModule"`
				StatusModule struct {
					OverallStatus string `json:"overallStatus"`
				} `json:"statusModule"`
			} `json:"protocolSection"`
		} `json:"studies"`
	}
	u := fmt.Sprintf("%s/studies?%s", e.cfg.TrialsBaseURL, params.Encode())
	if err := e.http.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	if len(resp.Studies) == 0 {
		return nil, fmt.Errorf("no trials found for %s", condition)
	}

	trials := make([]map[string]any, 0, len(resp.Studies))
	for _, s := range resp.Studies {
		id := s.ProtocolSection.IdentificationModule
		trials = append(trials, map[string]any{
			"nct_id": id.NCTID,
			"title":  id.BriefTitle,
			"status": s.ProtocolSection.StatusModule.OverallStatus,
		})
	}
	return map[string]any{
		"trials":  trials,
		"summary": fmt.Sprintf("%d registered trials for %s", len(trials), condition),
	}, nil
}

func (e *RemoteEndpoints) GetPatientRecord(ctx context.Context, args map[string]any) (map[string]any, error) {
	return e.records.Lookup(ctx, args)
}

func (e *RemoteEndpoints) SaveToRecord(ctx context.Context, args map[string]any) (map[string]any, error) {
	return e.records.AppendNote(ctx, args)
}

func (e *RemoteEndpoints) AnalyzeImage(ctx context.Context, args map[string]any) (map[string]any, error) {
	// Needs a vision-capable endpoint, which the default deployment does
	// not configure.
	return nil, fmt.Errorf("image analysis is currently unavailable")
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

func filterMentions(texts []string, drug string) []string {
	lower := strings.ToLower(drug)
	var out []string
	for _, t := range texts {
		if strings.Contains(strings.ToLower(t), lower) {
			out = append(out, t)
		}
	}
	return out
}

func safetySummary(drug string, boxed, warnings []string) string {
	switch {
	case len(boxed) > 0:
		return fmt.Sprintf("%s carries a boxed warning: %s", drug, truncateText(boxed[0], 400))
	case len(warnings) > 0:
		return fmt.Sprintf("%s warnings: %s", drug, truncateText(warnings[0], 400))
	default:
		return fmt.Sprintf("no boxed warning on file for %s", drug)
	}
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
