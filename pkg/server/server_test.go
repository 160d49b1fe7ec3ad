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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/careloop/pkg/agent"
	"github.com/careloop/careloop/pkg/config"
	"github.com/careloop/careloop/pkg/events"
	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/session"
	"github.com/careloop/careloop/pkg/tools"
	"github.com/careloop/careloop/pkg/tools/clinical"
)

// queueProvider replays scripted model outputs, keyed by schema name for
// structured calls.
type queueProvider struct {
	mu         sync.Mutex
	structured map[string][]string
	responses  []string
}

func (p *queueProvider) Generate(ctx context.Context, _ []model.Message, _ model.Options) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	out := p.responses[0]
	p.responses = p.responses[1:]
	return out, nil
}

func (p *queueProvider) GenerateStructured(ctx context.Context, _ []model.Message, schema *model.Schema, _ model.Options) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.structured[schema.Name]
	if len(q) == 0 {
		return nil, fmt.Errorf("no scripted output for %s", schema.Name)
	}
	out := q[0]
	p.structured[schema.Name] = q[1:]
	return []byte(out), nil
}

type fixedEndpoints struct{}

func (fixedEndpoints) CheckDrugSafety(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"summary": "boxed warning on file"}, nil
}
func (fixedEndpoints) SearchLiterature(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"summary": "two citations"}, nil
}
func (fixedEndpoints) SearchTrials(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"summary": "no trials"}, nil
}
func (fixedEndpoints) GetPatientRecord(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"summary": "record"}, nil
}
func (fixedEndpoints) SaveToRecord(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"summary": "saved"}, nil
}
func (fixedEndpoints) AnalyzeImage(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{"findings": "unremarkable"}, nil
}

func newTestServer(t *testing.T, provider *queueProvider) (*Server, *session.MemoryStore) {
	t.Helper()

	reg := tools.NewRegistry()
	require.NoError(t, clinical.RegisterAll(reg, fixedEndpoints{}))
	reg.Freeze()

	var root config.Config
	root.SetDefaults()

	store := session.NewMemoryStore()
	runner, err := agent.NewRunner(provider, reg, store, root.Agent, nil)
	require.NoError(t, err)

	return New(root.Server, store, runner, reg, nil), store
}

func TestREST_SessionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &queueProvider{structured: map[string][]string{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Create.
	resp, err := http.Post(ts.URL+"/sessions", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created session.Session
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, session.StatusIdle, created.Status)

	// List.
	resp, err = http.Get(ts.URL + "/sessions")
	require.NoError(t, err)
	var listed struct {
		Sessions []session.Session `json:"sessions"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	resp.Body.Close()
	require.Len(t, listed.Sessions, 1)

	// Get.
	resp, err = http.Get(ts.URL + "/sessions/" + created.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Messages (empty).
	resp, err = http.Get(ts.URL + "/sessions/" + created.ID + "/messages")
	require.NoError(t, err)
	var msgs struct {
		Messages []session.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	resp.Body.Close()
	assert.Empty(t, msgs.Messages)

	// Delete.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/sessions/"+created.ID, nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/sessions/" + created.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestREST_ListTools(t *testing.T) {
	srv, _ := newTestServer(t, &queueProvider{structured: map[string][]string{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/tools")
	require.NoError(t, err)
	var body struct {
		Tools []tools.Definition `json:"tools"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()

	require.Len(t, body.Tools, 6)
	names := make([]string, len(body.Tools))
	for i, d := range body.Tools {
		names[i] = d.Name
	}
	assert.Contains(t, names, clinical.ToolCheckDrugSafety)
	assert.NotEmpty(t, body.Tools[0].Description)
	assert.NotEmpty(t, body.Tools[0].Args)
}

func TestREST_Health(t *testing.T) {
	srv, _ := newTestServer(t, &queueProvider{structured: map[string][]string{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func wsDial(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func wsReadUntil(t *testing.T, conn *websocket.Conn, kind events.Kind) []events.Event {
	t.Helper()
	var out []events.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		out = append(out, ev)
		if ev.Kind == kind {
			return out
		}
	}
}

func TestWS_DirectTurn(t *testing.T) {
	provider := &queueProvider{
		structured: map[string][]string{
			"intent_classification": {`{"intent":"direct","task_summary":"define afib","tool_hint":""}`},
		},
		responses: []string{"Atrial fibrillation is an irregular, often rapid atrial rhythm."},
	}
	srv, store := newTestServer(t, provider)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sess, err := store.Create(context.Background())
	require.NoError(t, err)

	conn := wsDial(t, ts, sess.ID)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "user_message",
		"content": "What is atrial fibrillation?",
	}))

	evs := wsReadUntil(t, conn, events.KindCompletion)
	final := evs[len(evs)-1]
	assert.Equal(t, 0, final.ToolCallsMade)
	assert.Contains(t, final.FinalResponse, "irregular")
}

func TestWS_ApprovalRoundTrip(t *testing.T) {
	provider := &queueProvider{
		structured: map[string][]string{
			"intent_classification": {`{"intent":"tool_needed","task_summary":"check dofetilide warnings","tool_hint":"check_drug_safety"}`},
			"tool_selection":        {`{"tool_name":"check_drug_safety","drug_name":"dofetilide"}`},
			"result_classification": {`{"quality":"success_rich","reasoning":"warning returned"}`},
		},
		responses: []string{"There is a boxed warning on file; initiate therapy with monitoring."},
	}
	srv, store := newTestServer(t, provider)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sess, err := store.Create(context.Background())
	require.NoError(t, err)

	conn := wsDial(t, ts, sess.ID)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "user_message",
		"content": "Check FDA boxed warnings for dofetilide",
	}))

	pre := wsReadUntil(t, conn, events.KindToolApprovalRequest)
	approval := pre[len(pre)-1]
	assert.Equal(t, clinical.ToolCheckDrugSafety, approval.ToolName)

	approved := true
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":     "tool_approval",
		"approved": approved,
	}))

	rest := wsReadUntil(t, conn, events.KindCompletion)
	final := rest[len(rest)-1]
	assert.Equal(t, 1, final.ToolCallsMade)

	execStarts := 0
	for _, ev := range rest {
		if ev.Kind == events.KindToolExecutionStart {
			execStarts++
		}
	}
	assert.Equal(t, 1, execStarts)
}

func TestWS_UnknownSession(t *testing.T) {
	srv, _ := newTestServer(t, &queueProvider{structured: map[string][]string{}})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/sessions/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
