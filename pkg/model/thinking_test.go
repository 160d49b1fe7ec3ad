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

package model

import "testing"

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		wantThinking string
		wantVisible  string
	}{
		{
			name:        "no_thinking_span",
			raw:         "Hypertension is elevated blood pressure.",
			wantVisible: "Hypertension is elevated blood pressure.",
		},
		{
			name:         "closed_span",
			raw:          "<think>user asks a definition</think>Hypertension is elevated blood pressure.",
			wantThinking: "user asks a definition",
			wantVisible:  "Hypertension is elevated blood pressure.",
		},
		{
			name:         "unclosed_span_consumes_rest",
			raw:          "<think>the budget ran out mid-thought",
			wantThinking: "the budget ran out mid-thought",
			wantVisible:  "",
		},
		{
			name:         "text_before_span",
			raw:          "Short answer. <think>should I elaborate",
			wantThinking: "should I elaborate",
			wantVisible:  "Short answer.",
		},
		{
			name:         "span_mid_text",
			raw:          "A<think>hidden</think> B",
			wantThinking: "hidden",
			wantVisible:  "A B",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, visible := SplitThinking(tt.raw)
			if thinking != tt.wantThinking {
				t.Errorf("thinking = %q, want %q", thinking, tt.wantThinking)
			}
			if visible != tt.wantVisible {
				t.Errorf("visible = %q, want %q", visible, tt.wantVisible)
			}
		})
	}
}
