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

import "strings"

const (
	thinkingOpen  = "<think>"
	thinkingClose = "</think>"
)

// SplitThinking separates an in-band thinking span from visible content.
// Small models often emit "<think>...</think>" ahead of the answer; the
// closing tag is frequently absent when the span runs to the token budget,
// in which case everything after the opening tag is thinking.
func SplitThinking(raw string) (thinking, visible string) {
	start := strings.Index(raw, thinkingOpen)
	if start < 0 {
		return "", raw
	}

	before := raw[:start]
	rest := raw[start+len(thinkingOpen):]

	end := strings.Index(rest, thinkingClose)
	if end < 0 {
		return strings.TrimSpace(rest), strings.TrimSpace(before)
	}

	thinking = strings.TrimSpace(rest[:end])
	visible = strings.TrimSpace(before + rest[end+len(thinkingClose):])
	return thinking, visible
}
