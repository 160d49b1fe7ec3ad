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

// Package model provides uniform access to the language model.
//
// The engine depends on exactly two operations: free-form text generation
// and schema-constrained generation. Providers constrain the decoder where
// the endpoint supports it and always validate the output against the
// declared schema, so callers never see non-conforming values.
package model

import (
	"context"
	"errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the prompt message sequence.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options are per-call sampling parameters.
type Options struct {
	// MaxTokens caps the generated length. Zero means the provider default.
	MaxTokens int

	// Temperature 0 means deterministic greedy decoding.
	Temperature float64

	// Prefill is an optional assistant-turn prefix the model continues from.
	Prefill string
}

// ErrSchemaViolation is returned when the model output does not conform
// to the declared schema after constrained decoding.
var ErrSchemaViolation = errors.New("model output violates declared schema")

// Provider is the narrow model capability the engine codes against.
//
// Generate returns the raw generated text, including any in-band thinking
// span the model emitted; callers split thinking from visible content with
// SplitThinking.
type Provider interface {
	Generate(ctx context.Context, messages []Message, opts Options) (string, error)

	// GenerateStructured returns the JSON encoding of a value conforming to
	// schema. A non-conforming output yields an error wrapping
	// ErrSchemaViolation.
	GenerateStructured(ctx context.Context, messages []Message, schema *Schema, opts Options) ([]byte, error)
}
