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

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/careloop/careloop/pkg/config"
)

// OpenAIProvider talks to any OpenAI-compatible chat-completion endpoint
// (llama.cpp, vLLM, Ollama, OpenAI itself).
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	maxTok  int
}

// NewOpenAIProvider builds a provider from config.
func NewOpenAIProvider(cfg *config.LLMConfig) (*OpenAIProvider, error) {
	if cfg == nil || cfg.Model == "" {
		return nil, fmt.Errorf("llm config with a model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		maxTok:  cfg.MaxTokens,
	}, nil
}

// Generate performs a free-form chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, opts Options) (string, error) {
	resp, err := p.complete(ctx, messages, opts, nil)
	if err != nil {
		return "", err
	}
	return opts.Prefill + resp, nil
}

// GenerateStructured performs a completion constrained to schema and
// validates the result. The endpoint's json_schema response format does the
// constraining where supported; validation catches everything else.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, schema *Schema, opts Options) ([]byte, error) {
	format := &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   schema.Name,
			Schema: schema.Raw,
			Strict: true,
		},
	}

	text, err := p.complete(ctx, messages, opts, format)
	if err != nil {
		return nil, err
	}

	// Thinking-capable models prepend a thinking span even in JSON mode.
	_, visible := SplitThinking(opts.Prefill + text)

	if err := schema.Validate([]byte(visible)); err != nil {
		slog.Warn("structured output rejected", "schema", schema.Name, "error", err)
		return nil, err
	}
	return []byte(visible), nil
}

func (p *OpenAIProvider) complete(ctx context.Context, messages []Message, opts Options, format *openai.ChatCompletionResponseFormat) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:          p.model,
		Messages:       toOpenAIMessages(messages, opts.Prefill),
		ResponseFormat: format,
	}

	req.MaxTokens = opts.MaxTokens
	if req.MaxTokens == 0 {
		req.MaxTokens = p.maxTok
	}

	// go-openai drops a zero temperature via omitempty, which would fall
	// back to the server default. The smallest nonzero float32 survives
	// serialization and still selects greedy decoding.
	if opts.Temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	} else {
		req.Temperature = float32(opts.Temperature)
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message, prefill string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if prefill != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: prefill})
	}
	return out
}

var _ Provider = (*OpenAIProvider)(nil)
