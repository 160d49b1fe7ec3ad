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

// Package config defines the CareLoop configuration model.
//
// Configuration is loaded from a YAML file with CARELOOP_* environment
// variable overrides. Every section has SetDefaults and participates in
// Validate; a zero Config validates after SetDefaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" koanf:"server"`
	LLM      LLMConfig      `yaml:"llm" koanf:"llm"`
	Agent    AgentConfig    `yaml:"agent" koanf:"agent"`
	Sessions SessionsConfig `yaml:"sessions" koanf:"sessions"`
	Sources  SourcesConfig  `yaml:"sources" koanf:"sources"`
	Logging  LoggingConfig  `yaml:"logging" koanf:"logging"`
	Tracing  TracingConfig  `yaml:"tracing" koanf:"tracing"`
}

// ServerConfig configures the HTTP/WebSocket server.
type ServerConfig struct {
	// Host to bind to.
	Host string `yaml:"host,omitempty" koanf:"host"`

	// Port to listen on.
	Port int `yaml:"port,omitempty" koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty" koanf:"shutdown_timeout"`
}

// LLMConfig configures the model endpoint. Any OpenAI-compatible
// chat-completion server works (llama.cpp, vLLM, Ollama, OpenAI).
type LLMConfig struct {
	// BaseURL of the OpenAI-compatible endpoint.
	BaseURL string `yaml:"base_url,omitempty" koanf:"base_url"`

	// Model identifier passed to the endpoint.
	Model string `yaml:"model,omitempty" koanf:"model"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" koanf:"api_key"`

	// Timeout per model call.
	Timeout time.Duration `yaml:"timeout,omitempty" koanf:"timeout"`

	// MaxTokens default for free-form generation.
	MaxTokens int `yaml:"max_tokens,omitempty" koanf:"max_tokens"`
}

// AgentConfig configures turn execution.
type AgentConfig struct {
	// MaxToolSteps is the hard ceiling on tool-loop iterations per turn.
	MaxToolSteps int `yaml:"max_tool_steps,omitempty" koanf:"max_tool_steps"`

	// MaxRetries bounds consecutive retries of a failing tool call, whether
	// re-issued as-is or reselected with different arguments.
	MaxRetries int `yaml:"max_retries,omitempty" koanf:"max_retries"`

	// RequireApproval gates tool execution behind human approval.
	RequireApproval *bool `yaml:"require_approval,omitempty" koanf:"require_approval"`

	// EnableThinking asks the model for in-band thinking spans.
	EnableThinking bool `yaml:"enable_thinking,omitempty" koanf:"enable_thinking"`

	// ToolTimeout bounds a single tool execution.
	ToolTimeout time.Duration `yaml:"tool_timeout,omitempty" koanf:"tool_timeout"`

	// SynthesisMaxTokens caps the final response length.
	SynthesisMaxTokens int `yaml:"synthesis_max_tokens,omitempty" koanf:"synthesis_max_tokens"`

	// ExtraDrugs extends the built-in drug vocabulary used by entity
	// extraction.
	ExtraDrugs []string `yaml:"extra_drugs,omitempty" koanf:"extra_drugs"`
}

// SessionsConfig configures session persistence.
type SessionsConfig struct {
	// Dir holds one {session_id}.json file per session.
	// Empty means in-memory only.
	Dir string `yaml:"dir,omitempty" koanf:"dir"`
}

// SourcesConfig configures the external medical data sources and the
// local patient record store. Empty base URLs fall back to the public
// endpoints.
type SourcesConfig struct {
	FDABaseURL    string `yaml:"fda_base_url,omitempty" koanf:"fda_base_url"`
	PubMedBaseURL string `yaml:"pubmed_base_url,omitempty" koanf:"pubmed_base_url"`
	TrialsBaseURL string `yaml:"trials_base_url,omitempty" koanf:"trials_base_url"`

	// RecordsDir holds one {patient_id}.json chart per patient.
	RecordsDir string `yaml:"records_dir,omitempty" koanf:"records_dir"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" koanf:"level"`
	Format string `yaml:"format,omitempty" koanf:"format"`
}

// TracingConfig configures the otel tracer.
type TracingConfig struct {
	Enabled bool `yaml:"enabled,omitempty" koanf:"enabled"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8420
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:8080/v1"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.Agent.MaxToolSteps == 0 {
		c.Agent.MaxToolSteps = 5
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 2
	}
	if c.Agent.RequireApproval == nil {
		t := true
		c.Agent.RequireApproval = &t
	}
	if c.Agent.ToolTimeout == 0 {
		c.Agent.ToolTimeout = 30 * time.Second
	}
	if c.Agent.SynthesisMaxTokens == 0 {
		c.Agent.SynthesisMaxTokens = 256
	}
	if c.Sources.RecordsDir == "" {
		c.Sources.RecordsDir = "data/records"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server: port %d out of range", c.Server.Port)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm: model is required")
	}
	if c.Agent.MaxToolSteps < 1 {
		return fmt.Errorf("agent: max_tool_steps must be at least 1")
	}
	if c.Agent.MaxRetries < 0 {
		return fmt.Errorf("agent: max_retries cannot be negative")
	}
	return nil
}

// ApprovalRequired reports whether tool approval gating is on.
func (c *AgentConfig) ApprovalRequired() bool {
	return c.RequireApproval == nil || *c.RequireApproval
}
