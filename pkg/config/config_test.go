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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.SetDefaults()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Agent.MaxToolSteps)
	assert.Equal(t, 2, cfg.Agent.MaxRetries)
	assert.True(t, cfg.Agent.ApprovalRequired())
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, "data/records", cfg.Sources.RecordsDir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		var cfg Config
		cfg.SetDefaults()
		cfg.LLM.Model = "medgemma"
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		cfg := valid()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := valid()
		cfg.LLM.Model = ""
		assert.ErrorContains(t, cfg.Validate(), "model is required")
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Server.Port = 70000
		assert.ErrorContains(t, cfg.Validate(), "out of range")
	})

	t.Run("negative retries", func(t *testing.T) {
		cfg := valid()
		cfg.Agent.MaxRetries = -1
		assert.ErrorContains(t, cfg.Validate(), "cannot be negative")
	})
}

func TestLoad_FileAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9001
llm:
  model: medgemma
agent:
  max_tool_steps: 3
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "medgemma", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.Agent.MaxToolSteps)
	// Untouched sections still get defaults.
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 2, cfg.Agent.MaxRetries)
}

func TestLoad_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: medgemma
  base_url: http://from-file:8080/v1
`), 0o644))

	t.Setenv("CARELOOP_LLM__BASE_URL", "http://from-env:9090/v1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:9090/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "medgemma", cfg.LLM.Model)
}

func TestLoad_APIKeyExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: medgemma
  api_key: ${TEST_CARELOOP_KEY}
`), 0o644))

	t.Setenv("TEST_CARELOOP_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "careloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: ""
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorContains(t, err, "invalid configuration")
}
