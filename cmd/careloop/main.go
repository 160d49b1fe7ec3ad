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

// Command careloop runs the clinical decision-support server.
//
// Usage:
//
//	careloop serve --config careloop.yaml
//	careloop validate --config careloop.yaml
//	careloop version
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/careloop/careloop/pkg/agent"
	"github.com/careloop/careloop/pkg/config"
	"github.com/careloop/careloop/pkg/logger"
	"github.com/careloop/careloop/pkg/model"
	"github.com/careloop/careloop/pkg/observability"
	"github.com/careloop/careloop/pkg/server"
	"github.com/careloop/careloop/pkg/session"
	"github.com/careloop/careloop/pkg/tools"
	"github.com/careloop/careloop/pkg/tools/clinical"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the server."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:""`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("careloop %s\n", version)
	return nil
}

// ValidateCmd loads and validates a configuration file.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("%s: configuration is valid\n", cli.Config)
	return nil
}

// ServeCmd starts the HTTP/WebSocket server.
type ServeCmd struct {
	Port int `help:"Port to listen on (overrides config)." default:"0"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return err
	}

	obs, err := observability.New(observability.Config{Enabled: cfg.Tracing.Enabled})
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	provider, err := model.NewOpenAIProvider(&cfg.LLM)
	if err != nil {
		return err
	}

	records, err := clinical.NewRecordStore(cfg.Sources.RecordsDir)
	if err != nil {
		return err
	}
	endpoints := clinical.NewRemoteEndpoints(clinical.RemoteConfig{
		FDABaseURL:    cfg.Sources.FDABaseURL,
		PubMedBaseURL: cfg.Sources.PubMedBaseURL,
		TrialsBaseURL: cfg.Sources.TrialsBaseURL,
	}, records, nil)

	registry := tools.NewRegistry(
		tools.WithTimeout(cfg.Agent.ToolTimeout),
		tools.WithObservability(obs.Tracer(), obs.Metrics()),
	)
	if err := clinical.RegisterAll(registry, endpoints); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}
	registry.Freeze()

	var store session.Store
	if cfg.Sessions.Dir != "" {
		fs, err := session.NewFileStore(cfg.Sessions.Dir)
		if err != nil {
			return err
		}
		store = fs
		slog.Info("session persistence enabled", "dir", cfg.Sessions.Dir)
	} else {
		store = session.NewMemoryStore()
	}

	runner, err := agent.NewRunner(provider, registry, store, cfg.Agent, obs)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, store, runner, registry, obs.Metrics())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		if err := obs.Shutdown(ctx); err != nil {
			slog.Error("trace flush error", "error", err)
		}
	}()

	slog.Info("model endpoint", "base_url", cfg.LLM.BaseURL, "model", cfg.LLM.Model)
	slog.Info("approval gating", "enabled", cfg.Agent.ApprovalRequired())
	return srv.Start()
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("careloop"),
		kong.Description("CareLoop - clinical decision-support engine"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
