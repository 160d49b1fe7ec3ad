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

// Package observability wires tracing and metrics for the engine.
//
// Tracing uses otel with a stdout exporter when enabled and a noop tracer
// otherwise, so call sites never branch. Metrics are prometheus collectors
// on a private registry exposed through Handler.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls tracing.
type Config struct {
	Enabled bool
}

// Manager owns the tracer provider and metric collectors.
type Manager struct {
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	metrics  *Metrics
}

// New builds a Manager. With tracing disabled the tracer is a noop.
func New(cfg Config) (*Manager, error) {
	m := &Manager{
		tracer:  noop.NewTracerProvider().Tracer("careloop"),
		metrics: NewMetrics(),
	}

	if cfg.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		m.provider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		m.tracer = m.provider.Tracer("careloop")
	}

	return m, nil
}

// Tracer returns the engine tracer.
func (m *Manager) Tracer() trace.Tracer { return m.tracer }

// Metrics returns the metric collectors.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Shutdown flushes pending spans.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// Metrics holds the engine's prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TurnsTotal     *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	NodeDuration   *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careloop_turns_total",
			Help: "Completed turns by outcome.",
		}, []string{"outcome"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "careloop_tool_executions_total",
			Help: "Tool executions by tool name and success.",
		}, []string{"tool", "success"}),
		NodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "careloop_node_duration_seconds",
			Help:    "Graph node execution duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node"}),
	}
	reg.MustRegister(m.TurnsTotal, m.ToolExecutions, m.NodeDuration)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
