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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/careloop/careloop/pkg/observability"
)

// RegistryError carries component context across the registry boundary.
type RegistryError struct {
	Action  string
	Message string
	Err     error
}

func (e *RegistryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[registry:%s] %s: %v", e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[registry:%s] %s", e.Action, e.Message)
}

func (e *RegistryError) Unwrap() error { return e.Err }

// Registry dispatches tool executions by name. It is populated during
// startup, frozen, and read-only afterwards.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	order   []string
	frozen  bool
	timeout time.Duration

	tracer  trace.Tracer
	metrics *observability.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithTimeout bounds every execution. Default 30s.
func WithTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.timeout = d }
}

// WithObservability attaches tracing and metrics.
func WithObservability(tracer trace.Tracer, metrics *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.tracer = tracer
		r.metrics = metrics
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs:    make(map[string]Definition),
		timeout: 30 * time.Second,
		tracer:  noop.NewTracerProvider().Tracer("careloop"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Names are unique; the sentinel "none" is reserved.
func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return &RegistryError{Action: "register", Message: "registry is frozen"}
	}
	if def.Name == "" {
		return &RegistryError{Action: "register", Message: "tool name cannot be empty"}
	}
	if def.Name == SentinelNone {
		return &RegistryError{Action: "register", Message: `"none" is reserved`}
	}
	if def.Execute == nil {
		return &RegistryError{Action: "register", Message: fmt.Sprintf("tool %s has no executor", def.Name)}
	}
	if _, exists := r.defs[def.Name]; exists {
		return &RegistryError{Action: "register", Message: fmt.Sprintf("tool %s already registered", def.Name)}
	}

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Freeze marks the registry read-only. Registration after Freeze fails.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// List returns all definitions sorted by name, for the /tools endpoint.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PromptListing renders the deterministic tool listing used in prompts:
// one "- name: arg1, arg2 (description)" line per tool in registration
// order, terminated by the sentinel line.
func (r *Registry) PromptListing() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	for _, name := range r.order {
		def := r.defs[name]
		argNames := make([]string, len(def.Args))
		for i, a := range def.Args {
			argNames[i] = a.Name
		}
		fmt.Fprintf(&b, "- %s: %s (%s)\n", def.Name, strings.Join(argNames, ", "), def.Description)
	}
	b.WriteString("- none: no tool needed")
	return b.String()
}

// Execute dispatches a tool call. It never returns an error: the result is
// either the executor's map, a skipped marker for the "none" sentinel, or
// an error-shaped map {"error": "..."}.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) map[string]any {
	if name == "" || name == SentinelNone {
		return map[string]any{"skipped": true, "reason": "no tool needed"}
	}

	def, ok := r.Get(name)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool: %s", name)}
	}

	ctx, span := r.tracer.Start(ctx, "tools.execute",
		trace.WithAttributes(attribute.String("tool.name", name)))
	defer span.End()

	prepared, err := def.prepareArgs(args)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		r.count(name, false)
		return map[string]any{"error": err.Error()}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	result := r.invoke(ctx, def, prepared)
	if errMsg, failed := result["error"].(string); failed {
		span.SetStatus(codes.Error, errMsg)
		r.count(name, false)
	} else {
		r.count(name, true)
	}
	return result
}

// invoke runs the executor with panic capture. A panicking executor yields
// an error-shaped result, never an escaped panic.
func (r *Registry) invoke(ctx context.Context, def Definition, args map[string]any) (result map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("tool executor panicked", "tool", def.Name, "panic", rec)
			result = map[string]any{"error": fmt.Sprintf("tool %s failed internally", def.Name)}
		}
	}()

	out, err := def.Execute(ctx, args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out
}

// prepareArgs drops nil values, rejects arguments outside the schema, and
// applies the executor-parameter remap.
func (d Definition) prepareArgs(args map[string]any) (map[string]any, error) {
	known := make(map[string]bool, len(d.Args))
	for _, a := range d.Args {
		known[a.Name] = true
	}

	out := make(map[string]any, len(args))
	for k, v := range args {
		if v == nil {
			continue
		}
		if !known[k] {
			return nil, fmt.Errorf("unexpected argument %q for tool %s", k, d.Name)
		}
		key := k
		if mapped, ok := d.Remap[k]; ok {
			key = mapped
		}
		out[key] = v
	}
	return out, nil
}

func (r *Registry) count(name string, success bool) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolExecutions.WithLabelValues(name, strconv.FormatBool(success)).Inc()
}
