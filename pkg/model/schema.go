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
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema is a declared output schema for constrained generation: the raw
// JSON schema sent to the endpoint plus a compiled validator applied to
// whatever comes back.
type Schema struct {
	Name string
	Raw  json.RawMessage

	compiled *jsv.Schema
}

// NewSchema compiles a raw JSON schema.
func NewSchema(name string, raw json.RawMessage) (*Schema, error) {
	compiler := jsv.NewCompiler()
	compiler.Draft = jsv.Draft2020
	if err := compiler.AddResource(name+".json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name + ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, Raw: raw, compiled: compiled}, nil
}

// SchemaFor derives a schema from a Go struct type. Property order follows
// struct field order, so critical-first argument ordering is expressed by
// field order in the declaring struct. Enum restrictions come from
// jsonschema struct tags.
func SchemaFor[T any](name string) (*Schema, error) {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	var zero T
	reflected := reflector.Reflect(&zero)
	reflected.Version = "" // local-only schema, no $schema pinning

	raw, err := json.Marshal(reflected)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal reflected schema for %s: %w", name, err)
	}
	return NewSchema(name, raw)
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: output is not valid JSON: %v", ErrSchemaViolation, err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return nil
}

// Decode generates a schema-constrained value and unmarshals it into T.
// The schema is derived from T; thinking spans are stripped before parsing.
func Decode[T any](ctx context.Context, p Provider, name string, messages []Message, opts Options) (T, error) {
	var out T

	schema, err := SchemaFor[T](name)
	if err != nil {
		return out, err
	}

	raw, err := p.GenerateStructured(ctx, messages, schema, opts)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
	}
	return out, nil
}
