package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"serp-mcp/internal/domain"
)

// inputSchema is a tool's compiled parameter schema plus the set of
// top-level property names used to drop undeclared keys.
type inputSchema struct {
	compiled *jsonschema.Schema
	declared map[string]struct{}
}

// compileInputSchema compiles raw once. A schema that does not compile is a
// registration error, never a call-time one.
func compileInputSchema(name string, raw json.RawMessage) (*inputSchema, error) {
	if len(bytes.TrimSpace(raw)) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("tool %q: input schema is required", name)
	}

	var doc struct {
		Type       string                     `json:"type"`
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %q: parse input schema: %w", name, err)
	}
	if doc.Type != "object" {
		return nil, fmt.Errorf("tool %q: input schema must describe an object, got %q", name, doc.Type)
	}

	url := name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tool %q: add schema resource: %w", name, err)
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tool %q: compile schema: %w", name, err)
	}

	declared := make(map[string]struct{}, len(doc.Properties))
	for k := range doc.Properties {
		declared[k] = struct{}{}
	}
	return &inputSchema{compiled: compiled, declared: declared}, nil
}

// normalize validates raw against the schema and returns the parameter map
// handed to handlers: undeclared keys dropped, numbers kept as json.Number.
func (s *inputSchema) normalize(raw json.RawMessage) (map[string]any, error) {
	const op = "tool.validate"

	if len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null" {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("parameters are not valid JSON: %v", err))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, "parameters must be a JSON object")
	}

	if err := s.compiled.Validate(obj); err != nil {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, describeViolation(err))
	}

	params := make(map[string]any, len(obj))
	for k, val := range obj {
		if _, ok := s.declared[k]; ok {
			params[k] = val
		}
	}
	return params, nil
}

// describeViolation flattens a schema validation error into one line per
// failing location.
func describeViolation(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var leaves []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			leaves = append(leaves, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(leaves, "; ")
}
