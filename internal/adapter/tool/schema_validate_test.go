package tool

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serp-mcp/internal/domain"
)

const keywordSchema = `{
	"type": "object",
	"properties": {
		"keyword":  {"type": "string", "minLength": 1},
		"depth":    {"type": "integer", "minimum": 1, "maximum": 700},
		"priority": {"type": "integer", "enum": [1, 2]}
	},
	"required": ["keyword"]
}`

func mustSchema(t *testing.T, raw string) *inputSchema {
	t.Helper()
	s, err := compileInputSchema("test", json.RawMessage(raw))
	require.NoError(t, err)
	return s
}

func TestCompileInputSchemaRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"null", "null"},
		{"not json", "{"},
		{"not an object schema", `{"type":"array"}`},
		{"bad keyword", `{"type":"object","properties":{"x":{"type":"bogus"}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compileInputSchema("t", json.RawMessage(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestNormalizeDropsUndeclaredAndKeepsNumbers(t *testing.T) {
	s := mustSchema(t, keywordSchema)

	params, err := s.normalize(json.RawMessage(`{"keyword":"coffee","depth":100,"extra":"x"}`))
	require.NoError(t, err)

	assert.Equal(t, "coffee", params["keyword"])
	assert.Equal(t, json.Number("100"), params["depth"])
	assert.NotContains(t, params, "extra")
}

func TestNormalizeEmptyParams(t *testing.T) {
	s := mustSchema(t, `{"type":"object","properties":{"country":{"type":"string"}}}`)
	for _, raw := range []string{"", "null", "  ", "{}"} {
		params, err := s.normalize(json.RawMessage(raw))
		require.NoError(t, err, "raw %q", raw)
		assert.Empty(t, params)
	}
}

func TestNormalizeViolations(t *testing.T) {
	s := mustSchema(t, keywordSchema)
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"missing required", `{}`, "keyword"},
		{"enum", `{"keyword":"k","priority":3}`, "/priority"},
		{"range", `{"keyword":"k","depth":701}`, "/depth"},
		{"wrong type", `{"keyword":5}`, "/keyword"},
		{"array", `[]`, "must be a JSON object"},
		{"malformed", `{"keyword":`, "not valid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.normalize(json.RawMessage(tt.raw))
			require.ErrorIs(t, err, domain.ErrInvalidInput)

			var de *domain.DomainError
			require.ErrorAs(t, err, &de)
			assert.Contains(t, de.Detail, tt.want)
		})
	}
}
