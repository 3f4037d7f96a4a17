package dataforseo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"

	"serp-mcp/internal/domain"
)

// envelopeSchema is a partial schema: only the fields the client and the task
// engine branch on are constrained. Result payloads stay free-form.
const envelopeSchema = `{
  "type": "object",
  "required": ["status_code"],
  "properties": {
    "version":        {"type": "string"},
    "status_code":    {"type": "number"},
    "status_message": {"type": "string"},
    "tasks_count":    {"type": "number"},
    "tasks_error":    {"type": "number"},
    "tasks": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "properties": {
          "id":             {"type": "string"},
          "status_code":    {"type": "number"},
          "status_message": {"type": "string"},
          "path":           {"type": ["array", "null"]},
          "result":         {"type": ["array", "null"]}
        }
      }
    }
  }
}`

var compiledEnvelope = mustCompileEnvelope()

func mustCompileEnvelope() *jsonschema.Schema {
	schema, err := jsonschema.NewCompiler().Compile([]byte(envelopeSchema))
	if err != nil {
		panic(fmt.Sprintf("dataforseo: compile envelope schema: %v", err))
	}
	return schema
}

// decodeEnvelope checks body against the envelope schema and decodes it.
// Any failure here is a transport-tier error.
func decodeEnvelope(body []byte) (*domain.Response, error) {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %v", domain.ErrTransport, err)
	}
	if result := compiledEnvelope.Validate(generic); !result.IsValid() {
		return nil, fmt.Errorf("%w: unexpected response shape: %s", domain.ErrTransport, result.Error())
	}

	var resp domain.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrTransport, err)
	}
	resp.Raw = json.RawMessage(bytes.Clone(body))
	return &resp, nil
}
