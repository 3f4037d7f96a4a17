package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
)

// field is one JSON Schema property.
type field map[string]any

func stringField(desc string) field {
	return field{"type": "string", "description": desc}
}

func integerField(desc string) field {
	return field{"type": "integer", "description": desc}
}

func enumField(desc string, values ...string) field {
	return field{"type": "string", "enum": values, "description": desc}
}

// serpFields are shared by every SERP endpoint.
func serpFields() map[string]field {
	return map[string]field{
		"keyword": {
			"type":        "string",
			"minLength":   1,
			"maxLength":   700,
			"description": "The search query or keyword",
		},
		"location_code": integerField("The location code for the search (see serp_google_locations)"),
		"language_code": stringField("The language code for the search (see serp_google_languages)"),
		"device":        enumField("The device type for the search", "desktop", "mobile", "tablet"),
		"os":            enumField("The operating system for the search", "windows", "macos", "ios", "android"),
		"depth": {
			"type":        "integer",
			"minimum":     1,
			"maximum":     700,
			"description": "Maximum number of results to return",
		},
		"se_domain": stringField("Search engine domain (e.g., google.com)"),
	}
}

var serpRequired = []string{"keyword", "location_code", "language_code"}

// taskFields extend serpFields for task_post endpoints.
func taskFields() map[string]field {
	f := serpFields()
	f["priority"] = field{
		"type":        "integer",
		"minimum":     1,
		"maximum":     2,
		"description": "Task priority: 1 (normal) or 2 (high)",
	}
	f["tag"] = field{"type": "string", "maxLength": 255, "description": "Custom identifier for the task"}
	f["postback_url"] = stringField("URL to receive a callback when the task is completed")
	f["postback_data"] = stringField("Custom data to be passed in the callback")
	return f
}

// mapsFields extend serpFields for the maps endpoint, where a coordinate can
// replace the location code.
func mapsFields() map[string]field {
	f := serpFields()
	f["location_name"] = stringField("Full name of the location (e.g., 'London,England,United Kingdom')")
	f["location_code"] = integerField("The location code for the search (optional if location_coordinate provided)")
	f["location_coordinate"] = field{
		"type":        "string",
		"pattern":     `^-?\d+(\.\d+)?,-?\d+(\.\d+)?(,\d+(\.\d+)?z)?$`,
		"description": "GPS coordinates as 'latitude,longitude,zoom' (e.g., '51.5074,-0.1278,15z')",
	}
	f["search_this_area"] = field{"type": "boolean", "description": "Restrict results to the displayed map area"}
	f["local_pack_type"] = enumField("Type of local pack results", "maps", "local_pack")
	return f
}

// objectSchema renders an object schema. encoding/json sorts map keys, so the
// output is stable across runs.
func objectSchema(props map[string]field, required ...string) json.RawMessage {
	p := make(map[string]field, len(props))
	maps.Copy(p, props)
	for _, r := range required {
		if _, ok := p[r]; !ok {
			panic(fmt.Sprintf("catalog: required field %q is not declared", r))
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": p,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("catalog: marshal schema: %v", err))
	}
	return data
}

// requireAny adds an anyOf clause demanding at least one of names.
func requireAny(schema json.RawMessage, names ...string) json.RawMessage {
	var doc map[string]any
	if err := json.Unmarshal(schema, &doc); err != nil {
		panic(fmt.Sprintf("catalog: unmarshal schema: %v", err))
	}
	anyOf := make([]any, 0, len(names))
	for _, n := range names {
		anyOf = append(anyOf, map[string]any{"required": []string{n}})
	}
	doc["anyOf"] = anyOf
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("catalog: marshal schema: %v", err))
	}
	return data
}
