package server

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const runRequestSchema = `{
  "type": "object",
  "required": ["input"],
  "properties": {
    "input": {"type": "string", "minLength": 1},
    "session_id": {"type": "string"},
    "config": {
      "type": "object",
      "properties": {
        "agent_type": {"type": "string", "minLength": 1},
        "model": {"type": "string"},
        "working_dir": {"type": "string"},
        "env": {"type": "object", "additionalProperties": {"type": "string"}},
        "extra_args": {"type": "array", "items": {"type": "string"}},
        "timeout_secs": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const providerRequestSchema = `{
  "type": "object",
  "required": ["name", "provider"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "provider": {"type": "string", "minLength": 1},
    "model": {"type": "string"},
    "api_key": {"type": "string"},
    "base_url": {"type": "string"},
    "fallback_providers": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "load_balancing": {"enum": ["", "round_robin", "random", "least_loaded"]}
  }
}`

const chatRequestSchema = `{
  "type": "object",
  "required": ["messages"],
  "properties": {
    "model": {"type": "string"},
    "stream": {"type": "boolean"},
    "messages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["content"],
        "properties": {
          "role": {"type": "string"},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

var (
	runRequestLoader      = gojsonschema.NewStringLoader(runRequestSchema)
	providerRequestLoader = gojsonschema.NewStringLoader(providerRequestSchema)
	chatRequestLoader     = gojsonschema.NewStringLoader(chatRequestSchema)
)

// validateBody checks raw JSON against schema and joins every violation.
func validateBody(schema gojsonschema.JSONLoader, data []byte) error {
	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: malformed JSON: %v", ErrInvalidRequest, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
}
