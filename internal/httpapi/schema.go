package httpapi

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// actionRequestSchema validates the wire envelope before it reaches the
// coordinator, so malformed callers get a structural error instead of a
// per-field validation failure. The action value itself is not constrained
// here: the coordinator owns the action set and answers an unknown action
// with a failed result, not a transport error.
const actionRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "action": {"type": "string"},
    "title": {"type": "string"},
    "content": {"type": "string"},
    "fileContent": {"type": "string"},
    "docId": {"type": "string"},
    "headerBlock": {"type": "string"},
    "headerPosition": {
      "type": "string",
      "enum": ["", "top", "bottom"]
    },
    "correlationId": {"type": "string"}
  },
  "required": ["action"],
  "additionalProperties": false
}`

func compileActionSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(actionRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing action schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("action-request.json", doc); err != nil {
		return nil, fmt.Errorf("registering action schema: %w", err)
	}
	schema, err := compiler.Compile("action-request.json")
	if err != nil {
		return nil, fmt.Errorf("compiling action schema: %w", err)
	}
	return schema, nil
}

// schemaErrorMessage flattens a validation error into a single line. The
// library's multi-line rendering leads with the schema resource URI, which
// callers have no use for.
func schemaErrorMessage(err error) string {
	var details []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
		if line == "" || strings.HasPrefix(line, "jsonschema validation failed") {
			continue
		}
		details = append(details, line)
	}
	if len(details) == 0 {
		return "request body does not match the action envelope"
	}
	return "invalid action envelope: " + strings.Join(details, "; ")
}
