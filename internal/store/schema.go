package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaName = "combo-list-v1.schema.json"

// comboListSchemaJSON describes the combo list document. Validation runs
// on the raw document before decode so malformed files are rejected with
// a field-level error instead of a half-decoded list.
const comboListSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Combo list",
  "type": "object",
  "required": ["fileFormatVersion", "combos"],
  "properties": {
    "fileFormatVersion": {"type": "integer", "minimum": 1},
    "groups": {
      "type": "array",
      "items": {"$ref": "#/definitions/group"}
    },
    "combos": {
      "type": "array",
      "items": {"$ref": "#/definitions/combo"}
    }
  },
  "definitions": {
    "group": {
      "type": "object",
      "required": ["uuid", "name"],
      "properties": {
        "uuid": {"type": "string", "minLength": 1},
        "name": {"type": "string", "minLength": 1},
        "enabled": {"type": "boolean"},
        "default": {"type": "boolean"},
        "created": {"type": "string"}
      }
    },
    "combo": {
      "type": "object",
      "required": ["uuid", "keyword", "snippet"],
      "properties": {
        "uuid": {"type": "string", "minLength": 1},
        "name": {"type": "string"},
        "keyword": {"type": "string", "minLength": 1},
        "snippet": {"type": "string"},
        "matchingMode": {"enum": ["strict", "loose"]},
        "caseSensitivity": {"enum": ["default", "sensitive", "insensitive"]},
        "enabled": {"type": "boolean"},
        "group": {"type": "string"},
        "created": {"type": "string"},
        "modified": {"type": "string"},
        "lastUsed": {"type": "string"}
      }
    }
  }
}`

var comboListSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, strings.NewReader(comboListSchemaJSON)); err != nil {
		panic(fmt.Sprintf("add combo schema resource: %v", err))
	}
	schema, err := compiler.Compile(schemaName)
	if err != nil {
		panic(fmt.Sprintf("compile combo schema: %v", err))
	}
	return schema
}

// ValidateDocument checks a raw combo list document against the schema.
func ValidateDocument(data []byte) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("parse combo list: %w", err)
	}
	if err := comboListSchema.Validate(instance); err != nil {
		return fmt.Errorf("combo list schema: %w", err)
	}
	return nil
}
