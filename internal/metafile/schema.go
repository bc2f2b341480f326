package metafile

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ErrSchemaViolation is returned when a document does not match the metafile schema.
var ErrSchemaViolation = errors.New("metafile schema violation")

const schemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "esbuild metafile",
  "type": "object",
  "required": ["inputs"],
  "properties": {
    "inputs": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["imports"],
        "properties": {
          "bytes": {"type": "integer", "minimum": 0},
          "format": {"type": "string"},
          "with": {"type": "object", "additionalProperties": {"type": "string"}},
          "imports": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["path", "kind"],
              "properties": {
                "path": {"type": "string", "minLength": 1},
                "kind": {"type": "string", "minLength": 1},
                "external": {"type": "boolean"},
                "original": {"type": "string"},
                "with": {"type": "object", "additionalProperties": {"type": "string"}}
              }
            }
          }
        }
      }
    },
    "outputs": {"type": "object"}
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	})
	return compiledSchema, schemaErr
}

func validateSchema(data []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("compile metafile schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("decode metafile: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrSchemaViolation, strings.Join(msgs, "; "))
}
