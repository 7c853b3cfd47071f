package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hpungsan/skillminer/internal/collab"
)

const classifySchema = `{
  "type": "object",
  "required": ["domain"],
  "properties": {
    "domain": {"type": "string", "minLength": 1}
  }
}`

const extractSchema = `{
  "type": "object",
  "required": ["patterns"],
  "properties": {
    "patterns": {
      "type": "array",
      "maxItems": 10,
      "items": {"type": "string", "minLength": 3}
    }
  }
}`

const generateSchema = `{
  "type": "object",
  "required": ["description", "body"],
  "properties": {
    "description": {"type": "string", "minLength": 1, "maxLength": 1024},
    "body": {"type": "string", "minLength": 1}
  }
}`

const refineSchema = `{
  "type": "object",
  "required": ["description"],
  "properties": {
    "description": {"type": "string", "minLength": 1, "maxLength": 1024}
  }
}`

var (
	classifyValidator = mustSchema(classifySchema)
	extractValidator  = mustSchema(extractSchema)
	generateValidator = mustSchema(generateSchema)
	refineValidator   = mustSchema(refineSchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("invalid schema: %v", err))
	}
	return schema
}

// decode validates raw against schema and unmarshals it into v. Any problem is an
// Invalid failure so the caller retries.
func decode(op string, schema *gojsonschema.Schema, raw string, v any) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return collab.Invalid(op, fmt.Errorf("response is not JSON: %w", err))
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return collab.Invalid(op, fmt.Errorf("response failed schema: %s", strings.Join(msgs, "; ")))
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return collab.Invalid(op, err)
	}
	return nil
}
