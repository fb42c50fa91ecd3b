package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"omnidownloader/internal/domain"
)

const createJobSchemaURL = "create_job.json"

const createJobSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["sourceUrl", "selectedFormat"],
  "properties": {
    "sourceUrl":      {"type": "string", "minLength": 1, "maxLength": 2048},
    "selectedFormat": {"type": "string", "minLength": 1, "maxLength": 128},
    "owner":          {"type": "string", "maxLength": 256},
    "title":          {"type": "string", "maxLength": 512},
    "thumbnail":      {"type": "string", "maxLength": 2048}
  }
}`

func mustCompileCreateJobSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(createJobSchemaURL, strings.NewReader(createJobSchema)); err != nil {
		panic(fmt.Sprintf("add create job schema: %v", err))
	}
	return compiler.MustCompile(createJobSchemaURL)
}

// validatePayload checks a decoded JSON document against the schema and
// returns an ErrInvalidRequest naming the first offending field.
func validatePayload(schema *jsonschema.Schema, doc any) error {
	err := schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if field == "" {
		return fmt.Errorf("%w: %s", domain.ErrInvalidRequest, leaf.Message)
	}
	return fmt.Errorf("%w: %s: %s", domain.ErrInvalidRequest, field, leaf.Message)
}
