package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	validator "github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	schemaOnce sync.Once
	schemaJSON []byte
	schemaErr  error

	compiledOnce sync.Once
	compiled     *validator.Schema
	compiledErr  error
)

var durationType = reflect.TypeOf(time.Duration(0))

// JSONSchema returns the JSON Schema for the Config struct, keyed by the
// yaml field names users write in config files.
func JSONSchema() ([]byte, error) {
	schemaOnce.Do(func() {
		r := &jsonschema.Reflector{
			FieldNameTag:               "yaml",
			DoNotReference:             true,
			RequiredFromJSONSchemaTags: true,
			Mapper:                     mapType,
		}
		schema := r.Reflect(&Config{})
		schema.Title = "docqa configuration"
		schemaJSON, schemaErr = json.MarshalIndent(schema, "", "  ")
	})
	return schemaJSON, schemaErr
}

// mapType describes durations the way yaml.v3 accepts them: Go duration
// strings or integer nanoseconds.
func mapType(t reflect.Type) *jsonschema.Schema {
	if t != durationType {
		return nil
	}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string", Pattern: `^(-?[0-9.]+(ns|us|µs|ms|s|m|h))+$`},
			{Type: "integer"},
		},
	}
}

func compiledSchema() (*validator.Schema, error) {
	compiledOnce.Do(func() {
		data, err := JSONSchema()
		if err != nil {
			compiledErr = err
			return
		}
		compiled, compiledErr = validator.CompileString("docqa.schema.json", string(data))
	})
	return compiled, compiledErr
}

// ValidateFile checks the file at path, with its includes resolved,
// against JSONSchema. It reports structural problems (wrong types,
// unknown keys) with their location in the document; Load applies the
// semantic checks.
func ValidateFile(path string) error {
	raw, err := LoadRaw(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("config does not match schema:\n%s", formatValidationError(verr))
		}
		return fmt.Errorf("config does not match schema: %w", err)
	}
	return nil
}

// formatValidationError flattens the error tree to one line per leaf.
func formatValidationError(err *validator.ValidationError) string {
	var lines []string
	var walk func(e *validator.ValidationError)
	walk = func(e *validator.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", loc, e.Message))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(err)
	return strings.Join(lines, "\n")
}
