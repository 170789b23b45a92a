package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed config.schema.json
var embeddedSchema string

// Common errors
var (
	// ErrInvalidConfig is returned when a document fails schema validation.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrInvalidVersion is returned when the version field is missing or not
	// a strict semantic version.
	ErrInvalidVersion = errors.New("invalid config version")
)

// ValidationError is a single schema violation with field-level detail.
type ValidationError struct {
	Field       string
	Description string
	Value       interface{}
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %s (value: %v)", e.Field, e.Description, e.Value)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Description)
}

// ValidationResult contains the results of schema validation.
type ValidationResult struct {
	Valid  bool
	Errors []ValidationError
}

// validateSchema checks the config against the embedded JSON Schema. The
// struct is round-tripped through JSON so the schema sees the same document
// shape the YAML carries.
func validateSchema(cfg *Config) (*ValidationResult, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	schemaLoader := gojsonschema.NewStringLoader(embeddedSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	vr := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, e := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:       e.Field(),
			Description: e.Description(),
			Value:       e.Value(),
		})
	}
	return vr, nil
}

// validateVersion requires a strict MAJOR.MINOR.PATCH semantic version,
// with or without a leading 'v'. StrictNewVersion is used deliberately:
// NewVersion would auto-complete "1.0" to "1.0.0".
func validateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: version is empty", ErrInvalidVersion)
	}

	clean := strings.TrimPrefix(version, "v")
	if _, err := semver.StrictNewVersion(clean); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVersion, err)
	}
	return nil
}
