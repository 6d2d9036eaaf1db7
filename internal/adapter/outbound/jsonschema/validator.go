// Package jsonschema validates invocation arguments with gojsonschema.
package jsonschema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/i2y/oapimcp/internal/domain"
)

// Validator implements usecase.ArgumentValidator. Compiled schemas are
// cached by their JSON encoding, so each handle schema is compiled once.
type Validator struct {
	logger   *slog.Logger
	compiled sync.Map // string -> *gojsonschema.Schema
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "jsonschema_validator")}
}

// Validate checks args against schema. It returns domain.ValidationErrors
// listing every problem, sorted by field.
func (v *Validator) Validate(schema domain.JSONSchemaProps, args map[string]any) error {
	compiled, err := v.compile(schema)
	if err != nil {
		return domain.ValidationErrors{{Kind: domain.KindInvalidArgument, Detail: err.Error()}}
	}
	if args == nil {
		args = map[string]any{}
	}
	result, err := compiled.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return domain.ValidationErrors{{Kind: domain.KindInvalidArgument, Detail: fmt.Sprintf("arguments are not valid JSON: %v", err)}}
	}
	if result.Valid() {
		return nil
	}

	errs := make(domain.ValidationErrors, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, toValidationError(re))
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	v.logger.Debug("Arguments rejected", slog.Int("errors", len(errs)))
	return errs
}

func toValidationError(re gojsonschema.ResultError) *domain.ValidationError {
	switch re.Type() {
	case "required":
		field, _ := re.Details()["property"].(string)
		if parent := re.Field(); parent != "" && parent != gojsonschema.STRING_ROOT_SCHEMA_PROPERTY {
			field = parent + "." + field
		}
		return &domain.ValidationError{Kind: domain.KindMissingArgument, Field: field, Detail: "required argument is missing"}
	case "invalid_type":
		return &domain.ValidationError{Kind: domain.KindTypeMismatch, Field: re.Field(), Detail: re.Description()}
	}
	return &domain.ValidationError{Kind: domain.KindInvalidArgument, Field: re.Field(), Detail: re.Description()}
}

func (v *Validator) compile(schema domain.JSONSchemaProps) (*gojsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode input schema: %w", err)
	}
	key := string(raw)
	if s, ok := v.compiled.Load(key); ok {
		return s.(*gojsonschema.Schema), nil
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile input schema: %w", err)
	}
	v.compiled.Store(key, s)
	return s, nil
}
