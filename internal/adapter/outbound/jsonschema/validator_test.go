package jsonschema_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i2y/oapimcp/internal/adapter/outbound/jsonschema"
	"github.com/i2y/oapimcp/internal/domain"
)

func petSchema() domain.JSONSchemaProps {
	return domain.JSONSchemaProps{
		Type: "object",
		Properties: map[string]domain.JSONSchemaProps{
			"petId":  {Type: "integer"},
			"status": {Type: "string", Enum: []any{"available", "sold"}},
			"tags":   {Type: "array", Items: &domain.JSONSchemaProps{Type: "string"}},
		},
		Required: []string{"petId"},
	}
}

func TestValidator_Validate(t *testing.T) {
	v := jsonschema.NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name      string
		args      map[string]any
		wantKinds []domain.ErrorKind
		wantField string
	}{
		{
			name: "valid",
			args: map[string]any{"petId": float64(7), "status": "sold", "tags": []any{"a"}},
		},
		{
			name:      "missing required",
			args:      map[string]any{"status": "sold"},
			wantKinds: []domain.ErrorKind{domain.KindMissingArgument},
			wantField: "petId",
		},
		{
			name:      "nil args with required field",
			wantKinds: []domain.ErrorKind{domain.KindMissingArgument},
			wantField: "petId",
		},
		{
			name:      "type mismatch",
			args:      map[string]any{"petId": "seven"},
			wantKinds: []domain.ErrorKind{domain.KindTypeMismatch},
			wantField: "petId",
		},
		{
			name:      "non integral number",
			args:      map[string]any{"petId": 1.5},
			wantKinds: []domain.ErrorKind{domain.KindTypeMismatch},
			wantField: "petId",
		},
		{
			name:      "enum violation",
			args:      map[string]any{"petId": 1, "status": "lost"},
			wantKinds: []domain.ErrorKind{domain.KindInvalidArgument},
			wantField: "status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(petSchema(), tt.args)
			if len(tt.wantKinds) == 0 {
				assert.NoError(t, err)
				return
			}
			var errs domain.ValidationErrors
			require.ErrorAs(t, err, &errs)
			require.Len(t, errs, len(tt.wantKinds))
			for i, k := range tt.wantKinds {
				assert.Equal(t, k, errs[i].Kind)
			}
			assert.Equal(t, tt.wantField, errs[0].Field)
			assert.Equal(t, domain.OutcomeValidationError, domain.OutcomeOf(err))
		})
	}
}

func TestValidator_ReportsAllProblems(t *testing.T) {
	v := jsonschema.NewValidator(slog.New(slog.NewTextHandler(io.Discard, nil)))
	schema := petSchema()
	schema.Required = append(schema.Required, "status")

	err := v.Validate(schema, map[string]any{"tags": "not-a-list"})
	var errs domain.ValidationErrors
	require.ErrorAs(t, err, &errs)
	assert.Len(t, errs, 3)
	assert.Equal(t, domain.KindMissingArgument, domain.KindOf(err))
}
