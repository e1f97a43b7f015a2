package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/BaSui01/longtask/types"
)

// FieldError is one field-level validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned by Trigger when input is rejected.
type ValidationError struct {
	DefinitionID string       `json:"definitionId"`
	Fields       []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		if f.Field == "" {
			parts = append(parts, f.Message)
			continue
		}
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("invalid input for %s: %s", e.DefinitionID, strings.Join(parts, "; "))
}

// AsTypesError converts to the shared error model with field data attached.
func (e *ValidationError) AsTypesError() *types.Error {
	fields := make(map[string]any, len(e.Fields))
	for _, f := range e.Fields {
		fields[f.Field] = f.Message
	}
	return types.NewError(types.ErrValidation, e.Error()).
		WithData("definitionId", e.DefinitionID).
		WithData("fields", fields)
}

// InputValidator checks trigger input and returns the normalized form.
// It runs at trigger time only; continuation inputs are trusted.
type InputValidator interface {
	Validate(raw json.RawMessage) (json.RawMessage, []FieldError)
}

// InputValidatorFunc adapts a function to InputValidator.
type InputValidatorFunc func(raw json.RawMessage) (json.RawMessage, []FieldError)

// Validate implements InputValidator.
func (f InputValidatorFunc) Validate(raw json.RawMessage) (json.RawMessage, []FieldError) {
	return f(raw)
}

// CreateInputValidation declares the accepted input shape T. Input is decoded
// strictly (unknown fields are rejected), check reports field errors, and
// the value is re-encoded so defaults applied by check are persisted.
func CreateInputValidation[T any](check func(in *T) []FieldError) InputValidator {
	return InputValidatorFunc(func(raw json.RawMessage) (json.RawMessage, []FieldError) {
		var in T
		if len(bytes.TrimSpace(raw)) == 0 {
			raw = json.RawMessage("{}")
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&in); err != nil {
			return nil, []FieldError{decodeFieldError(err)}
		}
		if check != nil {
			if errs := check(&in); len(errs) > 0 {
				return nil, errs
			}
		}
		out, err := json.Marshal(&in)
		if err != nil {
			return nil, []FieldError{{Message: err.Error()}}
		}
		return out, nil
	})
}

func decodeFieldError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return FieldError{Field: typeErr.Field, Message: fmt.Sprintf("expected %s", typeErr.Type)}
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		return FieldError{
			Field:   strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`),
			Message: "unknown field",
		}
	}
	return FieldError{Message: msg}
}

// Required returns a FieldError when value is blank.
func Required(field, value string) []FieldError {
	if strings.TrimSpace(value) == "" {
		return []FieldError{{Field: field, Message: "is required"}}
	}
	return nil
}
