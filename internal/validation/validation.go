// Package validation checks tool/prompt input and output against the
// descriptor's schema: a small JSON-schema subset (type, required, items)
// rather than a full implementation; object values are type-checked only,
// their nested properties are not validated. Generalized from
// the teacher's requirements-map parameter checker into a schema shape that
// applies uniformly to both input and output validation.
package validation

import (
	"fmt"
	"sort"

	"toolmesh/internal/descriptor"
	stderrors "toolmesh/internal/errors"
)

// FieldError describes one schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateInput checks values against schema, returning InvalidInput with
// per-field errors on violation.
func ValidateInput(schema descriptor.Schema, values map[string]interface{}) error {
	if errs := validate(schema, values); len(errs) > 0 {
		return stderrors.NewInvalidInput("input failed schema validation", fieldDetails(errs))
	}
	return nil
}

// ValidateOutput checks values against schema, returning InvalidOutput with
// per-field errors on violation.
func ValidateOutput(schema descriptor.Schema, values map[string]interface{}) error {
	if errs := validate(schema, values); len(errs) > 0 {
		return stderrors.NewInvalidOutput("output failed schema validation", fieldDetails(errs))
	}
	return nil
}

func fieldDetails(errs []FieldError) stderrors.Details {
	d := make(stderrors.Details, len(errs))
	for _, e := range errs {
		d[e.Field] = e.Message
	}
	return d
}

// validate walks a schema of the shape:
//
//	{
//	  "fieldName": {"type": "string", "required": true},
//	  "count":     {"type": "number"},
//	  "tags":      {"type": "array", "items": {"type": "string"}},
//	}
func validate(schema descriptor.Schema, values map[string]interface{}) []FieldError {
	if schema == nil {
		return nil
	}

	var errs []FieldError
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule, ok := schema[name].(map[string]interface{})
		if !ok {
			continue
		}
		value, present := values[name]

		if required, _ := rule["required"].(bool); required && !present {
			errs = append(errs, FieldError{Field: name, Message: "required field is missing"})
			continue
		}
		if !present {
			continue
		}

		wantType, _ := rule["type"].(string)
		if wantType == "" {
			continue
		}
		if err := checkType(name, wantType, value, rule); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func checkType(name, wantType string, value interface{}, rule map[string]interface{}) *FieldError {
	switch wantType {
	case "string":
		if _, ok := value.(string); !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected string, got %T", value)}
		}
	case "number":
		switch value.(type) {
		case float64, int, int64:
		default:
			return &FieldError{Field: name, Message: fmt.Sprintf("expected number, got %T", value)}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected boolean, got %T", value)}
		}
	case "object":
		if _, ok := value.(map[string]interface{}); !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected object, got %T", value)}
		}
	case "array":
		items, ok := value.([]interface{})
		if !ok {
			return &FieldError{Field: name, Message: fmt.Sprintf("expected array, got %T", value)}
		}
		if itemRule, ok := rule["items"].(map[string]interface{}); ok {
			itemType, _ := itemRule["type"].(string)
			for i, item := range items {
				if err := checkType(fmt.Sprintf("%s[%d]", name, i), itemType, item, itemRule); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
