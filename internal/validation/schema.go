package validation

import (
	"fmt"

	wrerrors "github.com/EtienneBBeaulac/workrail/pkg/errors"
)

// schemaValidate checks data against a subset of JSON Schema Draft 7:
// type, properties, required, enum, items — the same subset the teacher's
// pkg/workflow/schema validator supports. Unknown keywords are ignored;
// extra object fields not named in properties are allowed.
func schemaValidate(schema map[string]interface{}, data interface{}, path string) error {
	schemaType, _ := schema["type"].(string)
	if schemaType == "" {
		return nil
	}
	if err := validateType(schemaType, data, path); err != nil {
		return err
	}
	switch schemaType {
	case "object":
		return validateObject(schema, data, path)
	case "array":
		return validateArray(schema, data, path)
	case "string":
		return validateString(schema, data, path)
	}
	return nil
}

func validateType(schemaType string, data interface{}, path string) error {
	switch schemaType {
	case "object":
		if _, ok := data.(map[string]interface{}); !ok {
			return schemaErr(path, fmt.Sprintf("expected object, got %T", data))
		}
	case "array":
		if _, ok := data.([]interface{}); !ok {
			return schemaErr(path, fmt.Sprintf("expected array, got %T", data))
		}
	case "string":
		if _, ok := data.(string); !ok {
			return schemaErr(path, fmt.Sprintf("expected string, got %T", data))
		}
	case "number":
		switch data.(type) {
		case float64, int, int64, float32:
		default:
			return schemaErr(path, fmt.Sprintf("expected number, got %T", data))
		}
	case "integer":
		switch n := data.(type) {
		case float64:
			if n != float64(int64(n)) {
				return schemaErr(path, fmt.Sprintf("expected integer, got %v", n))
			}
		case int, int64:
		default:
			return schemaErr(path, fmt.Sprintf("expected integer, got %T", data))
		}
	case "boolean":
		if _, ok := data.(bool); !ok {
			return schemaErr(path, fmt.Sprintf("expected boolean, got %T", data))
		}
	default:
		return &wrerrors.ValidationEngineError{Kind: wrerrors.SchemaCompilationFailed, Message: fmt.Sprintf("unsupported schema type %q", schemaType)}
	}
	return nil
}

func validateObject(schema map[string]interface{}, data interface{}, path string) error {
	obj := data.(map[string]interface{})
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, exists := obj[name]; !exists {
				return schemaErr(path, fmt.Sprintf("missing required field: %s", name))
			}
		}
	}
	if properties, ok := schema["properties"].(map[string]interface{}); ok {
		for field, value := range obj {
			propSchema, ok := properties[field].(map[string]interface{})
			if !ok {
				continue
			}
			if err := schemaValidate(propSchema, value, path+"."+field); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateArray(schema map[string]interface{}, data interface{}, path string) error {
	arr := data.([]interface{})
	if items, ok := schema["items"].(map[string]interface{}); ok {
		for i, item := range arr {
			if err := schemaValidate(items, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateString(schema map[string]interface{}, data interface{}, path string) error {
	str := data.(string)
	if enum, ok := schema["enum"].([]interface{}); ok {
		valid := false
		for _, allowed := range enum {
			if s, ok := allowed.(string); ok && s == str {
				valid = true
				break
			}
		}
		if !valid {
			return schemaErr(path, fmt.Sprintf("value %q not in enum", str))
		}
	}
	return nil
}

func schemaErr(path, message string) error {
	return fmt.Errorf("%s: %s", path, message)
}
