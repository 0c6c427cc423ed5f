package agent

import "encoding/json"

// ExtractStructuredOutput pulls the structured object out of a message of
// unknown shape. Strings are parsed as JSON with a {content: <string>}
// fallback; objects with an object content return that content; objects
// without a content field pass through unchanged.
func ExtractStructuredOutput(message any) any {
	switch v := message.(type) {
	case string:
		return parseJSONOrWrap(v)
	case map[string]any:
		content, ok := v["content"]
		if !ok {
			return v
		}
		switch c := content.(type) {
		case string:
			return parseJSONOrWrap(c)
		case map[string]any:
			return c
		default:
			return v
		}
	default:
		return message
	}
}

func parseJSONOrWrap(s string) any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(s), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"content": s}
}

// ValidateShape checks a structured output against a schema, shape-only:
// required fields must be present, and each declared property that is
// present must match its declared primitive type. Extra properties are
// allowed and nested objects are not recursed into.
func ValidateShape(output any, schema map[string]any) bool {
	obj, ok := output.(map[string]any)
	if !ok {
		return false
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := obj[name]; !present {
				return false
			}
		}
	}

	properties, ok := schema["properties"].(map[string]any)
	if !ok {
		return true
	}
	for name, decl := range properties {
		declMap, ok := decl.(map[string]any)
		if !ok {
			continue
		}
		declType, ok := declMap["type"].(string)
		if !ok {
			continue
		}
		value, present := obj[name]
		if !present {
			continue
		}
		if !matchesType(value, declType) {
			return false
		}
	}
	return true
}

func matchesType(value any, declType string) bool {
	switch declType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64, json.Number:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}
