package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// TriggerConditions is the predicate a completed resource must satisfy to start a template.
// Match holds attribute equality checks; Schema is an optional JSON Schema the attributes
// must validate against.
type TriggerConditions struct {
	Match  map[string]any `json:"match,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
}

// ParseTriggerExpression parses the "key=value,key2=value2" shorthand.
func ParseTriggerExpression(expr string) (TriggerConditions, error) {
	conditions := TriggerConditions{Match: map[string]any{}}

	for _, part := range strings.FieldsFunc(expr, func(r rune) bool { return r == ',' || r == '&' }) {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || strings.TrimSpace(key) == "" {
			return TriggerConditions{}, fmt.Errorf("invalid trigger condition %q", part)
		}

		conditions.Match[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return conditions, nil
}

// UnmarshalJSON accepts either the object form or the string shorthand.
func (c *TriggerConditions) UnmarshalJSON(data []byte) error {
	var expr string
	if err := json.Unmarshal(data, &expr); err == nil {
		parsed, err := ParseTriggerExpression(expr)
		if err != nil {
			return err
		}

		*c = parsed

		return nil
	}

	type plain TriggerConditions

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("failed to decode trigger conditions: %w", err)
	}

	*c = TriggerConditions(p)

	return nil
}

// IsEmpty reports whether the conditions match every resource.
func (c TriggerConditions) IsEmpty() bool {
	return len(c.Match) == 0 && len(c.Schema) == 0
}

// Validate checks that the schema part compiles.
func (c TriggerConditions) Validate() error {
	if len(c.Schema) == 0 {
		return nil
	}

	if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(c.Schema)); err != nil {
		return fmt.Errorf("invalid trigger schema: %w", err)
	}

	return nil
}

// Matches evaluates the conditions against resource attributes.
func (c TriggerConditions) Matches(attributes map[string]any) (bool, error) {
	for key, expected := range c.Match {
		actual, ok := attributes[key]
		if !ok {
			return false, nil
		}

		if normalize(actual) != normalize(expected) {
			return false, nil
		}
	}

	if len(c.Schema) == 0 {
		return true, nil
	}

	if attributes == nil {
		attributes = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(c.Schema), gojsonschema.NewGoLoader(attributes))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate trigger schema: %w", err)
	}

	return result.Valid(), nil
}

func normalize(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if lower := strings.ToLower(v); lower == "true" || lower == "false" {
			return lower
		}

		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
