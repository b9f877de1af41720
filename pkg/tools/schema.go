package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects T into an InputSchema. Field names come from json tags,
// descriptions and enums from jsonschema tags:
//
//	Intent string `json:"intent" jsonschema:"required,enum=a,enum=b,description=..."`
func GenerateSchema[T any]() InputSchema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		panic(fmt.Sprintf("schema for %T: %v", v, err))
	}
	var schema InputSchema
	if err := json.Unmarshal(raw, &schema); err != nil {
		panic(fmt.Sprintf("schema for %T: %v", v, err))
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	if schema.Properties == nil {
		schema.Properties = map[string]Property{}
	}
	return schema
}

// ValidateArgs checks args against schema: required fields present, primitive
// types match, enum membership. Unknown fields are ignored.
func ValidateArgs(schema InputSchema, args map[string]any) error {
	var problems []string
	for _, name := range schema.Required {
		v, ok := args[name]
		if !ok || v == nil {
			problems = append(problems, fmt.Sprintf("missing required argument %q", name))
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			problems = append(problems, fmt.Sprintf("required argument %q is empty", name))
		}
	}
	for name, prop := range schema.Properties {
		v, ok := args[name]
		if !ok || v == nil {
			continue
		}
		if msg := checkValue(name, &prop, v); msg != "" {
			problems = append(problems, msg)
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}
	return nil
}

func checkValue(name string, prop *Property, v any) string {
	switch prop.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("argument %q must be a string, got %T", name, v)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, s) {
			return fmt.Sprintf("argument %q must be one of [%s], got %q", name, strings.Join(prop.Enum, ", "), s)
		}
	case "integer":
		f, ok := asNumber(v)
		if !ok || f != math.Trunc(f) {
			return fmt.Sprintf("argument %q must be an integer, got %v", name, v)
		}
	case "number":
		if _, ok := asNumber(v); !ok {
			return fmt.Sprintf("argument %q must be a number, got %T", name, v)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("argument %q must be a boolean, got %T", name, v)
		}
	case "array":
		items, ok := v.([]any)
		if !ok {
			if _, okStr := v.([]string); okStr {
				return ""
			}
			return fmt.Sprintf("argument %q must be an array, got %T", name, v)
		}
		if prop.Items != nil {
			for i, item := range items {
				if msg := checkValue(fmt.Sprintf("%s[%d]", name, i), prop.Items, item); msg != "" {
					return msg
				}
			}
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Sprintf("argument %q must be an object, got %T", name, v)
		}
	}
	return ""
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// DecodeArgs converts loosely typed tool arguments into T via JSON.
func DecodeArgs[T any](args map[string]any) (T, error) {
	var out T
	raw, err := json.Marshal(args)
	if err != nil {
		return out, fmt.Errorf("failed to encode arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode arguments: %w", err)
	}
	return out, nil
}

// ToMap renders p as a plain JSON-schema map for SDKs that take untyped schemas.
func (p *Property) ToMap() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		m["enum"] = p.Enum
	}
	if p.Items != nil {
		m["items"] = p.Items.ToMap()
	}
	if len(p.Properties) > 0 {
		props := make(map[string]any, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = child.ToMap()
		}
		m["properties"] = props
	}
	if len(p.Required) > 0 {
		m["required"] = p.Required
	}
	return m
}

// PropertiesMap renders the schema's properties as plain maps.
func (s InputSchema) PropertiesMap() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name := range s.Properties {
		prop := s.Properties[name]
		props[name] = prop.ToMap()
	}
	return props
}

// ToMap renders the whole schema as a plain JSON-schema map.
func (s InputSchema) ToMap() map[string]any {
	m := map[string]any{
		"type":       "object",
		"properties": s.PropertiesMap(),
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}
