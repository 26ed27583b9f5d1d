package providers

import (
	"encoding/json"
	"fmt"
)

// schemaTypes maps JSON-Schema primitive names onto the vendor type
// enumeration. Anything else becomes TYPE_UNSPECIFIED.
var schemaTypes = map[string]string{
	"string":  "STRING",
	"number":  "NUMBER",
	"integer": "INTEGER",
	"boolean": "BOOLEAN",
	"array":   "ARRAY",
	"object":  "OBJECT",
	"null":    "NULL",
}

// strictStripKeys lists JSON-Schema keywords the strict vendor family
// rejects outright. No $ref resolution is attempted; schemas must be
// self-contained.
var strictStripKeys = []string{
	"$schema", "$id", "default", "examples", "title",
	"exclusiveMinimum", "exclusiveMaximum", "minimum", "maximum",
	"minLength", "maxLength", "minItems", "maxItems",
	"pattern", "format", "patternProperties", "propertyNames",
	"minProperties", "maxProperties", "uniqueItems",
	"contentEncoding", "contentMediaType",
	"if", "then", "else", "allOf", "oneOf", "not",
	"$defs", "definitions", "$ref",
}

// SchemaError marks a schema contract violation. Requests carrying a
// violating tool schema are rejected before any network call.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "invalid tool schema: " + e.Reason
}

// NormalizeSchema rewrites a JSON-Schema-like tool parameter schema into
// the vendor schema dialect. It is total over well-formed input and only
// fails on contract violations: a node carrying both "type" and "anyOf",
// or "null" as a node's sole type.
func NormalizeSchema(raw json.RawMessage) (map[string]any, error) {
	return normalizeSchema(raw, false)
}

// NormalizeSchemaStrict applies NormalizeSchema plus the stricter rules
// one vendor family requires: unsupported keywords are stripped, const
// collapses to a single-element enum.
func NormalizeSchemaStrict(raw json.RawMessage) (map[string]any, error) {
	return normalizeSchema(raw, true)
}

func normalizeSchema(raw json.RawMessage, strict bool) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{"type": "OBJECT"}, nil
	}
	var node map[string]any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, &SchemaError{Reason: fmt.Sprintf("schema is not an object: %v", err)}
	}
	return normalizeNode(node, strict)
}

func normalizeNode(node map[string]any, strict bool) (map[string]any, error) {
	if _, hasType := node["type"]; hasType {
		if _, hasAnyOf := node["anyOf"]; hasAnyOf {
			return nil, &SchemaError{Reason: "node has both type and anyOf"}
		}
	}

	out := make(map[string]any, len(node))
	for key, value := range node {
		switch key {
		case "type", "anyOf", "items", "properties", "additionalProperties", "const":
			// Handled below.
		default:
			if strict && stripped(key) {
				continue
			}
			out[key] = value
		}
	}

	if strict {
		if constVal, ok := node["const"]; ok {
			out["enum"] = []any{constVal}
		}
	} else if constVal, ok := node["const"]; ok {
		out["const"] = constVal
	}

	if err := normalizeType(node, out, strict); err != nil {
		return nil, err
	}

	if anyOf, ok := node["anyOf"].([]any); ok {
		if err := normalizeAnyOf(anyOf, out, strict); err != nil {
			return nil, err
		}
	}

	if items, ok := node["items"].(map[string]any); ok {
		sub, err := normalizeNode(items, strict)
		if err != nil {
			return nil, err
		}
		out["items"] = sub
	}

	if props, ok := node["properties"].(map[string]any); ok {
		normalized := make(map[string]any, len(props))
		for name, prop := range props {
			propNode, ok := prop.(map[string]any)
			if !ok {
				normalized[name] = prop
				continue
			}
			sub, err := normalizeNode(propNode, strict)
			if err != nil {
				return nil, err
			}
			normalized[name] = sub
		}
		out["properties"] = normalized
	}

	// additionalProperties has no vendor representation and is dropped.
	return out, nil
}

func normalizeType(node, out map[string]any, strict bool) error {
	switch t := node["type"].(type) {
	case string:
		if t == "null" {
			return &SchemaError{Reason: "null is not a valid sole type"}
		}
		out["type"] = vendorType(t)
	case []any:
		types := make([]string, 0, len(t))
		for _, v := range t {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if s == "null" {
				out["nullable"] = true
				continue
			}
			types = append(types, s)
		}
		switch len(types) {
		case 0:
			return &SchemaError{Reason: "null is not a valid sole type"}
		case 1:
			out["type"] = vendorType(types[0])
		default:
			variants := make([]any, 0, len(types))
			for _, s := range types {
				variants = append(variants, map[string]any{"type": vendorType(s)})
			}
			out["anyOf"] = variants
		}
	}
	return nil
}

func normalizeAnyOf(anyOf []any, out map[string]any, strict bool) error {
	// A two-member anyOf where one side is the literal null type is the
	// JSON-Schema spelling of a nullable schema; collapse it.
	if len(anyOf) == 2 {
		if other, ok := nullablePair(anyOf); ok {
			sub, err := normalizeNode(other, strict)
			if err != nil {
				return err
			}
			for k, v := range sub {
				out[k] = v
			}
			out["nullable"] = true
			return nil
		}
	}

	variants := make([]any, 0, len(anyOf))
	for _, member := range anyOf {
		memberNode, ok := member.(map[string]any)
		if !ok {
			continue
		}
		if isNullLiteral(memberNode) {
			out["nullable"] = true
			continue
		}
		sub, err := normalizeNode(memberNode, strict)
		if err != nil {
			return err
		}
		variants = append(variants, sub)
	}
	if len(variants) == 1 {
		for k, v := range variants[0].(map[string]any) {
			out[k] = v
		}
	} else if len(variants) > 0 {
		out["anyOf"] = variants
	}
	return nil
}

func nullablePair(anyOf []any) (map[string]any, bool) {
	a, aok := anyOf[0].(map[string]any)
	b, bok := anyOf[1].(map[string]any)
	if !aok || !bok {
		return nil, false
	}
	if isNullLiteral(a) && !isNullLiteral(b) {
		return b, true
	}
	if isNullLiteral(b) && !isNullLiteral(a) {
		return a, true
	}
	return nil, false
}

func isNullLiteral(node map[string]any) bool {
	if len(node) != 1 {
		return false
	}
	t, ok := node["type"].(string)
	return ok && t == "null"
}

func vendorType(t string) string {
	if v, ok := schemaTypes[t]; ok {
		return v
	}
	return "TYPE_UNSPECIFIED"
}

func stripped(key string) bool {
	for _, k := range strictStripKeys {
		if key == k {
			return true
		}
	}
	return false
}

// ensurePlaceholderProperties substitutes a required boolean
// _placeholder property into tool schemas that would otherwise declare
// zero properties. The strict vendor family rejects argument-less tool
// schemas.
func ensurePlaceholderProperties(schema map[string]any) map[string]any {
	if schema == nil {
		schema = map[string]any{"type": "OBJECT"}
	}
	if t, _ := schema["type"].(string); t != "OBJECT" && t != "" {
		return schema
	}
	props, _ := schema["properties"].(map[string]any)
	if len(props) > 0 {
		return schema
	}
	schema["type"] = "OBJECT"
	schema["properties"] = map[string]any{
		"_placeholder": map[string]any{"type": "BOOLEAN"},
	}
	schema["required"] = []any{"_placeholder"}
	return schema
}
