package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeSchemaBasicTypes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantType string
	}{
		{"string", `{"type": "string"}`, "STRING"},
		{"number", `{"type": "number"}`, "NUMBER"},
		{"integer", `{"type": "integer"}`, "INTEGER"},
		{"boolean", `{"type": "boolean"}`, "BOOLEAN"},
		{"array", `{"type": "array"}`, "ARRAY"},
		{"object", `{"type": "object"}`, "OBJECT"},
		{"unknown", `{"type": "tuple"}`, "TYPE_UNSPECIFIED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := NormalizeSchema(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, out["type"])
		})
	}
}

func TestNormalizeSchemaEmptyInput(t *testing.T) {
	out, err := NormalizeSchema(nil)
	require.NoError(t, err)
	assert.Equal(t, "OBJECT", out["type"])
}

func TestNormalizeSchemaTypeAndAnyOfConflict(t *testing.T) {
	_, err := NormalizeSchema(json.RawMessage(`{
		"type": "object",
		"anyOf": [{"type": "string"}]
	}`))

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Contains(t, schemaErr.Error(), "type and anyOf")
}

func TestNormalizeSchemaSoleNullType(t *testing.T) {
	var schemaErr *SchemaError

	_, err := NormalizeSchema(json.RawMessage(`{"type": "null"}`))
	require.ErrorAs(t, err, &schemaErr)

	_, err = NormalizeSchema(json.RawMessage(`{"type": ["null"]}`))
	require.ErrorAs(t, err, &schemaErr)
}

func TestNormalizeSchemaNullableTypeArray(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{"type": ["string", "null"]}`))
	require.NoError(t, err)

	assert.Equal(t, "STRING", out["type"])
	assert.Equal(t, true, out["nullable"])
}

func TestNormalizeSchemaMultiTypeArray(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{"type": ["string", "integer"]}`))
	require.NoError(t, err)

	variants, ok := out["anyOf"].([]any)
	require.True(t, ok)
	require.Len(t, variants, 2)

	_, hasType := out["type"]
	assert.False(t, hasType, "type and anyOf must not coexist in output")
}

func TestNormalizeSchemaNullableAnyOfPair(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{
		"anyOf": [
			{"type": "null"},
			{"type": "string", "description": "a name"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "STRING", out["type"])
	assert.Equal(t, true, out["nullable"])
	assert.Equal(t, "a name", out["description"])

	_, hasAnyOf := out["anyOf"]
	assert.False(t, hasAnyOf)
}

func TestNormalizeSchemaAnyOfWithNullMember(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{
		"anyOf": [
			{"type": "null"},
			{"type": "string"},
			{"type": "integer"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, true, out["nullable"])

	variants, ok := out["anyOf"].([]any)
	require.True(t, ok)
	assert.Len(t, variants, 2)
}

func TestNormalizeSchemaRecursion(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{
		"type": "object",
		"properties": {
			"tags": {
				"type": "array",
				"items": {"type": "string"}
			}
		},
		"additionalProperties": false
	}`))
	require.NoError(t, err)

	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)

	tags, ok := props["tags"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ARRAY", tags["type"])

	items, ok := tags["items"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "STRING", items["type"])

	_, hasAdditional := out["additionalProperties"]
	assert.False(t, hasAdditional)
}

func TestNormalizeSchemaPassesUnknownFieldsThrough(t *testing.T) {
	out, err := NormalizeSchema(json.RawMessage(`{
		"type": "string",
		"description": "keep me",
		"format": "date-time",
		"x-vendor-hint": 7
	}`))
	require.NoError(t, err)

	assert.Equal(t, "keep me", out["description"])
	assert.Equal(t, "date-time", out["format"])
	assert.EqualValues(t, 7, out["x-vendor-hint"])
}

func TestNormalizeSchemaStrictStripsKeywords(t *testing.T) {
	out, err := NormalizeSchemaStrict(json.RawMessage(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "string",
		"format": "date-time",
		"minLength": 3,
		"pattern": "^a",
		"description": "kept"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "STRING", out["type"])
	assert.Equal(t, "kept", out["description"])

	for _, key := range []string{"$schema", "format", "minLength", "pattern"} {
		_, present := out[key]
		assert.False(t, present, "expected %s to be stripped", key)
	}
}

func TestNormalizeSchemaStrictConstBecomesEnum(t *testing.T) {
	out, err := NormalizeSchemaStrict(json.RawMessage(`{"type": "string", "const": "fixed"}`))
	require.NoError(t, err)

	assert.Equal(t, []any{"fixed"}, out["enum"])

	_, hasConst := out["const"]
	assert.False(t, hasConst)
}

func TestNormalizeSchemaStrictErrorsPropagateFromProperties(t *testing.T) {
	_, err := NormalizeSchemaStrict(json.RawMessage(`{
		"type": "object",
		"properties": {
			"bad": {"type": "null"}
		}
	}`))

	var schemaErr *SchemaError
	require.ErrorAs(t, err, &schemaErr)
}

func TestEnsurePlaceholderProperties(t *testing.T) {
	out := ensurePlaceholderProperties(map[string]any{"type": "OBJECT"})

	props, ok := out["properties"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, props, "_placeholder")

	placeholder := props["_placeholder"].(map[string]any)
	assert.Equal(t, "BOOLEAN", placeholder["type"])
	assert.Equal(t, []any{"_placeholder"}, out["required"])
}

func TestEnsurePlaceholderPropertiesKeepsExisting(t *testing.T) {
	in := map[string]any{
		"type": "OBJECT",
		"properties": map[string]any{
			"path": map[string]any{"type": "STRING"},
		},
	}

	out := ensurePlaceholderProperties(in)

	props := out["properties"].(map[string]any)
	assert.Contains(t, props, "path")
	assert.NotContains(t, props, "_placeholder")
}

func TestEnsurePlaceholderPropertiesSkipsNonObjects(t *testing.T) {
	in := map[string]any{"type": "STRING"}
	out := ensurePlaceholderProperties(in)
	assert.NotContains(t, out, "properties")
}
