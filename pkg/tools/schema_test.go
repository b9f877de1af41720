package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	Kind  string   `json:"kind" jsonschema:"required,enum=a,enum=b,description=The kind"`
	Count int      `json:"count,omitempty" jsonschema:"description=How many"`
	Tags  []string `json:"tags,omitempty"`
	Score float64  `json:"score,omitempty"`
}

func TestGenerateSchema(t *testing.T) {
	s := GenerateSchema[sampleArgs]()

	assert.Equal(t, "object", s.Type)
	assert.Equal(t, []string{"kind"}, s.Required)
	require.Contains(t, s.Properties, "kind")
	assert.Equal(t, "string", s.Properties["kind"].Type)
	assert.Equal(t, []string{"a", "b"}, s.Properties["kind"].Enum)
	assert.Equal(t, "The kind", s.Properties["kind"].Description)
	assert.Equal(t, "integer", s.Properties["count"].Type)
	assert.Equal(t, "array", s.Properties["tags"].Type)
	require.NotNil(t, s.Properties["tags"].Items)
	assert.Equal(t, "string", s.Properties["tags"].Items.Type)
	assert.Equal(t, "number", s.Properties["score"].Type)
}

func TestValidateArgs(t *testing.T) {
	schema := GenerateSchema[sampleArgs]()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{"valid", map[string]any{"kind": "a", "count": float64(2)}, ""},
		{"missing required", map[string]any{"count": float64(2)}, `missing required argument "kind"`},
		{"blank required", map[string]any{"kind": "  "}, `required argument "kind" is empty`},
		{"bad enum", map[string]any{"kind": "z"}, "must be one of [a, b]"},
		{"wrong type", map[string]any{"kind": 3}, "must be a string"},
		{"non integer", map[string]any{"kind": "a", "count": 1.5}, "must be an integer"},
		{"bad array item", map[string]any{"kind": "a", "tags": []any{"x", 2}}, "must be a string"},
		{"bad number", map[string]any{"kind": "a", "score": "high"}, "must be a number"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgs(schema, tt.args)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecodeArgs(t *testing.T) {
	got, err := DecodeArgs[sampleArgs](map[string]any{"kind": "b", "count": float64(4), "tags": []any{"x"}})
	require.NoError(t, err)
	assert.Equal(t, sampleArgs{Kind: "b", Count: 4, Tags: []string{"x"}}, got)

	_, err = DecodeArgs[sampleArgs](map[string]any{"count": "four"})
	assert.Error(t, err)
}

func TestInputSchemaToMap(t *testing.T) {
	schema := InputSchema{
		Type: "object",
		Properties: map[string]Property{
			"category": {Type: "string", Enum: []string{"a", "b"}},
			"tags":     {Type: "array", Items: &Property{Type: "string"}},
		},
		Required: []string{"category"},
	}
	m := schema.ToMap()
	assert.Equal(t, "object", m["type"])
	assert.Equal(t, []string{"category"}, m["required"])
	props := m["properties"].(map[string]any)
	assert.Equal(t, []string{"a", "b"}, props["category"].(map[string]any)["enum"])
	assert.Equal(t, "string", props["tags"].(map[string]any)["items"].(map[string]any)["type"])
}
